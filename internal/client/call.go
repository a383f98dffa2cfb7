package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/fetcher"
	"github.com/hanpama/graphcache/internal/interceptor"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/operation"
	"github.com/hanpama/graphcache/internal/reqid"
)

// Call is one execution of an operation. It can be enqueued once; use
// Clone to run the same operation again.
type Call struct {
	client         *Client
	ctx            context.Context
	op             *operation.Operation
	policy         fetcher.Policy
	headers        cache.Headers
	optimistic     map[string]any
	refetchQueries []*operation.Operation

	mu        sync.Mutex
	state     State
	cb        Callback
	requestID uuid.UUID
	cancel    context.CancelFunc
	start     time.Time
}

func (c *Call) Operation() *operation.Operation { return c.op }
func (c *Call) Policy() fetcher.Policy          { return c.policy }

func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestID is assigned when the call is enqueued.
func (c *Call) RequestID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestID
}

// Clone returns an idle call for the same operation and options.
func (c *Call) Clone() *Call {
	return &Call{
		client:         c.client,
		ctx:            c.ctx,
		op:             c.op,
		policy:         c.policy,
		headers:        c.headers,
		optimistic:     c.optimistic,
		refetchQueries: c.refetchQueries,
	}
}

// Enqueue starts the call. cb may be nil, in which case results are
// dropped. A second Enqueue returns ErrAlreadyExecuted, or ErrCanceled if
// the call was canceled first.
func (c *Call) Enqueue(cb Callback) error {
	if c.op.Type() == language.Subscription {
		return ErrSubscriptionUnsupported
	}
	if c.client.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()
	switch c.state {
	case Canceled:
		c.mu.Unlock()
		return ErrCanceled
	case Active, Terminated:
		c.mu.Unlock()
		return ErrAlreadyExecuted
	}
	parent := c.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	ctx, id := reqid.NewContext(ctx)
	c.state = Active
	c.cb = cb
	c.requestID = id
	c.cancel = cancel
	c.start = time.Now()
	c.mu.Unlock()

	c.client.tracker.register()
	eventbus.Publish(ctx, events.CallStart{
		RequestID:     id,
		OperationName: c.op.Name(),
		OperationType: string(c.op.Type()),
		FetchPolicy:   c.policy.String(),
	})
	if cb != nil {
		cb.OnStatus(StatusScheduled)
	}

	req := interceptor.Request{
		Ctx:          ctx,
		Operation:    c.op,
		CacheHeaders: c.headers,
		Optimistic:   c.optimistic,
		RequestID:    id,
	}
	c.client.chain(c.policy).Proceed(req, c.client.executor, interceptor.CallbackFuncs{
		Response:  c.onResponse,
		Fetch:     c.onFetch,
		Failure:   c.onFailure,
		Completed: c.onCompleted,
	})
	return nil
}

// activeCallback returns the callback while the call is active.
func (c *Call) activeCallback() Callback {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return nil
	}
	return c.cb
}

// terminate moves an active call to Terminated and hands out its callback
// exactly once. It reports false if the call already left Active.
func (c *Call) terminate() (Callback, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return nil, false
	}
	cb := c.cb
	c.cb = nil
	c.state = Terminated
	c.cancel()
	return cb, true
}

func (c *Call) onResponse(resp interceptor.Response) {
	if resp.Parsed == nil {
		return
	}
	if cb := c.activeCallback(); cb != nil {
		cb.OnResponse(resp.Parsed)
	}
}

func (c *Call) onFetch(s interceptor.FetchSource) {
	cb := c.activeCallback()
	if cb == nil {
		return
	}
	if s == interceptor.FetchCache {
		cb.OnStatus(StatusFetchCache)
	} else {
		cb.OnStatus(StatusFetchNetwork)
	}
}

func (c *Call) onFailure(err error) {
	cb, ok := c.terminate()
	if !ok {
		return
	}
	c.finish("failed", err)
	if cb != nil {
		cb.OnFailure(err)
	}
}

func (c *Call) onCompleted() {
	if len(c.refetchQueries) > 0 && c.State() == Active {
		c.refetch(func() { c.complete() })
		return
	}
	c.complete()
}

func (c *Call) complete() {
	cb, ok := c.terminate()
	if !ok {
		return
	}
	c.finish("completed", nil)
	if cb != nil {
		cb.OnStatus(StatusCompleted)
	}
}

// refetch runs the refetch queries network-only and calls done after the
// last one ends, whatever its outcome.
func (c *Call) refetch(done func()) {
	var mu sync.Mutex
	remaining := len(c.refetchQueries)
	finished := func() {
		mu.Lock()
		remaining--
		last := remaining == 0
		mu.Unlock()
		if last {
			done()
		}
	}
	for _, op := range c.refetchQueries {
		q := c.client.Call(c.ctx, op, fetcher.NetworkOnly, nil)
		err := q.Enqueue(CallbackFuncs{
			Status: func(s Status) {
				if s == StatusCompleted {
					finished()
				}
			},
			Failure: func(err error) {
				c.client.logger.Warn("refetch query failed",
					slog.String("operation", op.Name()), slog.Any("err", err))
				finished()
			},
			Canceled: finished,
		})
		if err != nil {
			c.client.logger.Warn("refetch query not enqueued",
				slog.String("operation", op.Name()), slog.Any("err", err))
			finished()
		}
	}
}

// Cancel stops the call. An active call's callback receives OnCanceled;
// results that arrive later are dropped.
func (c *Call) Cancel() {
	c.mu.Lock()
	switch c.state {
	case Idle:
		c.state = Canceled
		c.mu.Unlock()
		return
	case Active:
	default:
		c.mu.Unlock()
		return
	}
	cb := c.cb
	c.cb = nil
	c.state = Canceled
	c.cancel()
	id := c.requestID
	c.mu.Unlock()

	c.finish("canceled", nil)
	if cb == nil {
		c.client.logger.Debug("call canceled without a callback",
			slog.String("operation", c.op.Name()), slog.String("request_id", id.String()))
		return
	}
	cb.OnCanceled()
}

func (c *Call) finish(outcome string, err error) {
	c.mu.Lock()
	id, start := c.requestID, c.start
	c.mu.Unlock()
	c.client.tracker.unregister()
	eventbus.Publish(reqid.WithID(context.Background(), id), events.CallFinish{
		RequestID:     id,
		OperationName: c.op.Name(),
		OperationType: string(c.op.Type()),
		Outcome:       outcome,
		Err:           err,
		Duration:      time.Since(start),
	})
}
