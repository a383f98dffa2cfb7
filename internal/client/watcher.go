package client

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/fetcher"
	"github.com/hanpama/graphcache/internal/keyset"
	"github.com/hanpama/graphcache/internal/operation"
)

// Watcher delivers the result of a query and delivers it again whenever a
// store change touches the records the last result was built from.
type Watcher struct {
	client *Client
	ctx    context.Context
	op     *operation.Operation
	policy fetcher.Policy

	mu            sync.Mutex
	state         State
	cb            Callback
	refetchPolicy fetcher.Policy
	call          *Call
	dependent     keyset.Set
	unsubscribe   func()
}

func newWatcher(c *Client, ctx context.Context, op *operation.Operation, p fetcher.Policy) *Watcher {
	return &Watcher{client: c, ctx: ctx, op: op, policy: p, refetchPolicy: fetcher.CacheOnly}
}

func (w *Watcher) Operation() *operation.Operation { return w.op }

func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// RefetchPolicy sets the policy used by refetches. The default is
// cache-only.
func (w *Watcher) RefetchPolicy(p fetcher.Policy) *Watcher {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refetchPolicy = p
	return w
}

// EnqueueAndWatch runs the first fetch and starts watching the store.
func (w *Watcher) EnqueueAndWatch(cb Callback) error {
	w.mu.Lock()
	switch w.state {
	case Canceled:
		w.mu.Unlock()
		return ErrCanceled
	case Active, Terminated:
		w.mu.Unlock()
		return ErrAlreadyExecuted
	}
	w.state = Active
	w.cb = cb
	w.mu.Unlock()

	w.client.tracker.register()
	unsubscribe := w.client.store.Subscribe(w.onChange)
	w.mu.Lock()
	w.unsubscribe = unsubscribe
	w.mu.Unlock()
	if err := w.fetch(w.policy); err != nil {
		w.terminate()
		return err
	}
	return nil
}

// Refetch re-runs the query with the refetch policy. It returns
// ErrIllegalState unless the watcher is active.
func (w *Watcher) Refetch() error {
	w.mu.Lock()
	if w.state != Active {
		w.mu.Unlock()
		return ErrIllegalState
	}
	p := w.refetchPolicy
	w.mu.Unlock()
	if err := w.fetch(p); err != nil {
		w.terminate()
		return err
	}
	return nil
}

func (w *Watcher) fetch(p fetcher.Policy) error {
	call := w.client.Call(w.ctx, w.op, p, nil)

	w.mu.Lock()
	if w.state != Active {
		w.mu.Unlock()
		return ErrIllegalState
	}
	prev := w.call
	w.call = call
	w.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	err := call.Enqueue(CallbackFuncs{
		Response: func(resp *operation.Response) {
			cb := w.current(call)
			if cb == nil {
				return
			}
			w.mu.Lock()
			w.dependent = resp.DependentKeys
			w.mu.Unlock()
			cb.OnResponse(resp)
		},
		Status: func(s Status) {
			if cb := w.current(call); cb != nil {
				cb.OnStatus(s)
			}
		},
		Failure: func(err error) {
			if w.current(call) == nil {
				return
			}
			if cb := w.terminate(); cb != nil {
				cb.OnFailure(err)
			}
		},
	})
	if err != nil {
		w.client.logger.Warn("watcher fetch not enqueued",
			slog.String("operation", w.op.Name()), slog.Any("err", err))
	}
	return err
}

// current returns the callback while call is the watcher's live call.
func (w *Watcher) current(call *Call) Callback {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Active || w.call != call {
		return nil
	}
	return w.cb
}

func (w *Watcher) onChange(changed keyset.Set, origin uuid.UUID) {
	w.mu.Lock()
	if w.state != Active {
		w.mu.Unlock()
		return
	}
	if w.call != nil && origin != uuid.Nil && origin == w.call.RequestID() {
		w.mu.Unlock()
		return
	}
	if !keyset.Intersects(changed, w.dependent) {
		w.mu.Unlock()
		return
	}
	p := w.refetchPolicy
	w.mu.Unlock()

	eventbus.Publish(context.Background(), events.WatcherRefetch{OperationName: w.op.Name(), ChangedKeys: changed.Len()})
	if err := w.fetch(p); err != nil {
		if cb := w.terminate(); cb != nil {
			cb.OnFailure(err)
		}
	}
}

// terminate ends the watcher after a failure. It is a no-op unless the
// watcher is active.
func (w *Watcher) terminate() Callback {
	w.mu.Lock()
	if w.state != Active {
		w.mu.Unlock()
		return nil
	}
	cb := w.cb
	w.cb = nil
	w.state = Terminated
	unsubscribe := w.unsubscribe
	w.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	w.client.tracker.unregister()
	return cb
}

// Cancel stops watching and cancels the in-flight fetch. The callback
// receives OnCanceled.
func (w *Watcher) Cancel() {
	w.mu.Lock()
	switch w.state {
	case Idle:
		w.state = Canceled
		w.mu.Unlock()
		return
	case Active:
	default:
		w.mu.Unlock()
		return
	}
	cb := w.cb
	w.cb = nil
	w.state = Canceled
	call := w.call
	unsubscribe := w.unsubscribe
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if call != nil {
		call.Cancel()
	}
	w.client.tracker.unregister()
	if cb == nil {
		w.client.logger.Debug("watcher canceled without a callback", slog.String("operation", w.op.Name()))
		return
	}
	cb.OnCanceled()
}
