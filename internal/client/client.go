// Package client issues operations through the interceptor pipeline and
// tracks their lifecycles: one-shot calls, watchers that refetch when the
// store changes, and prefetches.
package client

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/fetcher"
	"github.com/hanpama/graphcache/internal/interceptor"
	"github.com/hanpama/graphcache/internal/operation"
	"github.com/hanpama/graphcache/internal/store"
)

// Client is safe for concurrent use.
type Client struct {
	opts     Options
	store    *store.Store
	executor interceptor.Executor
	pool     *interceptor.WorkerPool
	tracker  Tracker
	logger   *slog.Logger

	// stages are shared by every call; the fetch policy is spliced in
	// between the application interceptors and these.
	stages []interceptor.Interceptor
	closed atomic.Bool
}

// New creates a client for the GraphQL endpoint URL.
func New(endpoint string, opts ...Option) *Client {
	o := defaultOptions()
	for _, f := range opts {
		f(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	c := &Client{opts: o, logger: o.Logger}
	c.store = o.Store
	if c.store == nil {
		var storeOpts []store.Option
		if o.Resolver != nil {
			storeOpts = append(storeOpts, store.WithResolver(o.Resolver))
		}
		if o.Scalars != nil {
			storeOpts = append(storeOpts, store.WithScalars(o.Scalars))
		}
		storeOpts = append(storeOpts, store.WithLogger(o.Logger))
		c.store = store.New(o.Cache, storeOpts...)
	}
	c.executor = o.Executor
	if c.executor == nil {
		c.pool = interceptor.NewWorkerPool(interceptor.WorkerPoolConfig{Logger: o.Logger})
		c.executor = c.pool
	}

	c.stages = append(c.stages, interceptor.NewCacheInterceptor(c.store, o.Logger))
	if o.PersistedQueries {
		c.stages = append(c.stages, interceptor.NewPersistedQueryInterceptor())
	}
	c.stages = append(c.stages,
		interceptor.NewParseInterceptor(c.store.Normalizer()),
		interceptor.NewNetworkInterceptor(endpoint, o.Transport, interceptor.NetworkOptions{
			UseGETForQueries: o.HTTPGetForQueries,
			Dedupe:           o.Dedupe,
			Logger:           o.Logger,
		}),
	)
	return c
}

func (c *Client) chain(p fetcher.Policy) interceptor.Chain {
	all := make([]interceptor.Interceptor, 0, len(c.opts.Interceptors)+1+len(c.stages))
	all = append(all, c.opts.Interceptors...)
	all = append(all, p.Interceptor())
	all = append(all, c.stages...)
	return interceptor.NewChain(all...)
}

// Store returns the normalized store behind the client.
func (c *Client) Store() *store.Store { return c.store }

// Call prepares op with an explicit policy. Nil headers select the
// client's default cache headers.
func (c *Client) Call(ctx context.Context, op *operation.Operation, p fetcher.Policy, h cache.Headers) *Call {
	if h == nil {
		h = c.opts.CacheHeaders
	}
	return &Call{client: c, ctx: ctx, op: op, policy: p, headers: h}
}

// Query prepares op with the default fetch policy.
func (c *Client) Query(ctx context.Context, op *operation.Operation) *Call {
	return c.Call(ctx, op, c.opts.FetchPolicy, nil)
}

// MutateOption configures a mutation call.
type MutateOption func(*Call)

// WithOptimisticData is written to the store while the mutation is in
// flight and rolled back when it ends.
func WithOptimisticData(data map[string]any) MutateOption {
	return func(call *Call) { call.optimistic = data }
}

// WithRefetchQueries are fetched from the network after the mutation
// succeeds. The mutation completes once they have all finished.
func WithRefetchQueries(ops ...*operation.Operation) MutateOption {
	return func(call *Call) { call.refetchQueries = append(call.refetchQueries, ops...) }
}

// Mutate prepares a mutation. Mutations always go to the network.
func (c *Client) Mutate(ctx context.Context, op *operation.Operation, opts ...MutateOption) *Call {
	call := c.Call(ctx, op, fetcher.NetworkOnly, nil)
	for _, f := range opts {
		f(call)
	}
	return call
}

// Watch prepares a watcher over op with the default fetch policy.
func (c *Client) Watch(ctx context.Context, op *operation.Operation) *Watcher {
	return newWatcher(c, ctx, op, c.opts.FetchPolicy)
}

// Prefetch prepares a network-only fetch whose only effect is the cache
// write.
func (c *Client) Prefetch(ctx context.Context, op *operation.Operation) *Prefetch {
	return &Prefetch{call: c.Call(ctx, op, fetcher.NetworkOnly, nil)}
}

// ActiveCallsCount returns the number of calls, prefetches and watchers in
// flight.
func (c *Client) ActiveCallsCount() int { return c.tracker.ActiveCount() }

// OnIdle registers fn to run whenever the client has nothing in flight.
func (c *Client) OnIdle(fn func()) { c.tracker.OnIdle(fn) }

// Close disposes the pipeline. In-flight network requests are canceled and
// new calls fail with ErrClosed.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.chain(fetcher.CacheFirst).Dispose()
	if c.pool != nil {
		c.pool.Stop()
	}
}
