package interceptor

import (
	"log/slog"
	"sync"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/keyset"
	"github.com/hanpama/graphcache/internal/store"
)

// CacheInterceptor serves cache-leg requests from the store and writes
// network responses back into it. It never proceeds on the cache leg.
type CacheInterceptor struct {
	store  *store.Store
	logger *slog.Logger
}

func NewCacheInterceptor(s *store.Store, logger *slog.Logger) *CacheInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheInterceptor{store: s, logger: logger}
}

func (c *CacheInterceptor) Intercept(req Request, next Chain, executor Executor, cb Callback) {
	if req.FetchFromCache {
		executor.Execute(func() { c.readFromCache(req, cb) })
		return
	}
	executor.Execute(func() { c.readFromNetwork(req, next, executor, cb) })
}

func (c *CacheInterceptor) readFromCache(req Request, cb Callback) {
	cb.OnFetch(FetchCache)
	resp, err := c.store.Read(req.Context(), req.Operation, req.CacheHeaders)
	if err != nil {
		cb.OnFailure(&cacheReadError{err: err})
		return
	}
	cb.OnResponse(Response{Parsed: resp})
	cb.OnCompleted()
}

func (c *CacheInterceptor) readFromNetwork(req Request, next Chain, executor Executor, cb Callback) {
	ctx := req.Context()
	optimistic := req.Optimistic != nil
	if optimistic {
		changed, err := c.store.WriteOptimisticUpdates(ctx, req.Operation, req.Optimistic, req.RequestID)
		if err != nil {
			c.logger.Warn("failed to write optimistic updates",
				slog.String("operation", req.Operation.Name()), slog.Any("err", err))
		} else {
			c.store.Publish(changed, req.RequestID)
		}
	}

	var once sync.Once
	rollback := func() keyset.Set {
		var changed keyset.Set
		once.Do(func() {
			if optimistic {
				changed = c.store.RollbackOptimisticUpdates(req.RequestID)
			}
		})
		return changed
	}

	cb.OnFetch(FetchNetwork)
	next.Proceed(req, executor, CallbackFuncs{
		Response: func(resp Response) {
			changed := c.writeBack(req, resp)
			changed = keyset.Union(changed, rollback())
			cb.OnResponse(resp)
			c.store.Publish(changed, req.RequestID)
		},
		Failure: func(err error) {
			c.store.Publish(rollback(), req.RequestID)
			cb.OnFailure(err)
		},
		Completed: func() {
			c.store.Publish(rollback(), req.RequestID)
			cb.OnCompleted()
		},
	})
}

func (c *CacheInterceptor) writeBack(req Request, resp Response) keyset.Set {
	if resp.Parsed == nil || len(resp.Records) == 0 {
		return nil
	}
	if resp.Parsed.HasErrors() && !req.CacheHeaders.Has(cache.StorePartialResponses) {
		return nil
	}
	changed, err := c.store.WriteRecords(req.Context(), resp.Records, req.CacheHeaders)
	if err != nil {
		c.logger.Warn("failed to cache network response",
			slog.String("operation", req.Operation.Name()), slog.Any("err", err))
	}
	return changed
}

func (c *CacheInterceptor) Dispose() {}
