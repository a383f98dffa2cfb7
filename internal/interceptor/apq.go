package interceptor

import (
	"strings"
	"sync/atomic"

	"github.com/hanpama/graphcache/internal/operation"
)

const persistedQueryNotFound = "PersistedQueryNotFound"

// PersistedQueryInterceptor sends the document hash instead of the document
// and retries with the full document when the server does not know the
// hash. It must sit between the parse and cache stages.
type PersistedQueryInterceptor struct{}

func NewPersistedQueryInterceptor() *PersistedQueryInterceptor { return &PersistedQueryInterceptor{} }

func (p *PersistedQueryInterceptor) Intercept(req Request, next Chain, executor Executor, cb Callback) {
	if req.FetchFromCache {
		next.Proceed(req, executor, cb)
		return
	}
	req.Extensions = withPersistedQuery(req.Extensions, req.Operation.ID())
	hashOnly := req
	hashOnly.OmitDocument = true

	var retrying atomic.Bool
	next.Proceed(hashOnly, executor, CallbackFuncs{
		Response: func(resp Response) {
			if resp.Parsed != nil && notFound(resp.Parsed.Errors) {
				retrying.Store(true)
				next.Proceed(req, executor, cb)
				return
			}
			cb.OnResponse(resp)
		},
		Fetch:   cb.OnFetch,
		Failure: cb.OnFailure,
		Completed: func() {
			if !retrying.Load() {
				cb.OnCompleted()
			}
		},
	})
}

func withPersistedQuery(ext map[string]any, hash string) map[string]any {
	out := make(map[string]any, len(ext)+1)
	for k, v := range ext {
		out[k] = v
	}
	out["persistedQuery"] = map[string]any{"version": 1, "sha256Hash": hash}
	return out
}

func notFound(errs []operation.Error) bool {
	for _, e := range errs {
		if e.Message == persistedQueryNotFound {
			return true
		}
		if code, _ := e.Extensions["code"].(string); strings.EqualFold(code, "PERSISTED_QUERY_NOT_FOUND") {
			return true
		}
	}
	return false
}

func (p *PersistedQueryInterceptor) Dispose() {}
