// Package fetcher implements fetch policies as stateless interceptors that
// choose between the cache and network legs of the chain.
package fetcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hanpama/graphcache/internal/interceptor"
	"github.com/hanpama/graphcache/internal/operation"
)

var ErrUnknownPolicy = errors.New("fetcher: unknown fetch policy")

// Policy names a fetch strategy.
type Policy int

const (
	CacheFirst Policy = iota
	CacheOnly
	NetworkOnly
	NetworkFirst
	CacheAndNetwork
)

var policyNames = map[Policy]string{
	CacheFirst:      "cache-first",
	CacheOnly:       "cache-only",
	NetworkOnly:     "network-only",
	NetworkFirst:    "network-first",
	CacheAndNetwork: "cache-and-network",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts the names printed by Policy.String, case-insensitively
// and with underscores in place of dashes.
func ParsePolicy(s string) (Policy, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for p, name := range policyNames {
		if name == norm {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Interceptor returns the strategy implementing p.
func (p Policy) Interceptor() interceptor.Interceptor {
	switch p {
	case CacheOnly:
		return interceptor.Func(cacheOnly)
	case NetworkOnly:
		return interceptor.Func(networkOnly)
	case NetworkFirst:
		return interceptor.Func(networkFirst)
	case CacheAndNetwork:
		return interceptor.Func(cacheAndNetwork)
	default:
		return interceptor.Func(cacheFirst)
	}
}

// emptyCacheResponse stands in for a cache miss under cache-only.
func emptyCacheResponse(op *operation.Operation) interceptor.Response {
	return interceptor.Response{Parsed: &operation.Response{Operation: op, FromCache: true}}
}

func cacheOnly(req interceptor.Request, next interceptor.Chain, executor interceptor.Executor, cb interceptor.Callback) {
	next.Proceed(req.WithFetchFromCache(true), executor, interceptor.CallbackFuncs{
		Response: cb.OnResponse,
		Fetch:    cb.OnFetch,
		Failure: func(error) {
			cb.OnResponse(emptyCacheResponse(req.Operation))
			cb.OnCompleted()
		},
		Completed: cb.OnCompleted,
	})
}

func networkOnly(req interceptor.Request, next interceptor.Chain, executor interceptor.Executor, cb interceptor.Callback) {
	next.Proceed(req.WithFetchFromCache(false), executor, cb)
}

func cacheFirst(req interceptor.Request, next interceptor.Chain, executor interceptor.Executor, cb interceptor.Callback) {
	next.Proceed(req.WithFetchFromCache(true), executor, interceptor.CallbackFuncs{
		Response: cb.OnResponse,
		Fetch:    cb.OnFetch,
		Failure: func(error) {
			next.Proceed(req.WithFetchFromCache(false), executor, cb)
		},
		Completed: cb.OnCompleted,
	})
}

func networkFirst(req interceptor.Request, next interceptor.Chain, executor interceptor.Executor, cb interceptor.Callback) {
	next.Proceed(req.WithFetchFromCache(false), executor, interceptor.CallbackFuncs{
		Response: cb.OnResponse,
		Fetch:    cb.OnFetch,
		Failure: func(networkErr error) {
			next.Proceed(req.WithFetchFromCache(true), executor, interceptor.CallbackFuncs{
				Response:  cb.OnResponse,
				Fetch:     cb.OnFetch,
				Failure:   func(error) { cb.OnFailure(networkErr) },
				Completed: cb.OnCompleted,
			})
		},
		Completed: cb.OnCompleted,
	})
}
