// Package interceptor composes the request pipeline: an ordered chain of
// handlers that each receive a request and a continuation to the rest of
// the chain.
package interceptor

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/operation"
	"github.com/hanpama/graphcache/internal/record"
)

// FetchSource tells a callback where the next response comes from.
type FetchSource int

const (
	FetchCache FetchSource = iota
	FetchNetwork
)

func (s FetchSource) String() string {
	if s == FetchCache {
		return "cache"
	}
	return "network"
}

// Request travels down the chain by value; handlers derive modified copies.
type Request struct {
	Ctx          context.Context
	Operation    *operation.Operation
	CacheHeaders cache.Headers
	// FetchFromCache selects the cache leg instead of the network leg.
	FetchFromCache bool
	// Optimistic is applied to the store before the network leg of a
	// mutation and rolled back when it ends.
	Optimistic map[string]any
	RequestID  uuid.UUID
	// Header is added to the outgoing HTTP request.
	Header http.Header
	// Extensions is sent as the "extensions" member of the request body.
	Extensions map[string]any
	// OmitDocument leaves the query text out of the request body.
	OmitDocument bool
}

// Context returns r.Ctx or context.Background().
func (r Request) Context() context.Context {
	if r.Ctx == nil {
		return context.Background()
	}
	return r.Ctx
}

// WithFetchFromCache returns a copy of r reading from the cache or not.
func (r Request) WithFetchFromCache(v bool) Request {
	r.FetchFromCache = v
	return r
}

// Response is what handlers pass back up the chain. The network leg fills
// HTTP and Body; parsing adds Parsed and Records.
type Response struct {
	HTTP    *http.Response
	Body    []byte
	Parsed  *operation.Response
	Records []*record.Record
}

// Callback receives the outcome of one request. A handler delivers zero or
// more OnResponse calls followed by exactly one OnCompleted or OnFailure.
type Callback interface {
	OnResponse(Response)
	OnFetch(FetchSource)
	OnFailure(error)
	OnCompleted()
}

// CallbackFuncs implements Callback with optional functions.
type CallbackFuncs struct {
	Response  func(Response)
	Fetch     func(FetchSource)
	Failure   func(error)
	Completed func()
}

func (f CallbackFuncs) OnResponse(r Response) {
	if f.Response != nil {
		f.Response(r)
	}
}

func (f CallbackFuncs) OnFetch(s FetchSource) {
	if f.Fetch != nil {
		f.Fetch(s)
	}
}

func (f CallbackFuncs) OnFailure(err error) {
	if f.Failure != nil {
		f.Failure(err)
	}
}

func (f CallbackFuncs) OnCompleted() {
	if f.Completed != nil {
		f.Completed()
	}
}

// Interceptor is one stage of the chain.
type Interceptor interface {
	Intercept(req Request, next Chain, executor Executor, cb Callback)
	// Dispose releases in-flight resources.
	Dispose()
}

// Func adapts a function to an Interceptor with nothing to dispose.
type Func func(req Request, next Chain, executor Executor, cb Callback)

func (fn Func) Intercept(req Request, next Chain, executor Executor, cb Callback) {
	fn(req, next, executor, cb)
}

func (Func) Dispose() {}

// Chain is an immutable position in a list of interceptors.
type Chain struct {
	interceptors []Interceptor
	index        int
}

// NewChain copies interceptors into a chain positioned at its head.
func NewChain(interceptors ...Interceptor) Chain {
	return Chain{interceptors: append([]Interceptor(nil), interceptors...)}
}

// Proceed hands req to the interceptor at the chain's position, giving it a
// chain advanced by one. Proceeding past the last interceptor is a
// programming error.
func (c Chain) Proceed(req Request, executor Executor, cb Callback) {
	if c.index >= len(c.interceptors) {
		panic("interceptor: proceed called past the end of the chain")
	}
	c.interceptors[c.index].Intercept(req, Chain{interceptors: c.interceptors, index: c.index + 1}, executor, cb)
}

// Dispose disposes every interceptor of the chain, including those before
// its position.
func (c Chain) Dispose() {
	for _, i := range c.interceptors {
		i.Dispose()
	}
}

// Len returns the number of interceptors remaining from the position.
func (c Chain) Len() int { return len(c.interceptors) - c.index }
