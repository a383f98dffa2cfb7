package fetcher

import (
	"sync"

	"github.com/hanpama/graphcache/internal/interceptor"
)

// cacheAndNetworkState buffers both legs so that the cache leg is always
// delivered first and the caller completes only after the network leg.
type cacheAndNetworkState struct {
	mu sync.Mutex
	cb interceptor.Callback

	cacheResponse  *interceptor.Response
	cacheFailed    bool
	cacheDone      bool
	cacheDelivered bool

	networkResponses []interceptor.Response
	networkErr       error
	networkDone      bool

	terminated bool
	// dispatching is set while one goroutine delivers to cb. Updates
	// arriving meanwhile only record state; the dispatcher picks them up.
	dispatching bool
}

func cacheAndNetwork(req interceptor.Request, next interceptor.Chain, executor interceptor.Executor, cb interceptor.Callback) {
	s := &cacheAndNetworkState{cb: cb}
	next.Proceed(req.WithFetchFromCache(true), executor, interceptor.CallbackFuncs{
		Response: func(resp interceptor.Response) {
			s.update(func() { s.cacheResponse = &resp })
		},
		Fetch:     cb.OnFetch,
		Failure:   func(error) { s.update(func() { s.cacheFailed, s.cacheDone = true, true }) },
		Completed: func() { s.update(func() { s.cacheDone = true }) },
	})
	next.Proceed(req.WithFetchFromCache(false), executor, interceptor.CallbackFuncs{
		Response: func(resp interceptor.Response) {
			s.update(func() { s.networkResponses = append(s.networkResponses, resp) })
		},
		Fetch:     cb.OnFetch,
		Failure:   func(err error) { s.update(func() { s.networkErr, s.networkDone = err, true }) },
		Completed: func() { s.update(func() { s.networkDone = true }) },
	})
}

func (s *cacheAndNetworkState) update(fn func()) {
	s.mu.Lock()
	fn()
	if s.dispatching {
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	for {
		deliveries := s.ready()
		if len(deliveries) == 0 {
			s.dispatching = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		for _, deliver := range deliveries {
			deliver()
		}
		s.mu.Lock()
	}
}

// ready takes whatever the ordering allows to be delivered now. Called
// with mu held.
func (s *cacheAndNetworkState) ready() []func() {
	if s.terminated || !s.cacheDone {
		return nil
	}
	var out []func()
	if !s.cacheDelivered {
		s.cacheDelivered = true
		if s.cacheResponse != nil {
			resp := *s.cacheResponse
			out = append(out, func() { s.cb.OnResponse(resp) })
		}
	}
	for _, resp := range s.networkResponses {
		out = append(out, func() { s.cb.OnResponse(resp) })
	}
	s.networkResponses = nil
	if !s.networkDone {
		return out
	}
	s.terminated = true
	if s.networkErr != nil && s.cacheFailed {
		err := s.networkErr
		return append(out, func() { s.cb.OnFailure(err) })
	}
	return append(out, s.cb.OnCompleted)
}
