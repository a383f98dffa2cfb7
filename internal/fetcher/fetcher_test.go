package fetcher

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/interceptor"
	"github.com/hanpama/graphcache/internal/operation"
)

var (
	errMiss    = errors.New("miss")
	errNetwork = errors.New("network down")
)

// legs is a terminal interceptor that answers the cache and network legs
// from canned outcomes.
type legs struct {
	cacheHit     bool
	cacheDelay   time.Duration
	networkOK    bool
	networkDelay time.Duration
	networkCalls atomic.Int32
}

func (l *legs) Intercept(req interceptor.Request, _ interceptor.Chain, executor interceptor.Executor, cb interceptor.Callback) {
	if req.FetchFromCache {
		executor.Execute(func() {
			time.Sleep(l.cacheDelay)
			cb.OnFetch(interceptor.FetchCache)
			if !l.cacheHit {
				cb.OnFailure(errMiss)
				return
			}
			cb.OnResponse(response("cache", true))
			cb.OnCompleted()
		})
		return
	}
	l.networkCalls.Add(1)
	executor.Execute(func() {
		time.Sleep(l.networkDelay)
		cb.OnFetch(interceptor.FetchNetwork)
		if !l.networkOK {
			cb.OnFailure(errNetwork)
			return
		}
		cb.OnResponse(response("network", false))
		cb.OnCompleted()
	})
}

func (l *legs) Dispose() {}

func response(title string, fromCache bool) interceptor.Response {
	return interceptor.Response{Parsed: &operation.Response{
		Data:      map[string]any{"title": title},
		FromCache: fromCache,
	}}
}

type recorder struct {
	mu   sync.Mutex
	log  []string
	err  error
	done chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{})} }

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, s)
}

func (r *recorder) OnResponse(resp interceptor.Response) {
	title, _ := resp.Parsed.Data["title"].(string)
	if title == "" {
		title = "empty"
	}
	r.add("response:" + title)
}

func (r *recorder) OnFetch(interceptor.FetchSource) {}

func (r *recorder) OnFailure(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.add("failure")
	close(r.done)
}

func (r *recorder) OnCompleted() {
	r.add("completed")
	close(r.done)
}

func run(t *testing.T, p Policy, l *legs) *recorder {
	t.Helper()
	rec := newRecorder()
	op := operation.MustNew(`{ title }`, nil)
	interceptor.NewChain(p.Interceptor(), l).Proceed(interceptor.Request{Operation: op}, interceptor.GoExecutor{}, rec)
	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal callback")
	}
	time.Sleep(10 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec
}

func TestCacheOnly(t *testing.T) {
	rec := run(t, CacheOnly, &legs{cacheHit: true})
	require.Equal(t, []string{"response:cache", "completed"}, rec.log)

	l := &legs{}
	rec = run(t, CacheOnly, l)
	require.Equal(t, []string{"response:empty", "completed"}, rec.log, "a miss is an empty cache response")
	require.Zero(t, l.networkCalls.Load())
}

func TestNetworkOnly(t *testing.T) {
	l := &legs{cacheHit: true, networkOK: true}
	rec := run(t, NetworkOnly, l)
	require.Equal(t, []string{"response:network", "completed"}, rec.log)

	rec = run(t, NetworkOnly, &legs{cacheHit: true})
	require.Equal(t, []string{"failure"}, rec.log)
	require.ErrorIs(t, rec.err, errNetwork)
}

func TestCacheFirst(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		l := &legs{cacheHit: true, networkOK: true}
		rec := run(t, CacheFirst, l)
		require.Equal(t, []string{"response:cache", "completed"}, rec.log)
		require.Zero(t, l.networkCalls.Load())
	})

	t.Run("miss issues exactly one network request", func(t *testing.T) {
		l := &legs{networkOK: true}
		rec := run(t, CacheFirst, l)
		require.Equal(t, []string{"response:network", "completed"}, rec.log)
		require.EqualValues(t, 1, l.networkCalls.Load())
	})

	t.Run("miss and network failure", func(t *testing.T) {
		rec := run(t, CacheFirst, &legs{})
		require.ErrorIs(t, rec.err, errNetwork)
	})
}

func TestNetworkFirst(t *testing.T) {
	rec := run(t, NetworkFirst, &legs{cacheHit: true, networkOK: true})
	require.Equal(t, []string{"response:network", "completed"}, rec.log)

	rec = run(t, NetworkFirst, &legs{cacheHit: true})
	require.Equal(t, []string{"response:cache", "completed"}, rec.log)

	rec = run(t, NetworkFirst, &legs{})
	require.Equal(t, []string{"failure"}, rec.log)
	require.ErrorIs(t, rec.err, errNetwork, "the network error is reported, not the cache miss")
}

func TestCacheAndNetwork(t *testing.T) {
	t.Run("cache is delivered first even when slower", func(t *testing.T) {
		rec := run(t, CacheAndNetwork, &legs{cacheHit: true, cacheDelay: 50 * time.Millisecond, networkOK: true})
		require.Equal(t, []string{"response:cache", "response:network", "completed"}, rec.log)
	})

	t.Run("slower network", func(t *testing.T) {
		rec := run(t, CacheAndNetwork, &legs{cacheHit: true, networkOK: true, networkDelay: 50 * time.Millisecond})
		require.Equal(t, []string{"response:cache", "response:network", "completed"}, rec.log)
	})

	t.Run("cache miss", func(t *testing.T) {
		rec := run(t, CacheAndNetwork, &legs{networkOK: true})
		require.Equal(t, []string{"response:network", "completed"}, rec.log)
	})

	t.Run("network failure after cache hit completes", func(t *testing.T) {
		rec := run(t, CacheAndNetwork, &legs{cacheHit: true})
		require.Equal(t, []string{"response:cache", "completed"}, rec.log)
	})

	t.Run("both fail", func(t *testing.T) {
		rec := run(t, CacheAndNetwork, &legs{})
		require.Equal(t, []string{"failure"}, rec.log)
		require.ErrorIs(t, rec.err, errNetwork)
	})
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{CacheFirst, CacheOnly, NetworkOnly, NetworkFirst, CacheAndNetwork} {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
	got, err := ParsePolicy(" NETWORK_ONLY ")
	require.NoError(t, err)
	require.Equal(t, NetworkOnly, got)

	_, err = ParsePolicy("cache-maybe")
	require.ErrorIs(t, err, ErrUnknownPolicy)
}

// heldLegs keeps the callbacks of both legs so a test can answer them in
// any order.
type heldLegs struct {
	cache, network interceptor.Callback
}

func (h *heldLegs) Intercept(req interceptor.Request, _ interceptor.Chain, _ interceptor.Executor, cb interceptor.Callback) {
	if req.FetchFromCache {
		h.cache = cb
		return
	}
	h.network = cb
}

func (h *heldLegs) Dispose() {}

// hookRecorder runs onResponse after recording each response.
type hookRecorder struct {
	*recorder
	onResponse func()
}

func (r hookRecorder) OnResponse(resp interceptor.Response) {
	r.recorder.OnResponse(resp)
	r.onResponse()
}

func TestCacheAndNetworkReentrantCallback(t *testing.T) {
	held := &heldLegs{}
	rec := newRecorder()
	var once sync.Once
	caller := hookRecorder{recorder: rec, onResponse: func() {
		// The caller answers the network leg from inside its own callback.
		once.Do(func() {
			held.network.OnResponse(response("network", false))
			held.network.OnCompleted()
		})
	}}
	op := operation.MustNew(`{ title }`, nil)
	interceptor.NewChain(CacheAndNetwork.Interceptor(), held).Proceed(interceptor.Request{Operation: op}, interceptor.GoExecutor{}, caller)
	require.NotNil(t, held.cache)
	require.NotNil(t, held.network)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		held.cache.OnResponse(response("cache", true))
		held.cache.OnCompleted()
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("delivery deadlocked")
	}
	<-rec.done
	require.Equal(t, []string{"response:cache", "response:network", "completed"}, rec.log)
}
