package client

import (
	"log/slog"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/cachekey"
	"github.com/hanpama/graphcache/internal/fetcher"
	"github.com/hanpama/graphcache/internal/interceptor"
	"github.com/hanpama/graphcache/internal/scalar"
	"github.com/hanpama/graphcache/internal/store"
	"github.com/hanpama/graphcache/internal/transport"
)

// Options configures a Client.
//
// Defaults:
// - Transport:    http.DefaultClient
// - Cache:        unbounded in-memory cache
// - Resolver:     cachekey.IDResolver
// - Executor:     a worker pool owned by the client
// - FetchPolicy:  cache-first
// - Dedupe:       true
type Options struct {
	Transport    transport.Transport
	Store        *store.Store
	Cache        cache.NormalizedCache
	Resolver     cachekey.Resolver
	Scalars      *scalar.Registry
	Executor     interceptor.Executor
	FetchPolicy  fetcher.Policy
	CacheHeaders cache.Headers
	Interceptors []interceptor.Interceptor
	Logger       *slog.Logger

	PersistedQueries  bool
	HTTPGetForQueries bool
	Dedupe            bool
}

type Option func(*Options)

func defaultOptions() Options {
	return Options{
		FetchPolicy: fetcher.CacheFirst,
		Logger:      slog.Default(),
		Dedupe:      true,
	}
}

func WithTransport(t transport.Transport) Option { return func(o *Options) { o.Transport = t } }

// WithStore shares an existing store. Cache, resolver and scalar options
// are ignored when a store is given.
func WithStore(s *store.Store) Option { return func(o *Options) { o.Store = s } }

func WithNormalizedCache(c cache.NormalizedCache) Option { return func(o *Options) { o.Cache = c } }
func WithCacheKeyResolver(r cachekey.Resolver) Option     { return func(o *Options) { o.Resolver = r } }
func WithScalarRegistry(r *scalar.Registry) Option        { return func(o *Options) { o.Scalars = r } }
func WithExecutor(e interceptor.Executor) Option          { return func(o *Options) { o.Executor = e } }
func WithDefaultFetchPolicy(p fetcher.Policy) Option      { return func(o *Options) { o.FetchPolicy = p } }
func WithDefaultCacheHeaders(h cache.Headers) Option      { return func(o *Options) { o.CacheHeaders = h } }

// WithInterceptors adds application interceptors ahead of the fetch policy.
func WithInterceptors(is ...interceptor.Interceptor) Option {
	return func(o *Options) { o.Interceptors = append(o.Interceptors, is...) }
}

func WithLogger(l *slog.Logger) Option            { return func(o *Options) { o.Logger = l } }
func WithPersistedQueries(enable bool) Option     { return func(o *Options) { o.PersistedQueries = enable } }
func WithHTTPGetForQueries(enable bool) Option    { return func(o *Options) { o.HTTPGetForQueries = enable } }
func WithRequestDeduplication(enable bool) Option { return func(o *Options) { o.Dedupe = enable } }
