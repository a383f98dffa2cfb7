package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/cache/memory"
	"github.com/hanpama/graphcache/internal/cache/rediscache"
	"github.com/hanpama/graphcache/internal/cache/sqlcache"
	"github.com/hanpama/graphcache/internal/client"
	"github.com/hanpama/graphcache/internal/config"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/interceptor"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/metrics"
	"github.com/hanpama/graphcache/internal/operation"
	"github.com/hanpama/graphcache/internal/otel"
	"github.com/hanpama/graphcache/internal/transport"
)

// stack is everything a command needs to run operations.
type stack struct {
	client  *client.Client
	schema  *language.Schema
	logger  *slog.Logger
	closers []func() error
}

func (s *stack) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// setupTelemetry installs the event bus and starts the exporters that are
// configured.
func setupTelemetry(cfg *config.Config, s *stack) error {
	eventbus.Use(eventbus.New())
	s.closers = append(s.closers, func() error { eventbus.Use(nil); return nil })

	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		m := metrics.New()
		unsubscribe := m.Subscribe()
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server stopped", slog.Any("err", err))
			}
		}()
		s.closers = append(s.closers, func() error {
			unsubscribe()
			return srv.Close()
		})
	}

	shutdown, err := otel.Setup(cfg.Telemetry.OTelEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	s.closers = append(s.closers, func() error { return shutdown(context.Background()) })
	return nil
}

// openCaches builds memory -> redis -> sqlite, skipping what is not
// configured.
func openCaches(ctx context.Context, cfg *config.Config, s *stack) (cache.NormalizedCache, error) {
	caches := []cache.NormalizedCache{memory.New(memory.WithPolicy(cfg.EvictionPolicy()))}
	if rc := cfg.RedisConfig(); rc != nil {
		r, err := rediscache.New(*rc)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		s.closers = append(s.closers, r.Close)
		caches = append(caches, r)
	}
	if path := cfg.Cache.SQLitePath; path != "" {
		sc, err := sqlcache.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("sqlite cache: %w", err)
		}
		s.closers = append(s.closers, sc.Close)
		caches = append(caches, sc)
	}
	return cache.Chain(caches...), nil
}

func newTransport(cfg *config.Config, logger *slog.Logger) (transport.Transport, error) {
	t := transport.HTTPTransport(&http.Client{})
	signer, err := cfg.Signer()
	if err != nil {
		return nil, err
	}
	if signer != nil {
		t = &transport.SigningTransport{Next: t, Signer: signer}
	}
	return transport.NewRetryTransport(t, cfg.RetryPolicy(), transport.WithRetryLogger(logger)), nil
}

// headerInterceptor adds static headers to every request.
func headerInterceptor(headers map[string]string) interceptor.Interceptor {
	return interceptor.Func(func(req interceptor.Request, next interceptor.Chain, executor interceptor.Executor, cb interceptor.Callback) {
		h := req.Header.Clone()
		if h == nil {
			h = http.Header{}
		}
		for k, v := range headers {
			h.Set(k, v)
		}
		req.Header = h
		next.Proceed(req, executor, cb)
	})
}

func newStack(ctx context.Context, cfg *config.Config, stderr io.Writer) (*stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return nil, err
	}
	s := &stack{logger: logger}
	if err := setupTelemetry(cfg, s); err != nil {
		_ = s.Close()
		return nil, err
	}
	c, err := openCaches(ctx, cfg, s)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	t, err := newTransport(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if cfg.Schema != "" {
		sdl, err := os.ReadFile(cfg.Schema)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("read schema: %w", err)
		}
		s.schema, err = language.LoadSchema(filepath.Base(cfg.Schema), string(sdl))
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("load schema: %w", err)
		}
	}
	policy, _ := cfg.Policy()

	opts := []client.Option{
		client.WithTransport(t),
		client.WithNormalizedCache(c),
		client.WithDefaultFetchPolicy(policy),
		client.WithPersistedQueries(cfg.PersistedQueries),
		client.WithHTTPGetForQueries(cfg.HTTPGet),
		client.WithLogger(logger),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, client.WithInterceptors(headerInterceptor(cfg.Headers)))
	}
	s.client = client.New(cfg.Endpoint, opts...)
	return s, nil
}

// newOperation parses source against the stack's schema when one is
// loaded.
func (s *stack) newOperation(source string, variables map[string]any, name string) (*operation.Operation, error) {
	var opts []operation.Option
	if s.schema != nil {
		opts = append(opts, operation.WithSchema(s.schema))
	}
	if name != "" {
		opts = append(opts, operation.WithOperationName(name))
	}
	return operation.New(source, variables, opts...)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
