package otel

import (
	"context"
	"sync"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := newSubscriber(otel.Tracer("graphcache"))
	unsubscribe := sub.register()

	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

type subscriber struct {
	tracer    trace.Tracer
	callSpans sync.Map // rid -> trace.Span
	httpSpans sync.Map // rid -> trace.Span
}

func newSubscriber(tracer trace.Tracer) *subscriber { return &subscriber{tracer: tracer} }

func (s *subscriber) register() (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.CallStart) {
			_, span := s.tracer.Start(ctx, "graphql.call")
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.type", e.OperationType),
				attribute.String("graphcache.fetch_policy", e.FetchPolicy),
			)
			s.callSpans.Store(e.RequestID, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.CallFinish) {
			v, ok := s.callSpans.LoadAndDelete(e.RequestID)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(attribute.String("graphcache.outcome", e.Outcome))
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End()
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.CacheRead) {
			rid, _ := reqid.FromContext(ctx)
			if v, ok := s.callSpans.Load(rid); ok {
				v.(trace.Span).AddEvent("cache.read", trace.WithAttributes(
					attribute.String("graphcache.root", e.Key),
					attribute.Bool("graphcache.hit", e.Hit),
				))
			}
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.NetworkStart) {
			rid, _ := reqid.FromContext(ctx)
			parent := ctx
			if v, ok := s.callSpans.Load(rid); ok {
				parent = trace.ContextWithSpan(ctx, v.(trace.Span))
			}
			_, span := s.tracer.Start(parent, "http.request", trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				attribute.String("http.url", e.Request.URL.String()),
			)
			s.httpSpans.Store(rid, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.HTTPRetry) {
			rid, _ := reqid.FromContext(ctx)
			if v, ok := s.httpSpans.Load(rid); ok {
				v.(trace.Span).AddEvent("http.retry", trace.WithAttributes(
					attribute.Int("http.retry.attempt", e.Attempt),
					semconv.HTTPStatusCodeKey.Int(e.Status),
				))
			}
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.NetworkFinish) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.httpSpans.LoadAndDelete(rid)
			if !ok {
				return
			}
			span := v.(trace.Span)
			if e.Status != 0 {
				span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
			}
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
