// Package metrics exports pipeline telemetry as Prometheus metrics. The
// collectors are fed by eventbus subscribers.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/normalizer"
)

var durationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all graphcache collectors on a private registry.
type Metrics struct {
	callsTotal       *prometheus.CounterVec
	callDuration     *prometheus.HistogramVec
	activeCalls      prometheus.Gauge
	cacheReadsTotal  *prometheus.CounterVec
	cacheReadLatency prometheus.Histogram
	cacheMergesTotal *prometheus.CounterVec
	changedKeysTotal prometheus.Counter
	networkTotal     *prometheus.CounterVec
	networkDuration  prometheus.Histogram
	retriesTotal     *prometheus.CounterVec
	refetchesTotal   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new metrics instance.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphcache",
				Name:      "calls_total",
				Help:      "Total number of finished calls",
			},
			[]string{"operation_type", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "graphcache",
				Name:      "call_duration_seconds",
				Help:      "Call duration from enqueue to terminal callback",
				Buckets:   durationBuckets,
			},
			[]string{"operation_type"},
		),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphcache",
			Name:      "active_calls",
			Help:      "Number of calls in flight",
		}),
		cacheReadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphcache",
				Name:      "cache_reads_total",
				Help:      "Total number of store reads by result",
			},
			[]string{"result"},
		),
		cacheReadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "graphcache",
			Name:      "cache_read_duration_seconds",
			Help:      "Store read duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		cacheMergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphcache",
				Name:      "cache_merged_records_total",
				Help:      "Total number of records merged into the store",
			},
			[]string{"optimistic"},
		),
		changedKeysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphcache",
			Name:      "cache_changed_keys_total",
			Help:      "Total number of field keys changed by merges",
		}),
		networkTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphcache",
				Name:      "network_requests_total",
				Help:      "Total number of requests sent to the GraphQL endpoint",
			},
			[]string{"status"},
		),
		networkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "graphcache",
			Name:      "network_duration_seconds",
			Help:      "Network round trip duration in seconds, retries included",
			Buckets:   durationBuckets,
		}),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphcache",
				Name:      "http_retries_total",
				Help:      "Total number of retried transport attempts",
			},
			[]string{"status"},
		),
		refetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphcache",
				Name:      "watcher_refetches_total",
				Help:      "Total number of watcher refetches triggered by store changes",
			},
			[]string{"operation"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.callsTotal,
		m.callDuration,
		m.activeCalls,
		m.cacheReadsTotal,
		m.cacheReadLatency,
		m.cacheMergesTotal,
		m.changedKeysTotal,
		m.networkTotal,
		m.networkDuration,
		m.retriesTotal,
		m.refetchesTotal,
	)
	return m
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Subscribe feeds the collectors from the global event bus.
func (m *Metrics) Subscribe() (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.CallStart) {
			m.activeCalls.Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.CallFinish) {
			m.activeCalls.Dec()
			m.callsTotal.WithLabelValues(e.OperationType, e.Outcome).Inc()
			m.callDuration.WithLabelValues(e.OperationType).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.CacheRead) {
			m.cacheReadsTotal.WithLabelValues(readResult(e)).Inc()
			m.cacheReadLatency.Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.CacheMerge) {
			m.cacheMergesTotal.WithLabelValues(strconv.FormatBool(e.Optimistic)).Add(float64(e.Records))
			m.changedKeysTotal.Add(float64(e.ChangedKeys))
		}),
		eventbus.Subscribe(func(_ context.Context, e events.NetworkFinish) {
			status := "error"
			if e.Status != 0 {
				status = strconv.Itoa(e.Status)
			}
			m.networkTotal.WithLabelValues(status).Inc()
			m.networkDuration.Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.HTTPRetry) {
			m.retriesTotal.WithLabelValues(strconv.Itoa(e.Status)).Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.WatcherRefetch) {
			m.refetchesTotal.WithLabelValues(e.OperationName).Inc()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func readResult(e events.CacheRead) string {
	switch {
	case e.Hit:
		return "hit"
	case errors.Is(e.Err, normalizer.ErrCacheMiss):
		return "miss"
	default:
		return "error"
	}
}
