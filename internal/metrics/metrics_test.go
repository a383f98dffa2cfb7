package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/normalizer"
)

func TestSubscribe(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	m := New()
	unsubscribe := m.Subscribe()
	defer unsubscribe()
	ctx := context.Background()

	eventbus.Publish(ctx, events.CallStart{OperationType: "query"})
	require.Equal(t, 1.0, testutil.ToFloat64(m.activeCalls))
	eventbus.Publish(ctx, events.CacheRead{Hit: true})
	eventbus.Publish(ctx, events.CacheRead{Err: &normalizer.MissError{Key: "QUERY_ROOT"}})
	eventbus.Publish(ctx, events.CacheRead{Err: errors.New("disk")})
	eventbus.Publish(ctx, events.CacheMerge{Records: 3, ChangedKeys: 2})
	eventbus.Publish(ctx, events.HTTPRetry{Status: 503})
	eventbus.Publish(ctx, events.NetworkFinish{Status: 200, Duration: time.Millisecond})
	eventbus.Publish(ctx, events.NetworkFinish{Err: errors.New("refused")})
	eventbus.Publish(ctx, events.WatcherRefetch{OperationName: "Post"})
	eventbus.Publish(ctx, events.CallFinish{OperationType: "query", Outcome: "completed"})

	require.Equal(t, 0.0, testutil.ToFloat64(m.activeCalls))
	require.Equal(t, 1.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("query", "completed")))
	for _, result := range []string{"hit", "miss", "error"} {
		require.Equal(t, 1.0, testutil.ToFloat64(m.cacheReadsTotal.WithLabelValues(result)), result)
	}
	require.Equal(t, 3.0, testutil.ToFloat64(m.cacheMergesTotal.WithLabelValues("false")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.changedKeysTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("503")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.networkTotal.WithLabelValues("200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.networkTotal.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.refetchesTotal.WithLabelValues("Post")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.callsTotal.WithLabelValues("mutation", "failed").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `graphcache_calls_total{operation_type="mutation",outcome="failed"} 1`)
}
