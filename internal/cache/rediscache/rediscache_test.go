package rediscache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/record"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("GRAPHCACHE_REDIS_ADDR")
	if addr == "" {
		t.Skip("GRAPHCACHE_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	c := NewWithClient(client, Config{KeyPrefix: "graphcache-test:" + uuid.NewString() + ":"})
	t.Cleanup(func() {
		_ = c.Clear(context.Background())
		_ = c.Close()
	})
	return c
}

func post(title string) *record.Record {
	r := record.New("Post:1")
	r.Set("title", title)
	r.Set("author", record.Reference{Key: "User:1"})
	return r
}

func TestMergeAndLoad(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	changed, err := c.Merge(ctx, post("A"), nil)
	require.NoError(t, err)
	require.Zero(t, changed.Len())

	changed, err = c.Merge(ctx, post("B"), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Post:1.title"}, changed.Sorted())

	got, err := c.LoadRecord(ctx, "Post:1", nil)
	require.NoError(t, err)
	require.Equal(t, "B", got.Fields["title"])
	require.Equal(t, record.Reference{Key: "User:1"}, got.Fields["author"])

	all, err := c.LoadRecords(ctx, []string{"Post:1", "missing"}, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRemoveCascade(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	user := record.New("User:1")
	user.Set("name", "kim")
	_, err := c.MergeAll(ctx, []*record.Record{post("A"), user}, nil)
	require.NoError(t, err)

	ok, err := c.Remove(ctx, "Post:1", true)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := c.LoadRecord(ctx, "User:1", cache.NewHeaders(cache.EvictAfterRead))
	require.NoError(t, err)
	require.Nil(t, got)
}
