package sqlcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/record"
)

func newTestCache(t *testing.T) (*Cache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, path
}

func post(id, title string) *record.Record {
	r := record.New("Post:" + id)
	r.Set("id", id)
	r.Set("title", title)
	r.Set("likes", 3)
	return r
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	c, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = c.Merge(ctx, post("1", "A"), nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(ctx, path)
	require.NoError(t, err)
	defer c.Close()
	got, err := c.LoadRecord(ctx, "Post:1", nil)
	require.NoError(t, err)
	require.True(t, record.Equal(post("1", "A").Fields, got.Fields))
}

func TestMergeSemantics(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	changed, err := c.MergeAll(ctx, []*record.Record{post("1", "A"), post("2", "B")}, nil)
	require.NoError(t, err)
	require.Zero(t, changed.Len())

	changed, err = c.MergeAll(ctx, []*record.Record{post("1", "A2"), post("2", "B")}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Post:1.title"}, changed.Sorted())

	changed, err = c.Merge(ctx, post("1", "A2"), nil)
	require.NoError(t, err)
	require.Zero(t, changed.Len())

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Post:1", "Post:2"}, keys)

	_, err = c.Merge(ctx, post("3", "C"), cache.NewHeaders(cache.DoNotStore))
	require.NoError(t, err)
	got, err := c.LoadRecord(ctx, "Post:3", nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestReferencesSurviveStorage(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	root := record.New("QUERY_ROOT")
	root.Set("feed", []any{record.Reference{Key: "Post:1"}, nil})
	_, err := c.Merge(ctx, root, nil)
	require.NoError(t, err)

	got, err := c.LoadRecord(ctx, "QUERY_ROOT", nil)
	require.NoError(t, err)
	require.Equal(t, []any{record.Reference{Key: "Post:1"}, nil}, got.Fields["feed"])
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	root := record.New("QUERY_ROOT")
	root.Set("post", record.Reference{Key: "Post:1"})
	_, err := c.MergeAll(ctx, []*record.Record{root, post("1", "A"), post("2", "B")}, nil)
	require.NoError(t, err)

	ok, err := c.Remove(ctx, "QUERY_ROOT", true)
	require.NoError(t, err)
	require.True(t, ok)
	keys, _ := c.Keys(ctx)
	require.Equal(t, []string{"Post:2"}, keys)

	got, err := c.LoadRecord(ctx, "Post:2", cache.NewHeaders(cache.EvictAfterRead))
	require.NoError(t, err)
	require.NotNil(t, got)
	n, err := c.RemoveAll(ctx, []string{"Post:2"})
	require.NoError(t, err)
	require.Zero(t, n)

	_, _ = c.Merge(ctx, post("4", "D"), nil)
	require.NoError(t, c.Clear(ctx))
	dump, err := c.Dump(ctx)
	require.NoError(t, err)
	require.Empty(t, dump)
}
