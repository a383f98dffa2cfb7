package normalizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/cachekey"
	"github.com/hanpama/graphcache/internal/keyset"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/operation"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/scalar"
)

type mapSource map[string]*record.Record

func (m mapSource) LoadRecord(_ context.Context, key string) (*record.Record, error) {
	return m[key], nil
}

func sourceOf(set *record.Set) mapSource {
	out := mapSource{}
	for _, r := range set.Records() {
		out[r.Key] = r.Clone()
	}
	return out
}

const feedQuery = `query Feed($first: Int) {
  viewer { name }
  feed(first: $first) { __typename id title author { __typename id name } }
}`

var feedData = map[string]any{
	"viewer": map[string]any{"name": "me"},
	"feed": []any{
		map[string]any{"__typename": "Post", "id": "1", "title": "A",
			"author": map[string]any{"__typename": "User", "id": "9", "name": "kim"}},
		map[string]any{"__typename": "Post", "id": "2", "title": "B",
			"author": map[string]any{"__typename": "User", "id": "9", "name": "kim"}},
	},
}

func TestNormalize(t *testing.T) {
	op := operation.MustNew(feedQuery, map[string]any{"first": 2})
	n := New(cachekey.IDResolver{}, nil)

	res, err := n.Normalize(op.Root(), feedData)
	require.NoError(t, err)

	t.Run("records", func(t *testing.T) {
		want := []string{"Post:1", "Post:2", "QUERY_ROOT", "User:9", "viewer"}
		if diff := cmp.Diff(want, res.Records.Keys()); diff != "" {
			t.Fatalf("record keys mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("reference integrity", func(t *testing.T) {
		root := res.Records.Get(cachekey.QueryRoot)
		v, ok := root.Field(`feed({"first":2})`)
		require.True(t, ok)
		refs := v.([]any)
		require.Equal(t, record.Reference{Key: "Post:1"}, refs[0])

		post := res.Records.Get(refs[0].(record.Reference).Key)
		require.Equal(t, "A", post.Fields["title"])
		require.Equal(t, record.Reference{Key: "User:9"}, post.Fields["author"])

		viewerRef, _ := root.Field("viewer")
		require.Equal(t, record.Reference{Key: "viewer"}, viewerRef)
	})

	t.Run("dependent keys", func(t *testing.T) {
		require.True(t, res.DependentKeys.Has(`QUERY_ROOT.feed({"first":2})`))
		require.True(t, res.DependentKeys.Has("Post:2.title"))
		require.True(t, res.DependentKeys.Has("User:9.name"))
	})

	t.Run("read back", func(t *testing.T) {
		r := NewReader(cachekey.IDResolver{}, nil, nil)
		got, err := r.Read(context.Background(), sourceOf(res.Records), op.Root())
		require.NoError(t, err)
		if diff := cmp.Diff(feedData, got.Data); diff != "" {
			t.Fatalf("data mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(res.DependentKeys.Sorted(), got.DependentKeys.Sorted()); diff != "" {
			t.Fatalf("dependent keys mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestNormalizePositional(t *testing.T) {
	op := operation.MustNew(`{ viewer { friends { name } } }`, nil)
	res, err := New(nil, nil).Normalize(op.Root(), map[string]any{
		"viewer": map[string]any{"friends": []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"QUERY_ROOT", "viewer", "viewer.friends.0", "viewer.friends.1"}, res.Records.Keys())
	require.Equal(t, "b", res.Records.Get("viewer.friends.1").Fields["name"])
}

func TestNormalizeCustomScalars(t *testing.T) {
	s, err := language.LoadSchema("schema.graphql", `
		scalar DateTime
		type Query { post(id: ID!): Post }
		type Post { id: ID! createdAt: DateTime }`)
	require.NoError(t, err)
	op, err := operation.New(`{ post(id: "1") { id createdAt } }`, nil, operation.WithSchema(s))
	require.NoError(t, err)

	n := New(cachekey.IDResolver{}, scalar.Default())
	res, err := n.Normalize(op.Root(), map[string]any{
		"post": map[string]any{"id": "1", "createdAt": "2024-03-01T10:00:00Z"},
	})
	require.NoError(t, err)

	when := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.Equal(t, when, res.Data["post"].(map[string]any)["createdAt"])
	// Without a __typename the argument-derived key applies.
	require.Equal(t, "2024-03-01T10:00:00Z", res.Records.Get("Post:1").Fields["createdAt"])

	r := NewReader(cachekey.IDResolver{}, scalar.Default(), nil)
	got, err := r.Read(context.Background(), sourceOf(res.Records), op.Root())
	require.NoError(t, err)
	require.Equal(t, when, got.Data["post"].(map[string]any)["createdAt"])
}

func TestReadFailures(t *testing.T) {
	op := operation.MustNew(feedQuery, map[string]any{"first": 2})
	res, err := New(cachekey.IDResolver{}, nil).Normalize(op.Root(), feedData)
	require.NoError(t, err)
	r := NewReader(cachekey.IDResolver{}, nil, nil)
	ctx := context.Background()

	t.Run("empty cache is a miss", func(t *testing.T) {
		_, err := r.Read(ctx, mapSource{}, op.Root())
		require.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("missing field is a miss", func(t *testing.T) {
		src := sourceOf(res.Records)
		delete(src["User:9"].Fields, "name")
		_, err := r.Read(ctx, src, op.Root())
		var miss *MissError
		require.ErrorAs(t, err, &miss)
		require.Equal(t, &MissError{Key: "User:9", Field: "name"}, miss)
	})

	t.Run("missing single reference is a miss", func(t *testing.T) {
		src := sourceOf(res.Records)
		delete(src, "viewer")
		_, err := r.Read(ctx, src, op.Root())
		require.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("missing list target is corruption", func(t *testing.T) {
		src := sourceOf(res.Records)
		delete(src, "Post:2")
		_, err := r.Read(ctx, src, op.Root())
		var corrupt *CorruptionError
		require.ErrorAs(t, err, &corrupt)
		require.Equal(t, "Post:2", corrupt.Missing)
		require.False(t, errors.Is(err, ErrCacheMiss))
	})

	t.Run("different arguments miss", func(t *testing.T) {
		other := operation.MustNew(feedQuery, map[string]any{"first": 5})
		_, err := r.Read(ctx, sourceOf(res.Records), other.Root())
		require.ErrorIs(t, err, ErrCacheMiss)
	})
}

func TestDependentKeysIntersect(t *testing.T) {
	op := operation.MustNew(`{ post(id: "1") { id title } }`, nil)
	res, err := New(cachekey.IDResolver{}, nil).Normalize(op.Root(), map[string]any{
		"post": map[string]any{"__typename": "Post", "id": "1", "title": "A"},
	})
	require.NoError(t, err)
	require.True(t, keyset.Intersects(res.DependentKeys, keyset.New("Post:1.title")))
	require.False(t, keyset.Intersects(res.DependentKeys, keyset.New("Post:2.title")))
}
