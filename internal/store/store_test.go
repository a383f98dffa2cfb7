package store

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/keyset"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/normalizer"
	"github.com/hanpama/graphcache/internal/operation"
	"github.com/hanpama/graphcache/internal/record"
)

const postQuery = `{ post(id: "1") { __typename id title } }`

func postData(title string) map[string]any {
	return map[string]any{"post": map[string]any{"__typename": "Post", "id": "1", "title": title}}
}

func TestWriteRead(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	op := operation.MustNew(postQuery, nil)

	_, err := s.Read(ctx, op, nil)
	require.ErrorIs(t, err, normalizer.ErrCacheMiss)

	changed, err := s.Write(ctx, op, postData("A"), nil)
	require.NoError(t, err)
	require.Zero(t, changed.Len())

	resp, err := s.Read(ctx, op, nil)
	require.NoError(t, err)
	require.True(t, resp.FromCache)
	if diff := cmp.Diff(postData("A"), resp.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.True(t, resp.DependentKeys.Has("Post:1.title"))

	changed, err = s.Write(ctx, op, postData("B"), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Post:1.title"}, changed.Sorted())
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	op := operation.MustNew(postQuery, nil)
	require.NoError(t, s.WriteAndPublish(ctx, op, postData("A"), nil))

	var (
		mu  sync.Mutex
		got []keyset.Set
	)
	unsubscribe := s.Subscribe(func(changed keyset.Set, origin uuid.UUID) {
		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, uuid.Nil, origin)
		got = append(got, changed)
	})

	require.NoError(t, s.WriteAndPublish(ctx, op, postData("A"), nil))
	require.NoError(t, s.WriteAndPublish(ctx, op, postData("B"), nil))
	unsubscribe()
	unsubscribe()
	require.NoError(t, s.WriteAndPublish(ctx, op, postData("C"), nil))

	require.Len(t, got, 1, "identical writes and writes after unsubscribe are not delivered")
	require.True(t, got[0].Has("Post:1.title"))
}

func TestOptimisticUpdates(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	op := operation.MustNew(postQuery, nil)
	_, err := s.Write(ctx, op, postData("A"), nil)
	require.NoError(t, err)

	first, second := uuid.New(), uuid.New()
	changed, err := s.WriteOptimisticUpdates(ctx, op, postData("optimistic 1"), first)
	require.NoError(t, err)
	require.True(t, changed.Has("Post:1.title"))
	_, err = s.WriteOptimisticUpdates(ctx, op, postData("optimistic 2"), second)
	require.NoError(t, err)

	title := func() string {
		resp, err := s.Read(ctx, op, nil)
		require.NoError(t, err)
		return resp.Data["post"].(map[string]any)["title"].(string)
	}
	require.Equal(t, "optimistic 2", title())

	changed = s.RollbackOptimisticUpdates(second)
	require.True(t, changed.Has("Post:1.title"))
	require.Equal(t, "optimistic 1", title())

	s.RollbackOptimisticUpdates(first)
	require.Equal(t, "A", title())
}

func TestFragments(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	frag, err := operation.NewFragment(`fragment PostTitle on Post { id title }`, "", nil)
	require.NoError(t, err)

	_, err = s.WriteFragment(ctx, frag, "Post:1", map[string]any{"id": "1", "title": "A"})
	require.NoError(t, err)

	got, err := s.ReadFragment(ctx, frag, "Post:1")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"id": "1", "title": "A"}, got)

	resp, err := s.Read(ctx, operation.MustNew(`{ post(id: "1") { id title } }`, nil), nil)
	require.ErrorIs(t, err, normalizer.ErrCacheMiss, "the query root has no post field yet")
	require.Nil(t, resp)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	op := operation.MustNew(postQuery, nil)
	_, err := s.Write(ctx, op, postData("A"), nil)
	require.NoError(t, err)

	ok, err := s.Remove(ctx, "Post:1", false)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.Read(ctx, op, nil)
	require.ErrorIs(t, err, normalizer.ErrCacheMiss)

	_, err = s.Write(ctx, op, postData("A"), nil)
	require.NoError(t, err)
	n, err := s.RemoveAll(ctx, []string{"Post:1", "QUERY_ROOT", "nope"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = s.Write(ctx, op, postData("A"), nil)
	require.NoError(t, err)
	require.NoError(t, s.ClearAll(ctx))
	dump, err := s.Dump(ctx)
	require.NoError(t, err)
	require.Empty(t, dump)
}

func TestDoNotStore(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	op := operation.MustNew(postQuery, nil)
	_, err := s.Write(ctx, op, postData("A"), cache.NewHeaders(cache.DoNotStore))
	require.NoError(t, err)
	_, err = s.Read(ctx, op, nil)
	require.ErrorIs(t, err, normalizer.ErrCacheMiss)
}

func TestTransactions(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	op := operation.MustNew(postQuery, nil)
	_, err := s.Write(ctx, op, postData("A"), nil)
	require.NoError(t, err)

	err = s.WriteTransaction(nil, func(tx *WriteTx) error {
		r, err := tx.LoadRecord(ctx, "Post:1")
		if err != nil {
			return err
		}
		r.Set("title", "edited")
		_, err = tx.Merge(ctx, r)
		return err
	})
	require.NoError(t, err)

	err = s.ReadTransaction(nil, func(tx *ReadTx) error {
		rs, err := tx.LoadRecords(ctx, []string{"Post:1", "missing"})
		require.Len(t, rs, 1)
		require.Equal(t, "edited", rs[0].Fields["title"])
		return err
	})
	require.NoError(t, err)
}

func TestReadThroughArgumentKeys(t *testing.T) {
	ctx := context.Background()
	schema, err := language.LoadSchema("schema.graphql", `
type Query { node(id: ID!): Node post(id: ID!): Post feed: [Post] }
interface Node { id: ID! }
type Post implements Node { id: ID! title: String }
`)
	require.NoError(t, err)

	t.Run("interface field", func(t *testing.T) {
		s := New(nil)
		op := operation.MustNew(`query Node($id: ID!) { node(id: $id) { __typename id ... on Post { title } } }`,
			map[string]any{"id": "1"}, operation.WithSchema(schema))
		data := map[string]any{"node": map[string]any{"__typename": "Post", "id": "1", "title": "A"}}
		_, err := s.Write(ctx, op, data, nil)
		require.NoError(t, err)

		resp, err := s.Read(ctx, op, nil)
		require.NoError(t, err)
		if diff := cmp.Diff(data, resp.Data); diff != "" {
			t.Fatalf("data mismatch (-want +got):\n%s", diff)
		}
		require.True(t, resp.DependentKeys.Has("Post:1.title"))
	})

	t.Run("entity stored by another operation", func(t *testing.T) {
		s := New(nil)
		feed := operation.MustNew(`{ feed { __typename id title } }`, nil, operation.WithSchema(schema))
		_, err := s.Write(ctx, feed, map[string]any{"feed": []any{
			map[string]any{"__typename": "Post", "id": "1", "title": "A"},
		}}, nil)
		require.NoError(t, err)

		post := operation.MustNew(`{ post(id: "1") { __typename id title } }`, nil, operation.WithSchema(schema))
		resp, err := s.Read(ctx, post, nil)
		require.NoError(t, err)
		if diff := cmp.Diff(postData("A"), resp.Data); diff != "" {
			t.Fatalf("data mismatch (-want +got):\n%s", diff)
		}

		node := operation.MustNew(`{ node(id: "1") { id } }`, nil, operation.WithSchema(schema))
		_, err = s.Read(ctx, node, nil)
		require.ErrorIs(t, err, normalizer.ErrCacheMiss, "the concrete type of an interface field is unknown before it is fetched")
	})
}

func TestCascadeRemoveOptimisticRecords(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	op := operation.MustNew(`{ post(id: "1") { __typename id author { __typename id name } } }`, nil)
	_, err := s.Write(ctx, op, map[string]any{"post": map[string]any{
		"__typename": "Post", "id": "1", "author": nil,
	}}, nil)
	require.NoError(t, err)

	// User:1 exists only as an optimistic patch.
	_, err = s.WriteOptimisticUpdates(ctx, op, map[string]any{"post": map[string]any{
		"__typename": "Post", "id": "1",
		"author": map[string]any{"__typename": "User", "id": "1", "name": "Ann"},
	}}, uuid.New())
	require.NoError(t, err)

	load := func(key string) *record.Record {
		var r *record.Record
		require.NoError(t, s.ReadTransaction(nil, func(tx *ReadTx) error {
			var err error
			r, err = tx.LoadRecord(ctx, key)
			return err
		}))
		return r
	}
	require.NotNil(t, load("User:1"))

	ok, err := s.Remove(ctx, "Post:1", true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, load("Post:1"))
	require.Nil(t, load("User:1"))
	require.NotNil(t, load("QUERY_ROOT"))
}
