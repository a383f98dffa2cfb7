package operation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/cachekey"
	"github.com/hanpama/graphcache/internal/language"
)

const testSchema = `
scalar DateTime
type Query { node(id: ID!): Node posts: [Post!]! }
type Mutation { like(id: ID!): Post }
interface Node { id: ID! }
type Post implements Node { id: ID! title: String createdAt: DateTime }
type User implements Node { id: ID! name: String }
`

func responseNames(fields []*Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.ResponseName
	}
	return out
}

func TestNew(t *testing.T) {
	t.Run("selects named operation", func(t *testing.T) {
		op, err := New(`query A { a } mutation B { b }`, nil, WithOperationName("B"))
		require.NoError(t, err)
		require.Equal(t, "B", op.Name())
		require.Equal(t, language.Mutation, op.Type())
		require.Equal(t, cachekey.MutationRoot, op.RootKey())
	})

	t.Run("ambiguous document", func(t *testing.T) {
		_, err := New(`query A { a } query B { b }`, nil)
		require.ErrorIs(t, err, ErrAmbiguousOperation)
	})

	t.Run("default variables", func(t *testing.T) {
		op, err := New(`query Q($first: Int = 10) { posts(first: $first) { id } }`, nil)
		require.NoError(t, err)
		require.Equal(t, map[string]any{"first": int64(10)}, op.Variables())
	})

	t.Run("required variable", func(t *testing.T) {
		_, err := New(`query Q($id: ID!) { post(id: $id) { id } }`, nil)
		require.ErrorIs(t, err, ErrMissingVariable)
	})

	t.Run("id is stable", func(t *testing.T) {
		a := MustNew(`{ a }`, nil)
		b := MustNew(`{ a }`, map[string]any{"x": 1})
		require.Equal(t, a.ID(), b.ID())
		require.Len(t, a.ID(), 64)
	})
}

func TestCollect(t *testing.T) {
	t.Run("skip and include", func(t *testing.T) {
		op := MustNew(`query Q($s: Boolean!, $i: Boolean!) { a @skip(if: $s) b @include(if: $i) c }`,
			map[string]any{"s": true, "i": false})
		got := responseNames(op.Root().Fields())
		if diff := cmp.Diff([]string{"c"}, got); diff != "" {
			t.Fatalf("fields mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("fragments merge by response name", func(t *testing.T) {
		op := MustNew(`
			query { post { id ...P ... on Post { author { name } } } }
			fragment P on Post { title author { id } }`, nil)
		post := op.Root().Fields()[0]
		sub := op.Root().Scope.Collect("Post", post.Selections())
		if diff := cmp.Diff([]string{"id", "title", "author"}, responseNames(sub)); diff != "" {
			t.Fatalf("fields mismatch (-want +got):\n%s", diff)
		}
		author := op.Root().Scope.Collect("User", sub[2].Selections())
		require.Equal(t, []string{"id", "name"}, responseNames(author))

		other := op.Root().Scope.Collect("User", post.Selections())
		require.Equal(t, []string{"id"}, responseNames(other))
	})

	t.Run("interfaces match possible types with a schema", func(t *testing.T) {
		s, err := language.LoadSchema("schema.graphql", testSchema)
		require.NoError(t, err)
		op, err := New(`{ node(id: "1") { ... on Node { id } ... on Post { title createdAt } } }`, nil, WithSchema(s))
		require.NoError(t, err)
		node := op.Root().Fields()[0]
		require.Equal(t, "Node", node.TypeName())

		sub := op.Root().Scope.Collect("Post", node.Selections())
		require.Equal(t, []string{"id", "title", "createdAt"}, responseNames(sub))
		require.Equal(t, "DateTime", sub[2].ScalarType())

		list, known := op.Root().Fields()[0].IsList()
		require.True(t, known)
		require.False(t, list)
	})

	t.Run("schema validation errors", func(t *testing.T) {
		s, err := language.LoadSchema("schema.graphql", testSchema)
		require.NoError(t, err)
		_, err = New(`{ nope }`, nil, WithSchema(s))
		require.Error(t, err)
	})
}

func TestFragment(t *testing.T) {
	f, err := NewFragment(`fragment PostTitle on Post { id title }`, "", nil)
	require.NoError(t, err)
	root := f.Root("Post:1")
	require.Equal(t, "Post:1", root.Key)
	require.Equal(t, []string{"id", "title"}, responseNames(root.Fields()))

	_, err = NewFragment(`fragment A on Post { id }`, "B", nil)
	require.ErrorIs(t, err, ErrFragmentNotFound)
}

func TestResponseDecode(t *testing.T) {
	r := &Response{Data: map[string]any{"post": map[string]any{"id": "1", "title": "A"}}}
	var out struct {
		Post struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"post"`
	}
	require.NoError(t, r.Decode(&out))
	require.Equal(t, "A", out.Post.Title)
}
