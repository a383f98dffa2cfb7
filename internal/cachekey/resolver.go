package cachekey

import (
	"encoding/json"
	"fmt"
)

// Resolver maps response objects and field arguments to cache keys.
type Resolver interface {
	// FromFieldRecordSet keys an object found in a response.
	FromFieldRecordSet(f Field, object map[string]any) CacheKey
	// FromFieldArguments keys the object a field will return before it is
	// read, letting separate operations share an entity.
	FromFieldArguments(f Field, variables map[string]any) CacheKey
}

// NoKeyResolver stores every object positionally.
type NoKeyResolver struct{}

func (NoKeyResolver) FromFieldRecordSet(Field, map[string]any) CacheKey   { return NoKey }
func (NoKeyResolver) FromFieldArguments(Field, map[string]any) CacheKey { return NoKey }

// IDResolver keys objects by "<__typename>:<id>". When the response omits
// __typename the declared type of the field is used, and failing that the
// id alone. Objects without an id are positional.
type IDResolver struct {
	// IDField names the identity field. Defaults to "id".
	IDField string
	// IgnoreTypename keys objects by id alone.
	IgnoreTypename bool
}

func (r IDResolver) idField() string {
	if r.IDField == "" {
		return "id"
	}
	return r.IDField
}

func (r IDResolver) FromFieldRecordSet(f Field, object map[string]any) CacheKey {
	id, ok := idString(object[r.idField()])
	if !ok {
		return NoKey
	}
	typename, _ := object["__typename"].(string)
	if typename == "" && f != nil {
		typename = f.TypeName()
	}
	return r.key(typename, id)
}

// FromFieldArguments resolves fields such as post(id: "1") when the
// declared type of the field is known and concrete. Interface and union
// fields such as node(id:) are keyed by the __typename in the response.
func (r IDResolver) FromFieldArguments(f Field, variables map[string]any) CacheKey {
	if a, ok := f.(interface{ IsAbstract() bool }); ok && a.IsAbstract() && !r.IgnoreTypename {
		return NoKey
	}
	args := ResolveArguments(f.FieldArguments(), variables)
	id, ok := idString(args[r.idField()])
	if !ok {
		return NoKey
	}
	typename := f.TypeName()
	if typename == "" && !r.IgnoreTypename {
		return NoKey
	}
	return r.key(typename, id)
}

func (r IDResolver) key(typename, id string) CacheKey {
	if r.IgnoreTypename || typename == "" {
		return CacheKey(id)
	}
	return CacheKey(typename + ":" + id)
}

func idString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	case int, int32, int64, float64:
		return fmt.Sprint(t), true
	default:
		return "", false
	}
}

// ResolverFunc adapts a function to Resolver; arguments never produce a key.
type ResolverFunc func(f Field, object map[string]any) CacheKey

func (fn ResolverFunc) FromFieldRecordSet(f Field, object map[string]any) CacheKey {
	return fn(f, object)
}

func (ResolverFunc) FromFieldArguments(Field, map[string]any) CacheKey { return NoKey }
