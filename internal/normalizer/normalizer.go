// Package normalizer flattens operation responses into records and reads
// records back into responses.
package normalizer

import (
	"fmt"

	"github.com/hanpama/graphcache/internal/cachekey"
	"github.com/hanpama/graphcache/internal/keyset"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/operation"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/scalar"
)

// Result is the outcome of normalizing or reading one response.
type Result struct {
	// Data is the response with custom scalars decoded.
	Data map[string]any
	// Records is nil for reads.
	Records       *record.Set
	DependentKeys keyset.Set
}

// Normalizer walks a response alongside its field tree and emits records.
type Normalizer struct {
	resolver cachekey.Resolver
	scalars  *scalar.Registry
}

// New returns a Normalizer. A nil resolver keys every object positionally.
func New(resolver cachekey.Resolver, scalars *scalar.Registry) *Normalizer {
	if resolver == nil {
		resolver = cachekey.NoKeyResolver{}
	}
	return &Normalizer{resolver: resolver, scalars: scalars}
}

// Resolver returns the cache key resolver in use.
func (n *Normalizer) Resolver() cachekey.Resolver { return n.resolver }

// Normalize converts data, the "data" member of a response, into records
// starting at root.
func (n *Normalizer) Normalize(root operation.Root, data map[string]any) (*Result, error) {
	w := &walk{n: n, vars: root.Scope.Variables(), scope: root.Scope, records: record.NewSet(), deps: keyset.New()}
	typeName := root.TypeName
	if t, ok := data["__typename"].(string); ok {
		typeName = t
	}
	decoded, err := w.object(root.Key, typeName, root.Selection, data)
	if err != nil {
		return nil, err
	}
	return &Result{Data: decoded, Records: w.records, DependentKeys: w.deps}, nil
}

type walk struct {
	n       *Normalizer
	scope   *operation.Scope
	vars    map[string]any
	records *record.Set
	deps    keyset.Set
}

func (w *walk) object(key, typeName string, sel []language.SelectionSet, obj map[string]any) (map[string]any, error) {
	rec := record.New(key)
	decoded := make(map[string]any, len(obj))
	for _, f := range w.scope.Collect(typeName, sel) {
		v, ok := obj[f.ResponseName]
		if !ok {
			continue
		}
		fieldKey := cachekey.FieldKey(f, w.vars)
		stored, out, err := w.value(key, fieldKey, f, v, nil)
		if err != nil {
			return nil, err
		}
		rec.Set(fieldKey, stored)
		decoded[f.ResponseName] = out
		w.deps.Add(record.QualifiedKey(key, fieldKey))
	}
	w.records.Merge(rec)
	return decoded, nil
}

// value returns the form stored in the parent record and the decoded form
// handed to the caller.
func (w *walk) value(parent, fieldKey string, f *operation.Field, v any, index []int) (stored, decoded any, err error) {
	if v == nil {
		return nil, nil, nil
	}
	if list, ok := v.([]any); ok {
		storedList := make([]any, len(list))
		decodedList := make([]any, len(list))
		for i, item := range list {
			s, d, err := w.value(parent, fieldKey, f, item, append(append([]int(nil), index...), i))
			if err != nil {
				return nil, nil, err
			}
			storedList[i], decodedList[i] = s, d
		}
		return storedList, decodedList, nil
	}
	if !f.IsComposite() {
		out, err := w.n.scalars.Decode(f.ScalarType(), v)
		if err != nil {
			return nil, nil, fmt.Errorf("%s.%s: %w", parent, f.ResponseName, err)
		}
		return v, out, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("%s.%s: expected an object, got %T", parent, f.ResponseName, v)
	}
	key := w.childKey(parent, fieldKey, f, obj, index)
	typeName, _ := obj["__typename"].(string)
	if typeName == "" {
		typeName = f.TypeName()
	}
	out, err := w.object(key, typeName, f.Selections(), obj)
	if err != nil {
		return nil, nil, err
	}
	return record.Reference{Key: key}, out, nil
}

func (w *walk) childKey(parent, fieldKey string, f *operation.Field, obj map[string]any, index []int) string {
	if k := w.n.resolver.FromFieldRecordSet(f, obj); k != cachekey.NoKey {
		return string(k)
	}
	if len(index) == 0 {
		if k := w.n.resolver.FromFieldArguments(f, w.vars); k != cachekey.NoKey {
			return string(k)
		}
	}
	return cachekey.Positional(parent, fieldKey, index...)
}
