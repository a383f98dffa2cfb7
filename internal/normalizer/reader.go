package normalizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hanpama/graphcache/internal/cachekey"
	"github.com/hanpama/graphcache/internal/keyset"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/operation"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/scalar"
)

// RecordSource loads records for a read. Absent records are (nil, nil).
type RecordSource interface {
	LoadRecord(ctx context.Context, key string) (*record.Record, error)
}

// RecordSourceFunc adapts a function to RecordSource.
type RecordSourceFunc func(ctx context.Context, key string) (*record.Record, error)

func (fn RecordSourceFunc) LoadRecord(ctx context.Context, key string) (*record.Record, error) {
	return fn(ctx, key)
}

// Reader rebuilds response data from records.
type Reader struct {
	resolver cachekey.Resolver
	scalars  *scalar.Registry
	logger   *slog.Logger
}

// NewReader returns a Reader. A nil logger uses slog.Default().
func NewReader(resolver cachekey.Resolver, scalars *scalar.Registry, logger *slog.Logger) *Reader {
	if resolver == nil {
		resolver = cachekey.NoKeyResolver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{resolver: resolver, scalars: scalars, logger: logger}
}

// Read resolves root against source. A missing record or field yields a
// *MissError; a list pointing at a missing record yields a
// *CorruptionError.
func (r *Reader) Read(ctx context.Context, source RecordSource, root operation.Root) (*Result, error) {
	rec, err := source.LoadRecord(ctx, root.Key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &MissError{Key: root.Key}
	}
	rd := &read{r: r, ctx: ctx, source: source, scope: root.Scope, vars: root.Scope.Variables(), deps: keyset.New()}
	data, err := rd.object(rec, root.TypeName, root.Selection)
	if err != nil {
		var ce *CorruptionError
		if errors.As(err, &ce) {
			r.logger.Error("cache corruption detected",
				slog.String("record", ce.Key), slog.String("field", ce.Field), slog.String("missing", ce.Missing))
		}
		return nil, err
	}
	return &Result{Data: data, DependentKeys: rd.deps}, nil
}

type read struct {
	r      *Reader
	ctx    context.Context
	source RecordSource
	scope  *operation.Scope
	vars   map[string]any
	deps   keyset.Set
}

func (rd *read) object(rec *record.Record, typeName string, sel []language.SelectionSet) (map[string]any, error) {
	if t, ok := rec.Fields["__typename"].(string); ok {
		typeName = t
	}
	fields := rd.scope.Collect(typeName, sel)
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		fieldKey := cachekey.FieldKey(f, rd.vars)
		rd.deps.Add(record.QualifiedKey(rec.Key, fieldKey))
		raw, ok := rec.Field(fieldKey)
		if !ok && f.IsComposite() {
			// Another operation may have stored the entity this field
			// resolves to.
			if k := rd.r.resolver.FromFieldArguments(f, rd.vars); k != cachekey.NoKey {
				raw, ok = record.Reference{Key: string(k)}, true
			}
		}
		if !ok {
			return nil, &MissError{Key: rec.Key, Field: fieldKey}
		}
		v, err := rd.value(rec.Key, fieldKey, f, raw, false)
		if err != nil {
			return nil, err
		}
		out[f.ResponseName] = v
	}
	return out, nil
}

func (rd *read) value(parent, fieldKey string, f *operation.Field, raw any, inList bool) (any, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			v, err := rd.value(parent, fieldKey, f, item, true)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case record.Reference:
		child, err := rd.source.LoadRecord(rd.ctx, t.Key)
		if err != nil {
			return nil, err
		}
		if child == nil {
			if inList {
				return nil, &CorruptionError{Key: parent, Field: fieldKey, Missing: t.Key}
			}
			return nil, &MissError{Key: t.Key}
		}
		return rd.object(child, f.TypeName(), f.Selections())
	default:
		if f.IsComposite() {
			return nil, fmt.Errorf("%s.%s: expected a reference, got %T", parent, fieldKey, raw)
		}
		return rd.r.scalars.Decode(f.ScalarType(), raw)
	}
}
