// Package record defines the flat storage unit of the normalized cache.
//
// A Record is a named bag of fields. A field value is a scalar, a Reference
// to another record, a list of those, or an opaque JSON object produced by a
// custom scalar. Records never embed other records: nesting is always by
// Reference.
package record

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/hanpama/graphcache/internal/keyset"
)

// Reference points at another record by key.
type Reference struct {
	Key string
}

func (r Reference) String() string { return "CacheReference(" + r.Key + ")" }

// Record is one normalized entity or positional sub-object.
type Record struct {
	Key    string
	Fields map[string]any
	// MutationID is set on records produced by an optimistic update.
	MutationID uuid.UUID
}

// New returns an empty record for key.
func New(key string) *Record {
	return &Record{Key: key, Fields: make(map[string]any)}
}

// Field returns the value stored under fieldKey.
func (r *Record) Field(fieldKey string) (any, bool) {
	v, ok := r.Fields[fieldKey]
	return v, ok
}

// Set stores v under fieldKey after normalizing numbers to json.Number.
func (r *Record) Set(fieldKey string, v any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[fieldKey] = NormalizeValue(v)
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	out := &Record{Key: r.Key, Fields: make(map[string]any, len(r.Fields)), MutationID: r.MutationID}
	for k, v := range r.Fields {
		out.Fields[k] = cloneValue(v)
	}
	return out
}

// MergeFrom copies every field of other into r and returns the qualified keys
// of the fields whose value actually changed.
func (r *Record) MergeFrom(other *Record) keyset.Set {
	changed := keyset.New()
	if r.Fields == nil {
		r.Fields = make(map[string]any, len(other.Fields))
	}
	for k, nv := range other.Fields {
		ov, exists := r.Fields[k]
		if exists && Equal(ov, nv) {
			continue
		}
		r.Fields[k] = cloneValue(nv)
		changed.Add(QualifiedKey(r.Key, k))
	}
	r.MutationID = other.MutationID
	return changed
}

// FieldKeys returns the qualified keys of every field of r.
func (r *Record) FieldKeys() keyset.Set {
	out := make(keyset.Set, len(r.Fields))
	for k := range r.Fields {
		out.Add(QualifiedKey(r.Key, k))
	}
	return out
}

// References returns every reference held by r, including those nested in lists.
func (r *Record) References() []Reference {
	var out []Reference
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = collectReferences(r.Fields[k], out)
	}
	return out
}

func collectReferences(v any, out []Reference) []Reference {
	switch t := v.(type) {
	case Reference:
		return append(out, t)
	case []any:
		for _, item := range t {
			out = collectReferences(item, out)
		}
	}
	return out
}

// QualifiedKey joins a record key and a field key into the unit of
// invalidation.
func QualifiedKey(recordKey, fieldKey string) string {
	return recordKey + "." + fieldKey
}

// Equal reports whether two field values are equal after normalization.
func Equal(a, b any) bool {
	return reflect.DeepEqual(NormalizeValue(a), NormalizeValue(b))
}

// NormalizeValue converts Go numbers into json.Number and recursively
// normalizes lists and objects so that values read back from any backend
// compare equal to values written from Go code.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, json.Number, Reference:
		return v
	case int:
		return json.Number(strconv.FormatInt(int64(t), 10))
	case int8:
		return json.Number(strconv.FormatInt(int64(t), 10))
	case int16:
		return json.Number(strconv.FormatInt(int64(t), 10))
	case int32:
		return json.Number(strconv.FormatInt(int64(t), 10))
	case int64:
		return json.Number(strconv.FormatInt(t, 10))
	case uint:
		return json.Number(strconv.FormatUint(uint64(t), 10))
	case uint8:
		return json.Number(strconv.FormatUint(uint64(t), 10))
	case uint16:
		return json.Number(strconv.FormatUint(uint64(t), 10))
	case uint32:
		return json.Number(strconv.FormatUint(uint64(t), 10))
	case uint64:
		return json.Number(strconv.FormatUint(t, 10))
	case float32:
		return json.Number(strconv.FormatFloat(float64(t), 'g', -1, 32))
	case float64:
		return json.Number(strconv.FormatFloat(t, 'g', -1, 64))
	case *Reference:
		if t == nil {
			return nil
		}
		return *t
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = NormalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = NormalizeValue(item)
		}
		return out
	default:
		// Unknown Go values are stored as their JSON form.
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		var decoded any
		if err := decodeJSON(raw, &decoded); err != nil {
			return string(raw)
		}
		return NormalizeValue(decoded)
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
