// Package cachekey computes the identities used by the normalized cache:
// record keys for objects, field keys for arguments, and the fixed root
// anchors of each operation type.
package cachekey

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/record"
)

// CacheKey is the resolved identity of an object. NoKey means the object is
// stored under a positional key derived from its parent.
type CacheKey string

const NoKey CacheKey = ""

const (
	QueryRoot        = "QUERY_ROOT"
	MutationRoot     = "MUTATION_ROOT"
	SubscriptionRoot = "SUBSCRIPTION_ROOT"
)

// ForOperation returns the root record key of an operation type.
func ForOperation(op language.Operation) string {
	switch op {
	case language.Mutation:
		return MutationRoot
	case language.Subscription:
		return SubscriptionRoot
	default:
		return QueryRoot
	}
}

// Field is the view of a selected field needed to compute keys.
type Field interface {
	FieldName() string
	FieldArguments() language.ArgumentList
	// TypeName is the declared named type of the field, or "" when unknown.
	TypeName() string
}

// FieldKey returns name, or name(<args>) where args is a JSON object with
// lexically sorted keys and every variable resolved. Arguments bound to an
// absent variable are omitted.
func FieldKey(f Field, variables map[string]any) string {
	args := ResolveArguments(f.FieldArguments(), variables)
	if len(args) == 0 {
		return f.FieldName()
	}
	return f.FieldName() + "(" + marshalSorted(args) + ")"
}

// ResolveArguments converts an argument list into Go values, substituting
// variables. Absent variables drop the argument or object field that holds
// them and become null inside lists.
func ResolveArguments(args language.ArgumentList, variables map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args))
	for _, a := range args {
		if v, ok := resolveValue(a.Value, variables); ok {
			out[a.Name] = v
		}
	}
	return out
}

func resolveValue(v *language.Value, variables map[string]any) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch v.Kind {
	case language.Variable:
		val, ok := variables[v.Raw]
		if !ok {
			val, ok = variables[strings.TrimPrefix(v.Raw, "$")]
		}
		if !ok {
			return nil, false
		}
		return record.NormalizeValue(val), true
	case language.IntValue, language.FloatValue:
		return json.Number(v.Raw), true
	case language.StringValue, language.BlockValue, language.EnumValue:
		return v.Raw, true
	case language.BooleanValue:
		return v.Raw == "true", true
	case language.NullValue:
		return nil, true
	case language.ListValue:
		out := make([]any, len(v.Children))
		for i, c := range v.Children {
			item, _ := resolveValue(c.Value, variables)
			out[i] = item
		}
		return out, true
	case language.ObjectValue:
		out := make(map[string]any, len(v.Children))
		for _, c := range v.Children {
			if item, ok := resolveValue(c.Value, variables); ok {
				out[c.Name] = item
			}
		}
		return out, true
	default:
		return nil, true
	}
}

// marshalSorted relies on encoding/json emitting map keys in sorted order.
func marshalSorted(v map[string]any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Positional returns the key of an object that has no identity of its own:
// the parent key and field key joined by ".", followed by the list index for
// list items. Children of the query root omit the parent prefix.
func Positional(parent, fieldKey string, index ...int) string {
	var b strings.Builder
	if parent != QueryRoot {
		b.WriteString(parent)
		b.WriteByte('.')
	}
	b.WriteString(fieldKey)
	for _, i := range index {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(i))
	}
	return b.String()
}
