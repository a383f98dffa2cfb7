// Package scalar decodes custom scalar values read from responses and the
// cache into Go values, and encodes them back into JSON values for storage.
package scalar

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrUnsupportedValue = errors.New("scalar: unsupported value")

// Adapter converts one custom scalar between its JSON and Go forms.
type Adapter interface {
	Decode(v any) (any, error)
	Encode(v any) (any, error)
}

// Registry looks adapters up by declared scalar type name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Default returns a registry with DateTime and JSON registered.
func Default() *Registry {
	r := NewRegistry()
	r.Register("DateTime", DateTime{})
	r.Register("JSON", JSON{})
	return r
}

func (r *Registry) Register(typeName string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[typeName] = a
}

func (r *Registry) Lookup(typeName string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[typeName]
	return a, ok
}

// Decode runs the adapter registered for typeName over v. Unknown types and
// null values pass through unchanged.
func (r *Registry) Decode(typeName string, v any) (any, error) {
	a, ok := r.Lookup(typeName)
	if !ok || v == nil {
		return v, nil
	}
	out, err := a.Decode(v)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", typeName, err)
	}
	return out, nil
}

// Encode is the inverse of Decode.
func (r *Registry) Encode(typeName string, v any) (any, error) {
	a, ok := r.Lookup(typeName)
	if !ok || v == nil {
		return v, nil
	}
	out, err := a.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typeName, err)
	}
	return out, nil
}

// DateTime maps RFC 3339 strings to time.Time.
type DateTime struct{}

func (DateTime) Decode(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func (DateTime) Encode(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case string:
		return t, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

// JSON keeps arbitrary JSON values. Go values are encoded through
// encoding/json.
type JSON struct{}

func (JSON) Decode(v any) (any, error) { return v, nil }

func (JSON) Encode(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any, string, bool, json.Number, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
