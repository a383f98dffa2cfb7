package operation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hanpama/graphcache/internal/keyset"
)

// Location is a position in the document reported with an error.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Error is one entry of a response's "errors" array.
type Error struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e Error) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Path))
	for i, p := range e.Path {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ".") + ": " + e.Message
}

// Response is the parsed result of one operation, from the network or the
// cache.
type Response struct {
	Operation  *Operation
	Data       map[string]any
	Errors     []Error
	Extensions map[string]any
	// DependentKeys are the qualified field keys this response was built
	// from. Watchers refetch when any of them changes.
	DependentKeys keyset.Set
	FromCache     bool
}

// HasErrors reports whether the server returned GraphQL errors.
func (r *Response) HasErrors() bool { return len(r.Errors) > 0 }

// Decode stores Data into v, which should be a pointer to a struct shaped
// like the selection.
func (r *Response) Decode(v any) error {
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("operation: encode data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("operation: decode data: %w", err)
	}
	return nil
}
