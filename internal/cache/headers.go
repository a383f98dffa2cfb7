package cache

import "strings"

// Header names understood by the stores.
const (
	// DoNotStore turns merges into no-ops.
	DoNotStore = "do-not-store"
	// EvictAfterRead removes a record once it has been read.
	EvictAfterRead = "evict-after-read"
	// StorePartialResponses writes responses that carry GraphQL errors.
	StorePartialResponses = "store-partial-responses"
)

// Headers are per-request cache directives. A nil Headers is the default:
// persist and never evict on read.
type Headers map[string]string

// NewHeaders returns headers with each name set to "true".
func NewHeaders(names ...string) Headers {
	h := make(Headers, len(names))
	for _, n := range names {
		h[n] = "true"
	}
	return h
}

// Has reports whether name is set to anything other than "false".
func (h Headers) Has(name string) bool {
	v, ok := h[name]
	return ok && !strings.EqualFold(v, "false")
}

// With returns a copy of h with name set to value.
func (h Headers) With(name, value string) Headers {
	out := make(Headers, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	out[name] = value
	return out
}
