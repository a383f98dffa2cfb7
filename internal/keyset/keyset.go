// Package keyset holds the string sets used for cache invalidation: the
// changed keys produced by a merge and the dependent keys recorded while a
// response is normalized or read back.
package keyset

import "sort"

// Set is an unordered set of qualified field keys ("<recordKey>.<fieldKey>")
// or record keys.
type Set map[string]struct{}

// New returns a set holding keys.
func New(keys ...string) Set {
	s := make(Set, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Add inserts keys into s.
func (s Set) Add(keys ...string) {
	for _, k := range keys {
		s[k] = struct{}{}
	}
}

// AddAll inserts every key of other into s.
func (s Set) AddAll(other Set) {
	for k := range other {
		s[k] = struct{}{}
	}
}

// Has reports whether k is in s.
func (s Set) Has(k string) bool {
	_, ok := s[k]
	return ok
}

// Len returns the number of keys. A nil set has length zero.
func (s Set) Len() int { return len(s) }

// Sorted returns the keys in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy of s. Cloning nil yields an empty, non-nil set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Union returns a new set holding the keys of every argument.
func Union(sets ...Set) Set {
	n := 0
	for _, s := range sets {
		n += len(s)
	}
	out := make(Set, n)
	for _, s := range sets {
		for k := range s {
			out[k] = struct{}{}
		}
	}
	return out
}

// Intersects reports whether a and b share at least one key. It walks the
// smaller set and stops at the first hit.
func Intersects(a, b Set) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}
