package record

import (
	"sort"

	"github.com/hanpama/graphcache/internal/keyset"
)

// Set collects the records produced by one normalization pass. Records that
// share a key are merged field by field.
type Set struct {
	records map[string]*Record
}

// NewSet returns an empty record set.
func NewSet() *Set { return &Set{records: make(map[string]*Record)} }

// Merge adds r to the set. Merging into an absent key inserts a copy and
// reports no changed keys.
func (s *Set) Merge(r *Record) keyset.Set {
	existing, ok := s.records[r.Key]
	if !ok {
		s.records[r.Key] = r.Clone()
		return keyset.New()
	}
	return existing.MergeFrom(r)
}

// Get returns the record stored for key, or nil.
func (s *Set) Get(key string) *Record { return s.records[key] }

// Len returns the number of distinct records.
func (s *Set) Len() int { return len(s.records) }

// Keys returns the record keys in lexical order.
func (s *Set) Keys() []string {
	out := make([]string, 0, len(s.records))
	for k := range s.records {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Records returns the records ordered by key.
func (s *Set) Records() []*Record {
	keys := s.Keys()
	out := make([]*Record, len(keys))
	for i, k := range keys {
		out[i] = s.records[k]
	}
	return out
}
