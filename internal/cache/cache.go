// Package cache defines the normalized record store contract shared by the
// memory, SQL and Redis backends, and the decorator that chains them.
package cache

import (
	"context"

	"github.com/hanpama/graphcache/internal/keyset"
	"github.com/hanpama/graphcache/internal/record"
)

// NormalizedCache stores records by key. A miss is (nil, nil), never an
// error; errors are storage failures.
type NormalizedCache interface {
	LoadRecord(ctx context.Context, key string, h Headers) (*record.Record, error)
	// LoadRecords returns the records found, in no particular order.
	LoadRecords(ctx context.Context, keys []string, h Headers) ([]*record.Record, error)
	// Merge merges r field by field into the stored record and returns the
	// qualified keys whose value changed. Merging into an absent key
	// inserts r and reports nothing.
	Merge(ctx context.Context, r *record.Record, h Headers) (keyset.Set, error)
	// MergeAll merges records as one unit when the backend is transactional.
	MergeAll(ctx context.Context, rs []*record.Record, h Headers) (keyset.Set, error)
	// Remove deletes key and, when cascade is set, every record reachable
	// through its references.
	Remove(ctx context.Context, key string, cascade bool) (bool, error)
	// RemoveAll deletes keys without cascading and returns how many existed.
	RemoveAll(ctx context.Context, keys []string) (int, error)
	Clear(ctx context.Context) error
}

// Dumper is implemented by backends that can list their whole content.
type Dumper interface {
	Dump(ctx context.Context) (map[string]*record.Record, error)
}

// Cascade removes key and then, depth first, each record referenced from
// it. load and remove operate on a single backend without locking.
func Cascade(key string, load func(string) (*record.Record, error), remove func(string) (bool, error)) (bool, error) {
	visited := keyset.New()
	var walk func(string) (bool, error)
	walk = func(k string) (bool, error) {
		if visited.Has(k) {
			return false, nil
		}
		visited.Add(k)
		r, err := load(k)
		if err != nil {
			return false, err
		}
		if r == nil {
			return false, nil
		}
		removed, err := remove(k)
		if err != nil {
			return false, err
		}
		for _, ref := range r.References() {
			if _, err := walk(ref.Key); err != nil {
				return removed, err
			}
		}
		return removed, nil
	}
	return walk(key)
}
