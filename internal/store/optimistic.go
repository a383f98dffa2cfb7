package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/keyset"
	"github.com/hanpama/graphcache/internal/record"
)

// journal holds the optimistic patches applied to one key, oldest first,
// and their merged view.
type journal struct {
	snapshot *record.Record
	patches  []*record.Record
}

func newJournal(patch *record.Record) *journal {
	return &journal{snapshot: patch.Clone(), patches: []*record.Record{patch.Clone()}}
}

func (j *journal) add(patch *record.Record) keyset.Set {
	j.patches = append(j.patches, patch.Clone())
	return j.snapshot.MergeFrom(patch)
}

// revert drops the patches of mutationID and returns the keys they touched.
func (j *journal) revert(mutationID uuid.UUID) keyset.Set {
	changed := keyset.New()
	kept := j.patches[:0]
	for _, p := range j.patches {
		if p.MutationID == mutationID {
			changed.AddAll(p.FieldKeys())
			continue
		}
		kept = append(kept, p)
	}
	j.patches = kept
	if len(kept) > 0 {
		j.snapshot = kept[0].Clone()
		for _, p := range kept[1:] {
			j.snapshot.MergeFrom(p)
		}
	}
	return changed
}

// OptimisticCache overlays optimistic patches on a NormalizedCache. Reads
// see the patches; regular merges go to the wrapped cache untouched.
type OptimisticCache struct {
	next cache.NormalizedCache

	mu       sync.Mutex
	journals map[string]*journal
}

var _ cache.NormalizedCache = (*OptimisticCache)(nil)

func NewOptimisticCache(next cache.NormalizedCache) *OptimisticCache {
	return &OptimisticCache{next: next, journals: make(map[string]*journal)}
}

func (c *OptimisticCache) overlay(key string, base *record.Record) *record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.journals[key]
	if !ok {
		return base
	}
	if base == nil {
		return j.snapshot.Clone()
	}
	out := base.Clone()
	out.MergeFrom(j.snapshot)
	return out
}

func (c *OptimisticCache) LoadRecord(ctx context.Context, key string, h cache.Headers) (*record.Record, error) {
	base, err := c.next.LoadRecord(ctx, key, h)
	if err != nil {
		return nil, err
	}
	return c.overlay(key, base), nil
}

func (c *OptimisticCache) LoadRecords(ctx context.Context, keys []string, h cache.Headers) ([]*record.Record, error) {
	base, err := c.next.LoadRecords(ctx, keys, h)
	if err != nil {
		return nil, err
	}
	found := make(map[string]*record.Record, len(base))
	for _, r := range base {
		found[r.Key] = r
	}
	out := make([]*record.Record, 0, len(keys))
	for _, k := range keys {
		if r := c.overlay(k, found[k]); r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *OptimisticCache) Merge(ctx context.Context, r *record.Record, h cache.Headers) (keyset.Set, error) {
	return c.next.Merge(ctx, r, h)
}

func (c *OptimisticCache) MergeAll(ctx context.Context, rs []*record.Record, h cache.Headers) (keyset.Set, error) {
	return c.next.MergeAll(ctx, rs, h)
}

// MergeOptimisticUpdates records patches, each tagged with its MutationID.
// A key seen for the first time reports every field of the patch.
func (c *OptimisticCache) MergeOptimisticUpdates(rs []*record.Record) keyset.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := keyset.New()
	for _, r := range rs {
		j, ok := c.journals[r.Key]
		if !ok {
			c.journals[r.Key] = newJournal(r)
			changed.AddAll(r.FieldKeys())
			continue
		}
		changed.AddAll(j.add(r))
	}
	return changed
}

// RemoveOptimisticUpdates drops every patch of mutationID.
func (c *OptimisticCache) RemoveOptimisticUpdates(mutationID uuid.UUID) keyset.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := keyset.New()
	for key, j := range c.journals {
		changed.AddAll(j.revert(mutationID))
		if len(j.patches) == 0 {
			delete(c.journals, key)
		}
	}
	return changed
}

// Remove deletes key from the overlay and the wrapped cache. A cascade
// follows references through the overlay view, so records that exist only
// as optimistic patches are removed too.
func (c *OptimisticCache) Remove(ctx context.Context, key string, cascade bool) (bool, error) {
	if !cascade {
		return c.removeOne(ctx, key)
	}
	return cache.Cascade(key,
		func(k string) (*record.Record, error) { return c.LoadRecord(ctx, k, nil) },
		func(k string) (bool, error) { return c.removeOne(ctx, k) },
	)
}

func (c *OptimisticCache) removeOne(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	_, had := c.journals[key]
	delete(c.journals, key)
	c.mu.Unlock()
	removed, err := c.next.Remove(ctx, key, false)
	return removed || had, err
}

func (c *OptimisticCache) RemoveAll(ctx context.Context, keys []string) (int, error) {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.journals, k)
	}
	c.mu.Unlock()
	return c.next.RemoveAll(ctx, keys)
}

func (c *OptimisticCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.journals = make(map[string]*journal)
	c.mu.Unlock()
	return c.next.Clear(ctx)
}

func (c *OptimisticCache) Dump(ctx context.Context) (map[string]*record.Record, error) {
	d, ok := c.next.(cache.Dumper)
	if !ok {
		return map[string]*record.Record{}, nil
	}
	return d.Dump(ctx)
}
