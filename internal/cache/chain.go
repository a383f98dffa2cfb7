package cache

import (
	"context"
	"errors"

	"github.com/hanpama/graphcache/internal/keyset"
	"github.com/hanpama/graphcache/internal/record"
)

type chain struct {
	caches []NormalizedCache
}

// Chain returns a cache that reads from each of caches in order until one
// has the record, and sends every write, remove and clear to all of them.
// Reads do not copy a record found downstream into earlier caches.
func Chain(caches ...NormalizedCache) NormalizedCache {
	if len(caches) == 1 {
		return caches[0]
	}
	return &chain{caches: caches}
}

func (c *chain) LoadRecord(ctx context.Context, key string, h Headers) (*record.Record, error) {
	for _, nc := range c.caches {
		r, err := nc.LoadRecord(ctx, key, h)
		if err != nil {
			return nil, err
		}
		if r != nil {
			return r, nil
		}
	}
	return nil, nil
}

func (c *chain) LoadRecords(ctx context.Context, keys []string, h Headers) ([]*record.Record, error) {
	out := make([]*record.Record, 0, len(keys))
	pending := keys
	for _, nc := range c.caches {
		if len(pending) == 0 {
			break
		}
		found, err := nc.LoadRecords(ctx, pending, h)
		if err != nil {
			return nil, err
		}
		got := keyset.New()
		for _, r := range found {
			got.Add(r.Key)
			out = append(out, r)
		}
		var next []string
		for _, k := range pending {
			if !got.Has(k) {
				next = append(next, k)
			}
		}
		pending = next
	}
	return out, nil
}

func (c *chain) Merge(ctx context.Context, r *record.Record, h Headers) (keyset.Set, error) {
	changed := keyset.New()
	var errs []error
	for _, nc := range c.caches {
		ks, err := nc.Merge(ctx, r, h)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		changed.AddAll(ks)
	}
	return changed, errors.Join(errs...)
}

func (c *chain) MergeAll(ctx context.Context, rs []*record.Record, h Headers) (keyset.Set, error) {
	changed := keyset.New()
	var errs []error
	for _, nc := range c.caches {
		ks, err := nc.MergeAll(ctx, rs, h)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		changed.AddAll(ks)
	}
	return changed, errors.Join(errs...)
}

func (c *chain) Remove(ctx context.Context, key string, cascade bool) (bool, error) {
	removed := false
	var errs []error
	for _, nc := range c.caches {
		ok, err := nc.Remove(ctx, key, cascade)
		if err != nil {
			errs = append(errs, err)
		}
		removed = removed || ok
	}
	return removed, errors.Join(errs...)
}

// RemoveAll counts a key once even when several caches held it.
func (c *chain) RemoveAll(ctx context.Context, keys []string) (int, error) {
	removed := keyset.New()
	var errs []error
	for _, k := range keys {
		for _, nc := range c.caches {
			ok, err := nc.Remove(ctx, k, false)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				removed.Add(k)
			}
		}
	}
	return removed.Len(), errors.Join(errs...)
}

func (c *chain) Clear(ctx context.Context) error {
	var errs []error
	for _, nc := range c.caches {
		if err := nc.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dump merges the content of every cache that can be dumped, earlier caches
// winning.
func (c *chain) Dump(ctx context.Context) (map[string]*record.Record, error) {
	out := make(map[string]*record.Record)
	for i := len(c.caches) - 1; i >= 0; i-- {
		d, ok := c.caches[i].(Dumper)
		if !ok {
			continue
		}
		m, err := d.Dump(ctx)
		if err != nil {
			return nil, err
		}
		for k, r := range m {
			out[k] = r
		}
	}
	return out, nil
}
