// Package memory is a bounded in-memory NormalizedCache ordered by recency
// of use.
package memory

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/keyset"
	"github.com/hanpama/graphcache/internal/record"
)

// EvictionPolicy bounds the cache. Zero fields are unbounded; the zero
// policy never evicts.
type EvictionPolicy struct {
	// MaxSizeBytes bounds the summed record.Weight of all entries.
	MaxSizeBytes int64
	MaxEntries   int
	// ExpireAfterWrite drops entries this long after their last merge.
	ExpireAfterWrite time.Duration
	// ExpireAfterAccess drops entries this long after their last read or
	// merge.
	ExpireAfterAccess time.Duration
}

type Options struct {
	Policy EvictionPolicy
	Clock  func() time.Time
}

type Option func(*Options)

func WithPolicy(p EvictionPolicy) Option {
	return func(o *Options) { o.Policy = p }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Clock = now }
}

type entry struct {
	rec      *record.Record
	weight   int64
	written  time.Time
	accessed time.Time
}

// Cache is safe for concurrent use; one mutex guards the whole map.
type Cache struct {
	mu     sync.Mutex
	lru    *simplelru.LRU[string, *entry]
	size   int64
	policy EvictionPolicy
	now    func() time.Time
}

var _ cache.NormalizedCache = (*Cache)(nil)

func New(opts ...Option) *Cache {
	o := Options{Clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cache{policy: o.Policy, now: o.Clock}
	capacity := math.MaxInt32
	if o.Policy.MaxEntries > 0 {
		capacity = o.Policy.MaxEntries
	}
	// NewLRU only fails for a non-positive size.
	c.lru, _ = simplelru.NewLRU[string, *entry](capacity, func(_ string, e *entry) {
		c.size -= e.weight
	})
	return c
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	if c.policy.ExpireAfterWrite > 0 && now.Sub(e.written) >= c.policy.ExpireAfterWrite {
		return true
	}
	if c.policy.ExpireAfterAccess > 0 && now.Sub(e.accessed) >= c.policy.ExpireAfterAccess {
		return true
	}
	return false
}

// get returns a live entry and marks it used. Expired entries are dropped.
func (c *Cache) get(key string, now time.Time) *entry {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil
	}
	if c.expired(e, now) {
		c.lru.Remove(key)
		return nil
	}
	e.accessed = now
	return e
}

func (c *Cache) LoadRecord(_ context.Context, key string, h cache.Headers) (*record.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(key, h), nil
}

func (c *Cache) load(key string, h cache.Headers) *record.Record {
	e := c.get(key, c.now())
	if e == nil {
		return nil
	}
	if h.Has(cache.EvictAfterRead) {
		c.lru.Remove(key)
	}
	return e.rec.Clone()
}

func (c *Cache) LoadRecords(_ context.Context, keys []string, h cache.Headers) ([]*record.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*record.Record, 0, len(keys))
	for _, k := range keys {
		if r := c.load(k, h); r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Cache) Merge(_ context.Context, r *record.Record, h cache.Headers) (keyset.Set, error) {
	if h.Has(cache.DoNotStore) {
		return keyset.New(), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.merge(r, c.now())
	c.trim()
	return changed, nil
}

func (c *Cache) MergeAll(_ context.Context, rs []*record.Record, h cache.Headers) (keyset.Set, error) {
	if h.Has(cache.DoNotStore) {
		return keyset.New(), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	changed := keyset.New()
	for _, r := range rs {
		changed.AddAll(c.merge(r, now))
	}
	c.trim()
	return changed, nil
}

func (c *Cache) merge(r *record.Record, now time.Time) keyset.Set {
	e := c.get(r.Key, now)
	if e == nil {
		rec := r.Clone()
		e = &entry{rec: rec, weight: int64(rec.Weight()), written: now, accessed: now}
		c.size += e.weight
		c.lru.Add(r.Key, e)
		return keyset.New()
	}
	changed := e.rec.MergeFrom(r)
	w := int64(e.rec.Weight())
	c.size += w - e.weight
	e.weight = w
	e.written = now
	return changed
}

// trim evicts least recently used entries until the weight bound holds.
// The entry bound is enforced by the LRU itself.
func (c *Cache) trim() {
	if c.policy.MaxSizeBytes <= 0 {
		return
	}
	for c.size > c.policy.MaxSizeBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
}

func (c *Cache) Remove(_ context.Context, key string, cascade bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !cascade {
		return c.lru.Remove(key), nil
	}
	return cache.Cascade(key,
		func(k string) (*record.Record, error) {
			e, ok := c.lru.Peek(k)
			if !ok {
				return nil, nil
			}
			return e.rec, nil
		},
		func(k string) (bool, error) { return c.lru.Remove(k), nil },
	)
}

func (c *Cache) RemoveAll(_ context.Context, keys []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range keys {
		if c.lru.Remove(k) {
			n++
		}
	}
	return n, nil
}

func (c *Cache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.size = 0
	return nil
}

// CleanUp drops every expired entry.
func (c *Cache) CleanUp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok && c.expired(e, now) {
			c.lru.Remove(k)
		}
	}
}

// Size returns the summed weight of live entries.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) Dump(context.Context) (map[string]*record.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*record.Record, c.lru.Len())
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok {
			out[k] = e.rec.Clone()
		}
	}
	return out, nil
}
