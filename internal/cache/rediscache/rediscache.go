// Package rediscache is a NormalizedCache storing one JSON string per record
// in Redis. Merges are optimistic transactions (WATCH/MULTI/EXEC) so that
// several processes can share one cache.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/keyset"
	"github.com/hanpama/graphcache/internal/record"
)

const maxMergeAttempts = 8

var ErrConflict = errors.New("rediscache: merge kept conflicting with concurrent writers")

var _ cache.NormalizedCache = (*Cache)(nil)

// Config configures the Redis-backed cache.
type Config struct {
	Address  string
	Password string
	DB       int
	// KeyPrefix namespaces record keys. Defaults to "graphcache:".
	KeyPrefix string
	// TTL expires records after their last write. Zero keeps them forever.
	TTL time.Duration
}

type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Cache, error) {
	if cfg.Address == "" {
		return nil, errors.New("rediscache: address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient uses an existing client; cfg.Address is ignored.
func NewWithClient(client *redis.Client, cfg Config) *Cache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "graphcache:"
	}
	return &Cache{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}
}

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) fullKey(key string) string { return c.prefix + key }

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *Cache) get(ctx context.Context, cmd getter, key string) (*record.Record, error) {
	raw, err := cmd.Get(ctx, c.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	r, err := record.Unmarshal(key, raw)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Cache) LoadRecord(ctx context.Context, key string, h cache.Headers) (*record.Record, error) {
	r, err := c.get(ctx, c.client, key)
	if err != nil || r == nil {
		return nil, err
	}
	if h.Has(cache.EvictAfterRead) {
		if err := c.client.Del(ctx, c.fullKey(key)).Err(); err != nil {
			return nil, fmt.Errorf("redis delete %q: %w", key, err)
		}
	}
	return r, nil
}

func (c *Cache) LoadRecords(ctx context.Context, keys []string, h cache.Headers) ([]*record.Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.fullKey(k)
	}
	vals, err := c.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([]*record.Record, 0, len(keys))
	var found []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		r, err := record.Unmarshal(keys[i], []byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
		found = append(found, full[i])
	}
	if h.Has(cache.EvictAfterRead) && len(found) > 0 {
		if err := c.client.Del(ctx, found...).Err(); err != nil {
			return nil, fmt.Errorf("redis delete: %w", err)
		}
	}
	return out, nil
}

func (c *Cache) Merge(ctx context.Context, r *record.Record, h cache.Headers) (keyset.Set, error) {
	return c.MergeAll(ctx, []*record.Record{r}, h)
}

// MergeAll watches every key, merges in memory and writes the results in one
// MULTI/EXEC block, retrying when a watched key changed underneath.
func (c *Cache) MergeAll(ctx context.Context, rs []*record.Record, h cache.Headers) (keyset.Set, error) {
	if h.Has(cache.DoNotStore) || len(rs) == 0 {
		return keyset.New(), nil
	}
	watched := make([]string, 0, len(rs))
	for _, r := range rs {
		watched = append(watched, c.fullKey(r.Key))
	}
	var changed keyset.Set
	txf := func(tx *redis.Tx) error {
		changed = keyset.New()
		pending := make(map[string]*record.Record, len(rs))
		var order []string
		for _, r := range rs {
			cur, ok := pending[r.Key]
			if !ok {
				existing, err := c.get(ctx, tx, r.Key)
				if err != nil {
					return err
				}
				if existing == nil {
					pending[r.Key] = r.Clone()
					order = append(order, r.Key)
					continue
				}
				cur = existing
				pending[r.Key] = cur
				order = append(order, r.Key)
			}
			changed.AddAll(cur.MergeFrom(r))
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range order {
				raw, err := record.Marshal(pending[k])
				if err != nil {
					return err
				}
				pipe.Set(ctx, c.fullKey(k), raw, c.ttl)
			}
			return nil
		})
		return err
	}
	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		err := c.client.Watch(ctx, txf, watched...)
		if err == nil {
			return changed, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("redis merge: %w", err)
		}
	}
	return nil, ErrConflict
}

func (c *Cache) Remove(ctx context.Context, key string, cascade bool) (bool, error) {
	del := func(k string) (bool, error) {
		n, err := c.client.Del(ctx, c.fullKey(k)).Result()
		if err != nil {
			return false, fmt.Errorf("redis delete %q: %w", k, err)
		}
		return n > 0, nil
	}
	if !cascade {
		return del(key)
	}
	return cache.Cascade(key, func(k string) (*record.Record, error) { return c.get(ctx, c.client, k) }, del)
}

func (c *Cache) RemoveAll(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.fullKey(k)
	}
	n, err := c.client.Del(ctx, full...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete: %w", err)
	}
	return int(n), nil
}

// Clear deletes every key under the prefix.
func (c *Cache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis delete: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
