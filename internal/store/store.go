// Package store is the façade over the normalized cache: it writes
// responses as records, reads them back as responses, and tells
// subscribers which fields changed.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/cache/memory"
	"github.com/hanpama/graphcache/internal/cachekey"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/keyset"
	"github.com/hanpama/graphcache/internal/normalizer"
	"github.com/hanpama/graphcache/internal/operation"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/scalar"
)

// Subscriber receives the qualified keys changed by a write. origin is the
// request id of the call that caused the write, or uuid.Nil.
type Subscriber func(changed keyset.Set, origin uuid.UUID)

type Options struct {
	Resolver cachekey.Resolver
	Scalars  *scalar.Registry
	Logger   *slog.Logger
}

type Option func(*Options)

func WithResolver(r cachekey.Resolver) Option {
	return func(o *Options) { o.Resolver = r }
}

func WithScalars(r *scalar.Registry) Option {
	return func(o *Options) { o.Scalars = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func defaultOptions() Options {
	return Options{
		Resolver: cachekey.IDResolver{},
		Scalars:  scalar.Default(),
		Logger:   slog.Default(),
	}
}

type subscription struct {
	id int
	fn Subscriber
}

// Store is safe for concurrent use. tx serializes write transactions
// against reads; subscribers are guarded separately and called without
// either lock held.
type Store struct {
	cache      *OptimisticCache
	normalizer *normalizer.Normalizer
	reader     *normalizer.Reader
	logger     *slog.Logger

	tx sync.RWMutex

	subMu       sync.Mutex
	subscribers []subscription
	nextSubID   int
}

// New returns a store over c. A nil c uses an unbounded memory cache.
func New(c cache.NormalizedCache, opts ...Option) *Store {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if c == nil {
		c = memory.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Store{
		cache:      NewOptimisticCache(c),
		normalizer: normalizer.New(o.Resolver, o.Scalars),
		reader:     normalizer.NewReader(o.Resolver, o.Scalars, o.Logger),
		logger:     o.Logger,
	}
}

// Normalizer returns the normalizer writes go through.
func (s *Store) Normalizer() *normalizer.Normalizer { return s.normalizer }

// CacheKeyForObject returns the key the resolver assigns to object, or
// cachekey.NoKey.
func (s *Store) CacheKeyForObject(f cachekey.Field, object map[string]any) cachekey.CacheKey {
	return s.normalizer.Resolver().FromFieldRecordSet(f, object)
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers = append(s.subscribers, subscription{id: id, fn: fn})
	s.subMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, sub := range s.subscribers {
				if sub.id == id {
					s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish notifies subscribers of changed. Empty sets are not published.
func (s *Store) Publish(changed keyset.Set, origin uuid.UUID) {
	if changed.Len() == 0 {
		return
	}
	s.subMu.Lock()
	subs := append([]subscription(nil), s.subscribers...)
	s.subMu.Unlock()
	for _, sub := range subs {
		sub.fn(changed, origin)
	}
}

// ReadTx is the view of the store inside a read transaction.
type ReadTx struct {
	s       *Store
	headers cache.Headers
}

// LoadRecord implements normalizer.RecordSource.
func (tx *ReadTx) LoadRecord(ctx context.Context, key string) (*record.Record, error) {
	return tx.s.cache.LoadRecord(ctx, key, tx.headers)
}

func (tx *ReadTx) LoadRecords(ctx context.Context, keys []string) ([]*record.Record, error) {
	return tx.s.cache.LoadRecords(ctx, keys, tx.headers)
}

// WriteTx is the view of the store inside a write transaction.
type WriteTx struct {
	ReadTx
}

func (tx *WriteTx) Merge(ctx context.Context, r *record.Record) (keyset.Set, error) {
	return tx.s.cache.Merge(ctx, r, tx.headers)
}

func (tx *WriteTx) MergeAll(ctx context.Context, rs []*record.Record) (keyset.Set, error) {
	return tx.s.cache.MergeAll(ctx, rs, tx.headers)
}

// ReadTransaction runs fn while no write transaction is in progress.
func (s *Store) ReadTransaction(h cache.Headers, fn func(*ReadTx) error) error {
	s.tx.RLock()
	defer s.tx.RUnlock()
	return fn(&ReadTx{s: s, headers: h})
}

// WriteTransaction runs fn exclusively.
func (s *Store) WriteTransaction(h cache.Headers, fn func(*WriteTx) error) error {
	s.tx.Lock()
	defer s.tx.Unlock()
	return fn(&WriteTx{ReadTx{s: s, headers: h}})
}

// Read rebuilds the response of op from the cache. A miss is an error
// matching normalizer.ErrCacheMiss.
func (s *Store) Read(ctx context.Context, op *operation.Operation, h cache.Headers) (*operation.Response, error) {
	res, err := s.readRoot(ctx, op.Root(), h)
	if err != nil {
		return nil, err
	}
	return &operation.Response{
		Operation:     op,
		Data:          res.Data,
		DependentKeys: res.DependentKeys,
		FromCache:     true,
	}, nil
}

func (s *Store) readRoot(ctx context.Context, root operation.Root, h cache.Headers) (*normalizer.Result, error) {
	start := time.Now()
	var res *normalizer.Result
	err := s.ReadTransaction(h, func(tx *ReadTx) error {
		var err error
		res, err = s.reader.Read(ctx, tx, root)
		return err
	})
	eventbus.Publish(ctx, events.CacheRead{Key: root.Key, Hit: err == nil, Err: err, Duration: time.Since(start)})
	return res, err
}

// WriteRecords merges records produced elsewhere, such as by the parse
// step of a network response.
func (s *Store) WriteRecords(ctx context.Context, rs []*record.Record, h cache.Headers) (keyset.Set, error) {
	start := time.Now()
	var changed keyset.Set
	err := s.WriteTransaction(h, func(tx *WriteTx) error {
		var err error
		changed, err = tx.MergeAll(ctx, rs)
		return err
	})
	eventbus.Publish(ctx, events.CacheMerge{Records: len(rs), ChangedKeys: changed.Len(), Err: err, Duration: time.Since(start)})
	if err != nil {
		return changed, fmt.Errorf("store: merge records: %w", err)
	}
	return changed, nil
}

// Write normalizes data, the "data" member of a response to op, into the
// cache and returns the changed keys without publishing them.
func (s *Store) Write(ctx context.Context, op *operation.Operation, data map[string]any, h cache.Headers) (keyset.Set, error) {
	return s.writeRoot(ctx, op.Root(), data, h)
}

// WriteAndPublish writes and then publishes the changed keys.
func (s *Store) WriteAndPublish(ctx context.Context, op *operation.Operation, data map[string]any, h cache.Headers) error {
	changed, err := s.Write(ctx, op, data, h)
	if err != nil {
		return err
	}
	s.Publish(changed, uuid.Nil)
	return nil
}

func (s *Store) writeRoot(ctx context.Context, root operation.Root, data map[string]any, h cache.Headers) (keyset.Set, error) {
	res, err := s.normalizer.Normalize(root, data)
	if err != nil {
		return nil, fmt.Errorf("store: normalize: %w", err)
	}
	return s.WriteRecords(ctx, res.Records.Records(), h)
}

// ReadFragment reads the record at key through frag.
func (s *Store) ReadFragment(ctx context.Context, frag *operation.Fragment, key string) (map[string]any, error) {
	res, err := s.readRoot(ctx, frag.Root(key), nil)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// WriteFragment writes data shaped by frag into the record at key.
func (s *Store) WriteFragment(ctx context.Context, frag *operation.Fragment, key string, data map[string]any) (keyset.Set, error) {
	return s.writeRoot(ctx, frag.Root(key), data, nil)
}

func (s *Store) WriteFragmentAndPublish(ctx context.Context, frag *operation.Fragment, key string, data map[string]any) error {
	changed, err := s.WriteFragment(ctx, frag, key, data)
	if err != nil {
		return err
	}
	s.Publish(changed, uuid.Nil)
	return nil
}

// WriteOptimisticUpdates overlays data for op until
// RollbackOptimisticUpdates is called with the same mutationID.
func (s *Store) WriteOptimisticUpdates(ctx context.Context, op *operation.Operation, data map[string]any, mutationID uuid.UUID) (keyset.Set, error) {
	res, err := s.normalizer.Normalize(op.Root(), data)
	if err != nil {
		return nil, fmt.Errorf("store: normalize optimistic data: %w", err)
	}
	rs := res.Records.Records()
	for _, r := range rs {
		r.MutationID = mutationID
	}
	var changed keyset.Set
	_ = s.WriteTransaction(nil, func(*WriteTx) error {
		changed = s.cache.MergeOptimisticUpdates(rs)
		return nil
	})
	eventbus.Publish(ctx, events.CacheMerge{Records: len(rs), ChangedKeys: changed.Len(), Optimistic: true})
	return changed, nil
}

func (s *Store) WriteOptimisticUpdatesAndPublish(ctx context.Context, op *operation.Operation, data map[string]any, mutationID uuid.UUID) error {
	changed, err := s.WriteOptimisticUpdates(ctx, op, data, mutationID)
	if err != nil {
		return err
	}
	s.Publish(changed, uuid.Nil)
	return nil
}

func (s *Store) RollbackOptimisticUpdates(mutationID uuid.UUID) keyset.Set {
	var changed keyset.Set
	_ = s.WriteTransaction(nil, func(*WriteTx) error {
		changed = s.cache.RemoveOptimisticUpdates(mutationID)
		return nil
	})
	return changed
}

func (s *Store) RollbackOptimisticUpdatesAndPublish(mutationID uuid.UUID) {
	s.Publish(s.RollbackOptimisticUpdates(mutationID), uuid.Nil)
}

// ClearAll empties every cache, including optimistic patches. Subscribers
// are not notified.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.WriteTransaction(nil, func(*WriteTx) error {
		return s.cache.Clear(ctx)
	})
}

// Remove deletes key, following references when cascade is set.
func (s *Store) Remove(ctx context.Context, key string, cascade bool) (bool, error) {
	var removed bool
	err := s.WriteTransaction(nil, func(*WriteTx) error {
		var err error
		removed, err = s.cache.Remove(ctx, key, cascade)
		return err
	})
	return removed, err
}

func (s *Store) RemoveAll(ctx context.Context, keys []string) (int, error) {
	var n int
	err := s.WriteTransaction(nil, func(*WriteTx) error {
		var err error
		n, err = s.cache.RemoveAll(ctx, keys)
		return err
	})
	return n, err
}

// Dump returns the content of the underlying caches that support it.
func (s *Store) Dump(ctx context.Context) (map[string]*record.Record, error) {
	s.tx.RLock()
	defer s.tx.RUnlock()
	return s.cache.Dump(ctx)
}
