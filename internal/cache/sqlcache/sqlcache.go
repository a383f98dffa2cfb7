// Package sqlcache is a durable NormalizedCache storing one serialized
// record per row of a SQLite table.
package sqlcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/keyset"
	"github.com/hanpama/graphcache/internal/record"
)

const driverName = "sqlite"

var ErrClosed = errors.New("sqlcache: cache is closed")

var _ cache.NormalizedCache = (*Cache)(nil)

// Cache is safe for concurrent use. Merges read, merge in memory and write
// back; mu serializes those read-modify-write cycles.
type Cache struct {
	db *sql.DB
	mu sync.Mutex

	insert    *sql.Stmt
	update    *sql.Stmt
	del       *sql.Stmt
	deleteAll *sql.Stmt
	selectOne *sql.Stmt
}

// Open opens or creates the database file at path.
func Open(ctx context.Context, path string) (*Cache, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("sqlcache: path must not be empty")
	}
	if dir := filepath.Dir(cleanPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory %q: %w", dir, err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache sqlite %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	c, err := newCache(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open cache sqlite %q: %w", cleanPath, err)
	}
	return c, nil
}

// New wraps an open database. The caller keeps ownership of db.
func New(ctx context.Context, db *sql.DB) (*Cache, error) {
	return newCache(ctx, db)
}

func newCache(ctx context.Context, db *sql.DB) (*Cache, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	if err := migrateSchema(ctx, db); err != nil {
		return nil, err
	}
	c := &Cache{db: db}
	for _, p := range []struct {
		dst   **sql.Stmt
		query string
	}{
		{&c.insert, insertSQL},
		{&c.update, updateSQL},
		{&c.del, deleteSQL},
		{&c.deleteAll, deleteAllSQL},
		{&c.selectOne, selectSQL},
	} {
		stmt, err := db.PrepareContext(ctx, p.query)
		if err != nil {
			c.closeStatements()
			return nil, fmt.Errorf("prepare %q: %w", p.query, err)
		}
		*p.dst = stmt
	}
	return c, nil
}

func (c *Cache) closeStatements() {
	for _, s := range []*sql.Stmt{c.insert, c.update, c.del, c.deleteAll, c.selectOne} {
		if s != nil {
			_ = s.Close()
		}
	}
}

// Close releases statements and the database.
func (c *Cache) Close() error {
	c.closeStatements()
	return c.db.Close()
}

// stmts are the prepared statements bound either to the db or to a tx.
type stmts struct {
	insert, update, del, selectOne *sql.Stmt
}

func (c *Cache) direct() stmts {
	return stmts{insert: c.insert, update: c.update, del: c.del, selectOne: c.selectOne}
}

func (c *Cache) inTx(ctx context.Context, tx *sql.Tx) stmts {
	return stmts{
		insert:    tx.StmtContext(ctx, c.insert),
		update:    tx.StmtContext(ctx, c.update),
		del:       tx.StmtContext(ctx, c.del),
		selectOne: tx.StmtContext(ctx, c.selectOne),
	}
}

func (s stmts) load(ctx context.Context, key string) (*record.Record, error) {
	var raw string
	err := s.selectOne.QueryRowContext(ctx, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select record %q: %w", key, err)
	}
	r, err := record.Unmarshal(key, []byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decode record %q: %w", key, err)
	}
	return r, nil
}

func (s stmts) remove(ctx context.Context, key string) (bool, error) {
	res, err := s.del.ExecContext(ctx, key)
	if err != nil {
		return false, fmt.Errorf("delete record %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s stmts) merge(ctx context.Context, r *record.Record) (keyset.Set, error) {
	existing, err := s.load(ctx, r.Key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		raw, err := record.Marshal(r)
		if err != nil {
			return nil, err
		}
		if _, err := s.insert.ExecContext(ctx, r.Key, string(raw)); err != nil {
			return nil, fmt.Errorf("insert record %q: %w", r.Key, err)
		}
		return keyset.New(), nil
	}
	changed := existing.MergeFrom(r)
	if changed.Len() == 0 {
		return changed, nil
	}
	raw, err := record.Marshal(existing)
	if err != nil {
		return nil, err
	}
	if _, err := s.update.ExecContext(ctx, string(raw), r.Key); err != nil {
		return nil, fmt.Errorf("update record %q: %w", r.Key, err)
	}
	return changed, nil
}

func (c *Cache) LoadRecord(ctx context.Context, key string, h cache.Headers) (*record.Record, error) {
	r, err := c.direct().load(ctx, key)
	if err != nil || r == nil {
		return nil, err
	}
	if h.Has(cache.EvictAfterRead) {
		if _, err := c.direct().remove(ctx, key); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (c *Cache) LoadRecords(ctx context.Context, keys []string, h cache.Headers) ([]*record.Record, error) {
	out := make([]*record.Record, 0, len(keys))
	for _, k := range keys {
		r, err := c.LoadRecord(ctx, k, h)
		if err != nil {
			return nil, err
		}
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// Merge runs outside a transaction.
func (c *Cache) Merge(ctx context.Context, r *record.Record, h cache.Headers) (keyset.Set, error) {
	if h.Has(cache.DoNotStore) {
		return keyset.New(), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.direct().merge(ctx, r)
}

// MergeAll merges every record in one transaction; on error nothing is
// written.
func (c *Cache) MergeAll(ctx context.Context, rs []*record.Record, h cache.Headers) (keyset.Set, error) {
	if h.Has(cache.DoNotStore) {
		return keyset.New(), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin merge: %w", err)
	}
	s := c.inTx(ctx, tx)
	changed := keyset.New()
	for _, r := range rs {
		ks, err := s.merge(ctx, r)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		changed.AddAll(ks)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge: %w", err)
	}
	return changed, nil
}

func (c *Cache) Remove(ctx context.Context, key string, cascade bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.direct()
	if !cascade {
		return s.remove(ctx, key)
	}
	return cache.Cascade(key,
		func(k string) (*record.Record, error) { return s.load(ctx, k) },
		func(k string) (bool, error) { return s.remove(ctx, k) },
	)
}

func (c *Cache) RemoveAll(ctx context.Context, keys []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range keys {
		ok, err := c.direct().remove(ctx, k)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.deleteAll.ExecContext(ctx); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	return nil
}

func (c *Cache) Dump(ctx context.Context) (map[string]*record.Record, error) {
	rows, err := c.db.QueryContext(ctx, dumpSQL)
	if err != nil {
		return nil, fmt.Errorf("dump records: %w", err)
	}
	defer rows.Close()
	out := make(map[string]*record.Record)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r, err := record.Unmarshal(key, []byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode record %q: %w", key, err)
		}
		out[key] = r
	}
	return out, rows.Err()
}

// Keys returns every stored key in insertion order.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, keysOnlySQL)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}
