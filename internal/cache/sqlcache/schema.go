package sqlcache

import (
	"context"
	"database/sql"
	"fmt"
)

func migrateSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS records (
  _id INTEGER PRIMARY KEY AUTOINCREMENT,
  key TEXT NOT NULL,
  record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_key ON records(key);
`)
	if err != nil {
		return fmt.Errorf("migrate records schema: %w", err)
	}
	return nil
}

const (
	insertSQL    = `INSERT INTO records (key, record) VALUES (?, ?)`
	updateSQL    = `UPDATE records SET record = ? WHERE key = ?`
	deleteSQL    = `DELETE FROM records WHERE key = ?`
	deleteAllSQL = `DELETE FROM records`
	selectSQL    = `SELECT record FROM records WHERE key = ? ORDER BY _id LIMIT 1`
	dumpSQL      = `SELECT key, record FROM records ORDER BY _id`
	keysOnlySQL  = `SELECT key FROM records ORDER BY _id`
)
