// Package sqlite is the single-file store for paper and replay runs. It
// implements the snapshot, trade and audit stores on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS state_snapshots (
  key TEXT PRIMARY KEY,
  mode TEXT NOT NULL,
  iteration INTEGER NOT NULL,
  trading_day TEXT NOT NULL DEFAULT '',
  payload BLOB NOT NULL,
  saved_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  shares INTEGER NOT NULL,
  price REAL NOT NULL,
  fees TEXT NOT NULL,
  realized_pnl TEXT,
  ts_ms INTEGER NOT NULL,
  confidence REAL NOT NULL DEFAULT 0,
  sector TEXT NOT NULL DEFAULT '',
  strategy TEXT NOT NULL DEFAULT '',
  reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades(symbol, ts_ms);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts_ms);

CREATE TABLE IF NOT EXISTS audit_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  event TEXT NOT NULL,
  detail TEXT,
  created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at_ms);
`

// DB is an open SQLite database with the schema applied.
type DB struct {
	db *sql.DB
}

// Open creates the parent directory if needed, opens path and migrates it.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// Health pings the database.
func (d *DB) Health(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: health: %w", err)
	}
	return nil
}

// Snapshots returns the snapshot store.
func (d *DB) Snapshots() *SnapshotStore { return &SnapshotStore{db: d.db} }

// Trades returns the trade store.
func (d *DB) Trades() *TradeStore { return &TradeStore{db: d.db} }

// Audit returns the audit store.
func (d *DB) Audit() *AuditStore { return &AuditStore{db: d.db} }
