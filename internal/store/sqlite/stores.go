package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore.
type SnapshotStore struct {
	db *sql.DB
}

// Put replaces the snapshot under rec.Key.
func (s *SnapshotStore) Put(ctx context.Context, rec domain.SnapshotRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO state_snapshots (key, mode, iteration, trading_day, payload, saved_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  mode = excluded.mode,
  iteration = excluded.iteration,
  trading_day = excluded.trading_day,
  payload = excluded.payload,
  saved_at_ms = excluded.saved_at_ms`,
		rec.Key, rec.Mode, rec.Iteration, rec.TradingDay, rec.Payload, rec.SavedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: put snapshot %s: %w", rec.Key, err)
	}
	return nil
}

// Get returns the snapshot under key or domain.ErrNotFound.
func (s *SnapshotStore) Get(ctx context.Context, key string) (domain.SnapshotRecord, error) {
	var (
		rec   domain.SnapshotRecord
		saved int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT key, mode, iteration, trading_day, payload, saved_at_ms
FROM state_snapshots WHERE key = ?`, key).
		Scan(&rec.Key, &rec.Mode, &rec.Iteration, &rec.TradingDay, &rec.Payload, &saved)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SnapshotRecord{}, fmt.Errorf("sqlite: snapshot %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("sqlite: get snapshot %s: %w", key, err)
	}
	rec.SavedAt = time.UnixMilli(saved).UTC()
	return rec, nil
}

// TradeStore implements domain.TradeStore. Timestamps are kept at
// millisecond precision.
type TradeStore struct {
	db *sql.DB
}

const tradeCols = `id, symbol, side, shares, price, fees, realized_pnl, ts_ms, confidence, sector, strategy, reason`

// Append inserts trades in one transaction, skipping known IDs.
func (s *TradeStore) Append(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO trades (`+tradeCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare trade insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		var realized sql.NullString
		if t.RealizedPnL != nil {
			realized = sql.NullString{String: t.RealizedPnL.String(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			t.ID, t.Symbol, string(t.Side), t.Shares, t.Price, t.Fees.String(), realized,
			t.Timestamp.UnixMilli(), t.Confidence, t.Sector, t.Strategy, t.Reason,
		); err != nil {
			return fmt.Errorf("sqlite: insert trade %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit trades: %w", err)
	}
	return nil
}

// ListBySymbol returns a symbol's trades newest first.
func (s *TradeStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Trade, error) {
	var (
		where = []string{"symbol = ?"}
		args  = []any{symbol}
	)
	if opts.Since != nil {
		where = append(where, "ts_ms >= ?")
		args = append(args, opts.Since.UnixMilli())
	}
	if opts.Until != nil {
		where = append(where, "ts_ms <= ?")
		args = append(args, opts.Until.UnixMilli())
	}
	query := `SELECT ` + tradeCols + ` FROM trades WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ts_ms DESC, id`
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}
	return s.query(ctx, query, args...)
}

// ListSince returns trades at or after since, oldest first.
func (s *TradeStore) ListSince(ctx context.Context, since time.Time) ([]domain.Trade, error) {
	return s.query(ctx, `SELECT `+tradeCols+` FROM trades WHERE ts_ms >= ? ORDER BY ts_ms, id`, since.UnixMilli())
}

func (s *TradeStore) query(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var (
			t        domain.Trade
			side     string
			fees     string
			realized sql.NullString
			ts       int64
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Shares, &t.Price, &fees, &realized,
			&ts, &t.Confidence, &t.Sector, &t.Strategy, &t.Reason); err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		t.Side = domain.TradeSide(side)
		t.Timestamp = time.UnixMilli(ts).UTC()
		if t.Fees, err = decimal.NewFromString(fees); err != nil {
			return nil, fmt.Errorf("sqlite: trade %s fees: %w", t.ID, err)
		}
		if realized.Valid {
			pnl, err := decimal.NewFromString(realized.String)
			if err != nil {
				return nil, fmt.Errorf("sqlite: trade %s realized pnl: %w", t.ID, err)
			}
			t.RealizedPnL = &pnl
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	db  *sql.DB
	now func() time.Time
}

// Log appends event.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at_ms) VALUES (?, ?, ?)`,
		event, string(payload), now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("sqlite: audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var (
		where = []string{"1 = 1"}
		args  []any
	)
	if opts.Since != nil {
		where = append(where, "created_at_ms >= ?")
		args = append(args, opts.Since.UnixMilli())
	}
	if opts.Until != nil {
		where = append(where, "created_at_ms <= ?")
		args = append(args, opts.Until.UnixMilli())
	}
	query := `SELECT id, event, detail, created_at_ms FROM audit_log WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at_ms DESC, id DESC`
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			detail sql.NullString
			ms     int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &ms); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit: %w", err)
		}
		e.CreatedAt = time.UnixMilli(ms).UTC()
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: decode audit detail %d: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
