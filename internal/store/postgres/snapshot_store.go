package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore with one row per key.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Put replaces the snapshot stored under rec.Key.
func (s *SnapshotStore) Put(ctx context.Context, rec domain.SnapshotRecord) error {
	const query = `
		INSERT INTO state_snapshots (key, mode, iteration, trading_day, payload, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			mode = EXCLUDED.mode,
			iteration = EXCLUDED.iteration,
			trading_day = EXCLUDED.trading_day,
			payload = EXCLUDED.payload,
			saved_at = EXCLUDED.saved_at`
	if _, err := s.pool.Exec(ctx, query,
		rec.Key, rec.Mode, rec.Iteration, rec.TradingDay, rec.Payload, rec.SavedAt.UTC(),
	); err != nil {
		return fmt.Errorf("postgres: put snapshot %s: %w", rec.Key, err)
	}
	return nil
}

// Get returns the snapshot under key or domain.ErrNotFound.
func (s *SnapshotStore) Get(ctx context.Context, key string) (domain.SnapshotRecord, error) {
	const query = `
		SELECT key, mode, iteration, trading_day, payload, saved_at
		FROM state_snapshots WHERE key = $1`
	var rec domain.SnapshotRecord
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key, &rec.Mode, &rec.Iteration, &rec.TradingDay, &rec.Payload, &rec.SavedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SnapshotRecord{}, fmt.Errorf("postgres: snapshot %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("postgres: get snapshot %s: %w", key, err)
	}
	rec.SavedAt = rec.SavedAt.UTC()
	return rec, nil
}
