package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// TradeStore implements domain.TradeStore over the trades table.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Decimals travel as text so no precision is lost in either direction.
const tradeSelectCols = `id, symbol, side, shares, price, fees::text, realized_pnl::text,
	executed_at, confidence, sector, strategy, reason`

func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	var out []domain.Trade
	for rows.Next() {
		var (
			t        domain.Trade
			side     string
			fees     string
			realized *string
		)
		if err := rows.Scan(
			&t.ID, &t.Symbol, &side, &t.Shares, &t.Price, &fees, &realized,
			&t.Timestamp, &t.Confidence, &t.Sector, &t.Strategy, &t.Reason,
		); err != nil {
			return nil, err
		}
		t.Side = domain.TradeSide(side)
		t.Timestamp = t.Timestamp.UTC()
		var err error
		if t.Fees, err = decimal.NewFromString(fees); err != nil {
			return nil, fmt.Errorf("trade %s fees: %w", t.ID, err)
		}
		if realized != nil {
			pnl, err := decimal.NewFromString(*realized)
			if err != nil {
				return nil, fmt.Errorf("trade %s realized pnl: %w", t.ID, err)
			}
			t.RealizedPnL = &pnl
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Append inserts trades in one batch. Re-appending a trade ID is a no-op.
func (s *TradeStore) Append(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	const query = `
		INSERT INTO trades (
			id, symbol, side, shares, price, fees, realized_pnl,
			executed_at, confidence, sector, strategy, reason
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, t := range trades {
		var realized *string
		if t.RealizedPnL != nil {
			v := t.RealizedPnL.String()
			realized = &v
		}
		batch.Queue(query,
			t.ID, t.Symbol, string(t.Side), t.Shares, t.Price, t.Fees.String(), realized,
			t.Timestamp.UTC(), t.Confidence, t.Sector, t.Strategy, t.Reason,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append trade %s: %w", trades[i].ID, err)
		}
	}
	return nil
}

// ListBySymbol returns a symbol's trades newest first, paginated and
// optionally bounded in time.
func (s *TradeStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE symbol = $1`
	args := []any{symbol}

	if opts.Since != nil {
		args = append(args, opts.Since.UTC())
		query += fmt.Sprintf(" AND executed_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, opts.Until.UTC())
		query += fmt.Sprintf(" AND executed_at <= $%d", len(args))
	}
	query += " ORDER BY executed_at DESC, id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", symbol, err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades %s: %w", symbol, err)
	}
	return trades, nil
}

// ListSince returns every trade at or after since, oldest first.
func (s *TradeStore) ListSince(ctx context.Context, since time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE executed_at >= $1 ORDER BY executed_at, id`,
		since.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades since: %w", err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades since: %w", err)
	}
	return trades, nil
}
