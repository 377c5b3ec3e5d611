package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SnapshotRecord is an encoded StateSnapshot plus the columns stores index on.
type SnapshotRecord struct {
	Key        string
	Mode       string
	Iteration  int64
	TradingDay string
	Payload    []byte
	SavedAt    time.Time
}

// SnapshotStore persists the latest encoded snapshot per instance key.
type SnapshotStore interface {
	Put(ctx context.Context, rec SnapshotRecord) error
	Get(ctx context.Context, key string) (SnapshotRecord, error)
}

// TradeStore persists the append-only trade history.
type TradeStore interface {
	Append(ctx context.Context, trades []Trade) error
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]Trade, error)
	ListSince(ctx context.Context, since time.Time) ([]Trade, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
