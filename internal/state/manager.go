package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/metrics"
)

// Archive is the end-of-day blob archive used as a second recovery source.
type Archive interface {
	ArchiveDay(ctx context.Context, key, day string, snapshot []byte, trades []domain.Trade) error
	LatestSnapshot(ctx context.Context, key string) ([]byte, string, error)
}

// Config controls the snapshot key and checkpoint throttle. With both
// throttle fields zero every checkpoint saves.
type Config struct {
	Key             string
	SaveEveryCycles int
	SaveInterval    time.Duration
}

// Manager saves snapshots to the primary store and restores from it, falling
// back to the newest archived day.
type Manager struct {
	store   domain.SnapshotStore
	archive Archive
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	saved    bool
	lastSave time.Time
	lastIter int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for SavedAt and the throttle.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. archive may be nil.
func NewManager(store domain.SnapshotStore, archive Archive, cfg Config, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.Key == "" {
		cfg.Key = "tradecore"
	}
	mgr := &Manager{
		store:   store,
		archive: archive,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "state")),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(mgr)
	}
	return mgr
}

// Key returns the instance key snapshots are stored under.
func (m *Manager) Key() string { return m.cfg.Key }

// Save writes snap to the primary store unconditionally.
func (m *Manager) Save(ctx context.Context, snap domain.StateSnapshot) error {
	snap.SavedAt = m.now()
	data, err := Encode(snap)
	if err != nil {
		m.metrics.ObserveSnapshot("error")
		return err
	}
	err = m.store.Put(ctx, domain.SnapshotRecord{
		Key:        m.cfg.Key,
		Mode:       snap.Mode,
		Iteration:  snap.Iteration,
		TradingDay: snap.TradingDay,
		Payload:    data,
		SavedAt:    snap.SavedAt,
	})
	if err != nil {
		m.metrics.ObserveSnapshot("error")
		return fmt.Errorf("state: save: %w", err)
	}

	m.mu.Lock()
	m.saved = true
	m.lastSave = snap.SavedAt
	m.lastIter = snap.Iteration
	m.mu.Unlock()

	m.metrics.ObserveSnapshot("saved")
	m.logger.DebugContext(ctx, "snapshot saved",
		slog.Int64("iteration", snap.Iteration),
		slog.String("trading_day", snap.TradingDay),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// Checkpoint saves snap when forced or when the throttle has elapsed, and
// reports whether it did.
func (m *Manager) Checkpoint(ctx context.Context, snap domain.StateSnapshot, force bool) (bool, error) {
	if !force && !m.due(snap.Iteration) {
		m.metrics.ObserveSnapshot("skipped")
		return false, nil
	}
	if err := m.Save(ctx, snap); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) due(iteration int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return true
	}
	if m.cfg.SaveEveryCycles <= 0 && m.cfg.SaveInterval <= 0 {
		return true
	}
	if m.cfg.SaveEveryCycles > 0 && iteration-m.lastIter >= int64(m.cfg.SaveEveryCycles) {
		return true
	}
	return m.cfg.SaveInterval > 0 && m.now().Sub(m.lastSave) >= m.cfg.SaveInterval
}

// Load returns the latest snapshot regardless of mode, from the primary store
// or else the archive. It returns domain.ErrNotFound when neither has one.
func (m *Manager) Load(ctx context.Context) (domain.StateSnapshot, error) {
	rec, err := m.store.Get(ctx, m.cfg.Key)
	switch {
	case err == nil:
		return Decode(rec.Payload)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.StateSnapshot{}, fmt.Errorf("state: load %s: %w", m.cfg.Key, err)
	case m.archive == nil:
		return domain.StateSnapshot{}, fmt.Errorf("state: load %s: %w", m.cfg.Key, domain.ErrNotFound)
	}

	data, day, err := m.archive.LatestSnapshot(ctx, m.cfg.Key)
	if err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("state: load %s from archive: %w", m.cfg.Key, err)
	}
	m.logger.InfoContext(ctx, "primary store empty, using archive", slog.String("day", day))
	return Decode(data)
}

// Restore loads the latest snapshot and checks it was taken in mode. A
// snapshot from another mode is rejected with domain.ErrModeMismatch.
func (m *Manager) Restore(ctx context.Context, mode string) (domain.StateSnapshot, error) {
	snap, err := m.Load(ctx)
	if err != nil {
		return domain.StateSnapshot{}, err
	}
	if snap.Mode != mode {
		return domain.StateSnapshot{}, fmt.Errorf("state: restore: snapshot taken in %q, running %q: %w",
			snap.Mode, mode, domain.ErrModeMismatch)
	}

	m.mu.Lock()
	m.saved = true
	m.lastSave = m.now()
	m.lastIter = snap.Iteration
	m.mu.Unlock()

	m.metrics.ObserveSnapshot("restored")
	m.logger.InfoContext(ctx, "snapshot restored",
		slog.String("mode", snap.Mode),
		slog.Int64("iteration", snap.Iteration),
		slog.String("trading_day", snap.TradingDay),
		slog.Int("positions", len(snap.Ledger.Positions)),
	)
	return snap, nil
}

// ArchiveDay uploads snap and the day's trades. It is a no-op without an
// archive.
func (m *Manager) ArchiveDay(ctx context.Context, snap domain.StateSnapshot, trades []domain.Trade) error {
	if m.archive == nil {
		return nil
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = m.now()
	}
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	if err := m.archive.ArchiveDay(ctx, m.cfg.Key, snap.TradingDay, data, trades); err != nil {
		m.metrics.ObserveSnapshot("archive_error")
		return fmt.Errorf("state: archive %s: %w", snap.TradingDay, err)
	}
	m.metrics.ObserveSnapshot("archived")
	return nil
}
