package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/ledger"
	"github.com/alanyoungcy/tradecore/internal/state"
	"github.com/alanyoungcy/tradecore/internal/trading"
)

const (
	defaultViewRefresh = 30 * time.Second

	// statusStaleAfter drops a bus status once the loop stops publishing.
	statusStaleAfter = 3 * statusInterval
)

// ledgerView serves the operator API from persisted state for a loop that
// runs in another process. Control commands are refused.
type ledgerView struct {
	mgr       *state.Manager
	newLedger func() (*ledger.Ledger, error)
	historyN  int
	now       func() time.Time
	logger    *slog.Logger

	mu        sync.RWMutex
	snap      domain.StateSnapshot
	ledger    *ledger.Ledger
	decisions []trading.Decision
	status    trading.Status
	statusAt  time.Time
}

func newLedgerView(mgr *state.Manager, newLedger func() (*ledger.Ledger, error), historyN int, logger *slog.Logger) *ledgerView {
	if historyN <= 0 {
		historyN = 500
	}
	v := &ledgerView{
		mgr:       mgr,
		newLedger: newLedger,
		historyN:  historyN,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "ledger_view")),
	}
	if l, err := newLedger(); err == nil {
		v.ledger = l
	}
	return v
}

// Refresh reloads the latest snapshot into a fresh ledger.
func (v *ledgerView) Refresh(ctx context.Context) error {
	snap, err := v.mgr.Load(ctx)
	if err != nil {
		return err
	}
	l, err := v.newLedger()
	if err != nil {
		return err
	}
	if err := l.Restore(snap.Ledger); err != nil {
		return err
	}

	v.mu.Lock()
	v.snap = snap
	v.ledger = l
	v.mu.Unlock()
	return nil
}

// Follow records decisions and status from the event bus and refreshes the
// snapshot every interval until ctx is cancelled.
func (v *ledgerView) Follow(ctx context.Context, bus domain.EventBus, every time.Duration) error {
	if every <= 0 {
		every = defaultViewRefresh
	}
	decisions, err := bus.Subscribe(ctx, domain.ChannelDecisions)
	if err != nil {
		return err
	}
	statuses, err := bus.Subscribe(ctx, domain.ChannelStatus)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-decisions:
			if !ok {
				decisions = nil
				continue
			}
			v.addDecision(data)
		case data, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			v.setStatus(data)
		case <-ticker.C:
			if err := v.Refresh(ctx); err != nil && ctx.Err() == nil {
				v.logger.Debug("snapshot refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (v *ledgerView) addDecision(data []byte) {
	var d trading.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		v.logger.Warn("bad decision event", slog.String("error", err.Error()))
		return
	}
	v.mu.Lock()
	v.decisions = append(v.decisions, d)
	if n := len(v.decisions); n > v.historyN {
		v.decisions = append([]trading.Decision(nil), v.decisions[n-v.historyN:]...)
	}
	v.mu.Unlock()
}

func (v *ledgerView) setStatus(data []byte) {
	var st trading.Status
	if err := json.Unmarshal(data, &st); err != nil {
		v.logger.Warn("bad status event", slog.String("error", err.Error()))
		return
	}
	v.mu.Lock()
	v.status = st
	v.statusAt = v.now()
	v.mu.Unlock()
}

// Status returns the loop's last published status while it is fresh, and
// otherwise a stopped status derived from the snapshot.
func (v *ledgerView) Status() trading.Status {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.statusAt.IsZero() && v.now().Sub(v.statusAt) < statusStaleAfter {
		return v.status
	}
	st := trading.Status{
		Mode:       v.snap.Mode,
		Iteration:  v.snap.Iteration,
		TradingDay: v.snap.TradingDay,
		Regime:     domain.RegimeNeutral,
		Cooldowns:  len(v.snap.Cooldowns),
	}
	if v.ledger != nil {
		st.Cash = v.ledger.Cash()
		st.Equity = v.ledger.Equity(v.snap.LastPrices)
		st.OpenPositions = v.ledger.Count()
	}
	return st
}

func (v *ledgerView) Snapshot() domain.StateSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap
}

// Decisions returns up to limit recent decisions, oldest first.
func (v *ledgerView) Decisions(limit int) []trading.Decision {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := v.decisions
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]trading.Decision(nil), out...)
}

func (v *ledgerView) Ledger() trading.LedgerReader {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ledger
}

func (v *ledgerView) RequestCloseAll(context.Context, string) (int, error) {
	return 0, trading.ErrNotRunning
}

func (v *ledgerView) RequestStop(context.Context) error {
	return trading.ErrNotRunning
}
