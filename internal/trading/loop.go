package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/notify"
)

// finalSaveTimeout bounds the snapshot written after cancellation.
const finalSaveTimeout = 10 * time.Second

// Run executes a cycle per tick until ctx is cancelled, a stop command
// arrives or ticks is closed. Each exit path persists a final snapshot.
// Run may be called once per Trader.
func (t *Trader) Run(ctx context.Context, ticks <-chan time.Time) error {
	t.running.Store(true)
	defer func() {
		t.running.Store(false)
		close(t.loopDone)
	}()

	t.logger.InfoContext(ctx, "trading loop started",
		slog.Any("symbols", t.cfg.Symbols),
		slog.Int64("iteration", t.Iteration()),
	)
	defer t.logger.Info("trading loop stopped")

	for {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSaveTimeout)
			if err := t.Shutdown(sctx); err != nil {
				t.logger.Error("final save failed", slog.String("error", err.Error()))
			}
			cancel()
			return ctx.Err()

		case cmd := <-t.cmds:
			switch cmd.kind {
			case cmdCloseAll:
				n, err := t.CloseAll(ctx, cmd.reason)
				cmd.reply <- commandResult{closed: n, err: err}
			case cmdStop:
				err := t.Shutdown(ctx)
				cmd.reply <- commandResult{err: err}
				return err
			}

		case now, ok := <-ticks:
			if !ok {
				t.logger.InfoContext(ctx, "tick source exhausted")
				return t.Shutdown(ctx)
			}
			if until, paused := t.pausedAt(now); paused {
				t.logger.DebugContext(ctx, "cycle skipped while paused", slog.Time("until", until))
				continue
			}
			if err := t.Cycle(ctx, now); err != nil {
				t.handleCycleError(ctx, err)
			}
		}
	}
}

func (t *Trader) handleCycleError(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil:
	case errors.Is(err, domain.ErrLoopPaused):
		var until time.Time
		if t.deps.Breaker != nil {
			until = t.deps.Breaker.ReopenAt()
		}
		t.mu.Lock()
		t.pausedUntil = until
		t.mu.Unlock()

		t.logger.WarnContext(ctx, "trading loop paused",
			slog.Time("until", until),
			slog.String("error", err.Error()),
		)
		if !until.IsZero() && t.deps.Notifier.Enabled(notify.EventCircuitOpen) {
			title, msg := notify.BreakerAlert(t.deps.Breaker.Name(), until)
			t.deps.Notifier.Enqueue(notify.EventCircuitOpen, title, msg)
		}
	default:
		t.logger.ErrorContext(ctx, "cycle failed", slog.String("error", err.Error()))
		if t.deps.Notifier.Enabled(notify.EventError) {
			t.deps.Notifier.Enqueue(notify.EventError, "Cycle failed", err.Error())
		}
	}
}

func (t *Trader) pausedAt(now time.Time) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pausedUntil, !t.pausedUntil.IsZero() && now.Before(t.pausedUntil)
}

// Restore resumes from the latest snapshot for this mode. A missing snapshot
// starts fresh; a snapshot from another mode is an error.
func (t *Trader) Restore(ctx context.Context) error {
	if t.deps.State == nil {
		return nil
	}
	snap, err := t.deps.State.Restore(ctx, t.cfg.Mode)
	if errors.Is(err, domain.ErrNotFound) {
		t.logger.InfoContext(ctx, "no snapshot, starting fresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("trading: restore: %w", err)
	}
	if err := t.deps.Ledger.Restore(snap.Ledger); err != nil {
		return fmt.Errorf("trading: restore ledger: %w", err)
	}
	t.cooldowns.Restore(snap.Cooldowns)

	t.mu.Lock()
	t.iteration = snap.Iteration
	t.tradingDay = snap.TradingDay
	t.lastPrices = make(map[string]float64, len(snap.LastPrices))
	for k, v := range snap.LastPrices {
		t.lastPrices[k] = v
	}
	t.mu.Unlock()

	t.publishLedger()
	return nil
}

// Shutdown persists a snapshot unconditionally.
func (t *Trader) Shutdown(ctx context.Context) error {
	saved, err := t.checkpoint(ctx, true)
	if err != nil {
		return fmt.Errorf("trading: shutdown save: %w", err)
	}
	if saved {
		t.logger.InfoContext(ctx, "state persisted", slog.Int64("iteration", t.Iteration()))
	}
	return nil
}

// CloseAll exits every open position at its last known price, or at entry
// when no price has been seen. It returns how many positions were closed.
// While Run is active use RequestCloseAll instead.
func (t *Trader) CloseAll(ctx context.Context, reason string) (int, error) {
	prices := t.prices()
	now := t.now()
	iter := t.Iteration()

	var (
		n    int
		errs []error
	)
	for _, pos := range t.sortedPositions() {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			t.logger.WarnContext(ctx, "no price for close-all, using entry",
				slog.String("key", pos.Key()),
				slog.Float64("entry", pos.EntryPrice),
			)
			price = pos.EntryPrice
		}
		if err := t.exitPosition(ctx, now, iter, pos, price, ExitManual, pos.Confidence, reason); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", pos.Key(), err))
			continue
		}
		n++
	}
	t.publishLedger()
	if _, err := t.checkpoint(ctx, true); err != nil {
		errs = append(errs, err)
	}
	t.logger.InfoContext(ctx, "close-all finished", slog.Int("closed", n), slog.String("reason", reason))
	return n, errors.Join(errs...)
}

// RequestCloseAll asks the running loop to close every position, or closes
// them directly when the loop is not running.
func (t *Trader) RequestCloseAll(ctx context.Context, reason string) (int, error) {
	if !t.running.Load() {
		return t.CloseAll(ctx, reason)
	}
	res, err := t.send(ctx, command{kind: cmdCloseAll, reason: reason})
	if err != nil {
		return 0, err
	}
	return res.closed, res.err
}

// RequestStop asks the running loop to persist and return.
func (t *Trader) RequestStop(ctx context.Context) error {
	if !t.running.Load() {
		return ErrNotRunning
	}
	res, err := t.send(ctx, command{kind: cmdStop})
	if err != nil {
		return err
	}
	return res.err
}

func (t *Trader) send(ctx context.Context, cmd command) (commandResult, error) {
	cmd.reply = make(chan commandResult, 1)
	select {
	case t.cmds <- cmd:
	case <-t.loopDone:
		return commandResult{}, ErrNotRunning
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res, nil
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
}

// Snapshot returns the current persistable state.
func (t *Trader) Snapshot() domain.StateSnapshot {
	t.mu.RLock()
	snap := domain.StateSnapshot{
		Mode:       t.cfg.Mode,
		Iteration:  t.iteration,
		TradingDay: t.tradingDay,
		LastPrices: make(map[string]float64, len(t.lastPrices)),
	}
	for k, v := range t.lastPrices {
		snap.LastPrices[k] = v
	}
	t.mu.RUnlock()

	snap.Ledger = t.deps.Ledger.State()
	snap.Cooldowns = t.cooldowns.Snapshot()
	return snap
}

// Decisions returns up to limit recent decisions, oldest first.
func (t *Trader) Decisions(limit int) []Decision {
	return t.decisions.list(limit)
}

// Iteration returns the number of cycles run, including restored ones.
func (t *Trader) Iteration() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.iteration
}

// Status summarises the loop for operators.
type Status struct {
	Mode          string          `json:"mode"`
	Running       bool            `json:"running"`
	Iteration     int64           `json:"iteration"`
	TradingDay    string          `json:"trading_day"`
	Regime        domain.Regime   `json:"regime"`
	Breaker       string          `json:"breaker,omitempty"`
	PausedUntil   *time.Time      `json:"paused_until,omitempty"`
	Cash          decimal.Decimal `json:"cash"`
	Equity        decimal.Decimal `json:"equity"`
	OpenPositions int             `json:"open_positions"`
	Cooldowns     int             `json:"cooldowns"`
}

// Status returns the current loop status.
func (t *Trader) Status() Status {
	t.mu.RLock()
	st := Status{
		Mode:       t.cfg.Mode,
		Running:    t.running.Load(),
		Iteration:  t.iteration,
		TradingDay: t.tradingDay,
	}
	if !t.pausedUntil.IsZero() {
		until := t.pausedUntil
		st.PausedUntil = &until
	}
	t.mu.RUnlock()

	st.Regime = t.deps.Aggregator.Regime()
	if t.deps.Breaker != nil {
		st.Breaker = t.deps.Breaker.State().String()
	}
	st.Cash = t.deps.Ledger.Cash()
	st.Equity = t.deps.Ledger.Equity(t.prices())
	st.OpenPositions = t.deps.Ledger.Count()
	st.Cooldowns = t.cooldowns.Len()
	return st
}

// Ledger exposes the ledger for read-only queries.
func (t *Trader) Ledger() LedgerReader { return t.deps.Ledger }

// LedgerReader is the read side of the ledger offered to API handlers.
type LedgerReader interface {
	Positions() map[string]domain.Position
	Trades(symbol string) []domain.Trade
	State() domain.LedgerState
	Cash() decimal.Decimal
}
