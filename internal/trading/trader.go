// Package trading runs the decision loop: fetch, aggregate, filter, size,
// execute and persist, identically for replay and live trading.
package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/executor"
	"github.com/alanyoungcy/tradecore/internal/ledger"
	"github.com/alanyoungcy/tradecore/internal/metrics"
	"github.com/alanyoungcy/tradecore/internal/notify"
	"github.com/alanyoungcy/tradecore/internal/risk"
	"github.com/alanyoungcy/tradecore/internal/state"
	"github.com/alanyoungcy/tradecore/internal/strategy"
)

// ErrNotRunning is returned by loop commands when Run is not active.
var ErrNotRunning = errors.New("trading loop not running")

// Config holds the decision policy parameters.
type Config struct {
	Mode      string
	Symbols   []string
	Benchmark string // regime source; empty keeps the aggregator neutral

	EntryConfidenceThreshold float64
	MaxPositions             int // new longs are rejected at this many open positions
	MaxEntriesPerCycle       int // 0 takes every qualifying entry
	AllowShorts              bool
	AllowAveraging           bool

	ExitCooldown     time.Duration // after signal, target and manual exits
	StopLossCooldown time.Duration

	ATRPeriod            int
	MaxConcurrentFetches int
	Retry                RetryPolicy
	Location             *time.Location // trading-day boundary
	HistorySize          int            // decisions kept in memory
}

// Observer receives decisions and trades as the loop produces them.
type Observer interface {
	OnDecision(d Decision)
	OnTrade(t domain.Trade)
}

// Deps are the collaborators a Trader drives. Feed, Executor, Ledger,
// Aggregator, Risk and at least one strategy are required.
type Deps struct {
	Feed       MarketFeed
	Executor   Executor
	Ledger     *ledger.Ledger
	Strategies []strategy.SignalGenerator
	Aggregator *strategy.Aggregator
	Regime     *strategy.RegimeDetector
	Risk       *risk.Calculator
	Breaker    *executor.Breaker // guards market data fetches
	State      *state.Manager
	Trades     domain.TradeStore
	Audit      domain.AuditStore
	Bus        domain.EventBus
	Notifier   *notify.Notifier
	Metrics    *metrics.Metrics
	Syncer     domain.PositionSyncer
	Observers  []Observer
	Clock      func() time.Time
	Logger     *slog.Logger
}

type cmdKind int

const (
	cmdCloseAll cmdKind = iota
	cmdStop
)

type command struct {
	kind   cmdKind
	reason string
	reply  chan commandResult
}

type commandResult struct {
	closed int
	err    error
}

// Trader is the decision loop. Cycle is called from a single goroutine; the
// read-side methods are safe to call concurrently with it.
type Trader struct {
	cfg  Config
	deps Deps

	cooldowns *Cooldowns
	decisions *decisionLog
	now       func() time.Time
	logger    *slog.Logger

	cmds     chan command
	running  atomic.Bool
	loopDone chan struct{}

	mu          sync.RWMutex
	iteration   int64
	tradingDay  string
	lastPrices  map[string]float64
	pausedUntil time.Time
	reconcile   map[string]struct{}
}

// NewTrader validates deps and fills config defaults.
func NewTrader(cfg Config, deps Deps) (*Trader, error) {
	switch {
	case deps.Feed == nil:
		return nil, domain.Validation("feed", "required")
	case deps.Executor == nil:
		return nil, domain.Validation("executor", "required")
	case deps.Ledger == nil:
		return nil, domain.Validation("ledger", "required")
	case deps.Aggregator == nil:
		return nil, domain.Validation("aggregator", "required")
	case deps.Risk == nil:
		return nil, domain.Validation("risk", "required")
	case len(deps.Strategies) == 0:
		return nil, domain.Validation("strategies", "at least one strategy is required")
	}
	if cfg.Mode == "" {
		return nil, domain.Validation("mode", "required")
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = 4
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = RetryPolicy{Attempts: 3, Initial: 200 * time.Millisecond, Max: 2 * time.Second}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cfg.Symbols = uniqueSorted(cfg.Symbols)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Trader{
		cfg:        cfg,
		deps:       deps,
		cooldowns:  NewCooldowns(),
		decisions:  newDecisionLog(cfg.HistorySize),
		now:        now,
		logger:     logger.With(slog.String("component", "trader"), slog.String("mode", cfg.Mode)),
		cmds:       make(chan command),
		loopDone:   make(chan struct{}),
		lastPrices: make(map[string]float64),
		reconcile:  make(map[string]struct{}),
	}, nil
}

// Cycle runs one decision cycle as of now. It returns an error wrapping
// domain.ErrLoopPaused when market data is unavailable, and ctx.Err() on
// cancellation. Per-symbol failures are logged and skipped.
func (t *Trader) Cycle(ctx context.Context, now time.Time) error {
	start := time.Now()
	defer func() { t.deps.Metrics.ObserveCycle(time.Since(start)) }()

	today := t.dayOf(now)
	t.mu.Lock()
	t.iteration++
	iter := t.iteration
	prevDay := t.tradingDay
	t.tradingDay = today
	t.mu.Unlock()

	if prevDay != "" && prevDay != today {
		t.closeDay(ctx, prevDay)
	}
	t.cooldowns.Prune(now)
	t.reconcilePositions(ctx)

	quotes, err := t.fetchAll(ctx, now)
	if err != nil {
		return fmt.Errorf("trading: cycle %d: %w", iter, err)
	}
	t.recordPrices(quotes)
	t.updateRegime(quotes)

	t.protectiveExits(ctx, now, iter, quotes)

	exits, entries := t.evaluate(ctx, now, iter, quotes)
	for _, c := range exits {
		_ = t.exitPosition(ctx, now, iter, c.pos, c.quote.Price, ExitSignal, c.confidence, c.reason)
	}
	for _, c := range t.rank(ctx, now, iter, entries) {
		t.enter(ctx, now, iter, c)
	}

	t.publishLedger()
	if _, err := t.checkpoint(ctx, false); err != nil {
		t.logger.ErrorContext(ctx, "checkpoint failed", slog.String("error", err.Error()))
	}
	return nil
}

// fetchAll loads quotes for the trading universe and the benchmark
// concurrently. Breaker-open and exhausted transient errors abort the cycle.
// A half-open breaker admits a single probe, so the first symbol is fetched
// alone and the fan-out only starts once the probe has closed the breaker.
func (t *Trader) fetchAll(ctx context.Context, now time.Time) (map[string]Quote, error) {
	symbols := t.universe()
	if t.cfg.Benchmark != "" {
		symbols = uniqueSorted(append(symbols, t.cfg.Benchmark))
	}

	var mu sync.Mutex
	quotes := make(map[string]Quote, len(symbols))
	keep := func(sym string, q Quote, ok bool) {
		if !ok {
			return
		}
		mu.Lock()
		quotes[sym] = q
		mu.Unlock()
	}

	if len(symbols) > 0 && t.deps.Breaker != nil && t.deps.Breaker.State() == executor.StateHalfOpen {
		q, ok, err := t.fetchOne(ctx, symbols[0], now)
		if err != nil {
			return nil, t.pauseErr(ctx, err)
		}
		keep(symbols[0], q, ok)
		symbols = symbols[1:]
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.MaxConcurrentFetches)
	for _, sym := range symbols {
		g.Go(func() error {
			q, ok, err := t.fetchOne(gctx, sym, now)
			if err != nil {
				return err
			}
			keep(sym, q, ok)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, t.pauseErr(ctx, err)
	}
	return quotes, nil
}

// fetchOne returns an error only when the cycle must stop. Other failures
// are logged and report ok=false so the symbol is skipped.
func (t *Trader) fetchOne(ctx context.Context, sym string, now time.Time) (Quote, bool, error) {
	q, err := t.fetch(ctx, sym, now)
	if err == nil {
		return q, true, nil
	}
	if ctx.Err() != nil {
		return Quote{}, false, ctx.Err()
	}
	t.deps.Metrics.FetchError(domain.RejectReason(err))
	if errors.Is(err, domain.ErrCircuitOpen) || domain.IsTransient(err) {
		return Quote{}, false, fmt.Errorf("fetch %s: %w", sym, err)
	}
	t.logger.WarnContext(ctx, "fetch failed, symbol skipped",
		slog.String("symbol", sym),
		slog.String("error", err.Error()),
	)
	return Quote{}, false, nil
}

func (t *Trader) pauseErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %w", domain.ErrLoopPaused, err)
}

func (t *Trader) fetch(ctx context.Context, symbol string, now time.Time) (Quote, error) {
	return retry(ctx, t.cfg.Retry, func(ctx context.Context) (Quote, error) {
		if t.deps.Breaker == nil {
			return t.deps.Feed.Fetch(ctx, symbol, now)
		}
		return executor.Call(ctx, t.deps.Breaker, func(ctx context.Context) (Quote, error) {
			return t.deps.Feed.Fetch(ctx, symbol, now)
		})
	})
}

func (t *Trader) recordPrices(quotes map[string]Quote) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sym, q := range quotes {
		t.lastPrices[sym] = q.Price
	}
}

func (t *Trader) updateRegime(quotes map[string]Quote) {
	if t.cfg.Benchmark == "" || t.deps.Regime == nil {
		return
	}
	q, ok := quotes[t.cfg.Benchmark]
	if !ok {
		return
	}
	if r := t.deps.Regime.Detect(q.Series); r != t.deps.Aggregator.Regime() {
		t.logger.Info("regime changed",
			slog.String("from", string(t.deps.Aggregator.Regime())),
			slog.String("to", string(r)),
		)
		t.deps.Aggregator.SetRegime(r)
	}
}

// protectiveExits ratchets trailing stops and closes positions whose stop or
// target was crossed.
func (t *Trader) protectiveExits(ctx context.Context, now time.Time, iter int64, quotes map[string]Quote) {
	for _, pos := range t.sortedPositions() {
		q, ok := quotes[pos.Symbol]
		if !ok {
			continue
		}
		vol := risk.ATR(q.Series, t.cfg.ATRPeriod)
		if stop := t.deps.Risk.TrailStop(pos, q.Price, vol); stop != pos.StopLoss {
			t.deps.Ledger.SetStop(pos.Key(), stop)
			t.logger.DebugContext(ctx, "trailing stop moved",
				slog.String("key", pos.Key()),
				slog.Float64("from", pos.StopLoss),
				slog.Float64("to", stop),
			)
			pos.StopLoss = stop
		}
		if reason := exitTrigger(pos, q.Price); reason != "" {
			_ = t.exitPosition(ctx, now, iter, pos, q.Price, reason, pos.Confidence, reason)
		}
	}
}

func exitTrigger(pos domain.Position, price float64) string {
	if pos.IsShort() {
		switch {
		case pos.StopLoss > 0 && price >= pos.StopLoss:
			return ExitStopLoss
		case pos.TakeProfit > 0 && price <= pos.TakeProfit:
			return ExitTakeProfit
		}
		return ""
	}
	switch {
	case pos.StopLoss > 0 && price <= pos.StopLoss:
		return ExitStopLoss
	case pos.TakeProfit > 0 && price >= pos.TakeProfit:
		return ExitTakeProfit
	}
	return ""
}

type candidate struct {
	symbol     string
	action     domain.Action
	confidence float64
	reason     string
	strategy   string
	quote      Quote
	pos        domain.Position
	open       bool
}

// evaluate polls every strategy for each symbol and sorts actionable results
// into signal exits and filtered entry candidates.
func (t *Trader) evaluate(ctx context.Context, now time.Time, iter int64, quotes map[string]Quote) (exits, entries []candidate) {
	for _, sym := range t.universe() {
		q, ok := quotes[sym]
		if !ok {
			continue
		}
		pos, open := t.deps.Ledger.Open(sym)
		side := domain.SideFlat
		if open {
			side = pos.Side
		}

		signals := make([]domain.Signal, 0, len(t.deps.Strategies))
		for _, s := range t.deps.Strategies {
			if pa, ok := s.(strategy.PositionAware); ok {
				pa.SetPosition(sym, side)
			}
			signals = append(signals, s.Generate(q.Series, sym))
		}
		var agg domain.AggregatedDecision
		if open {
			agg = t.deps.Aggregator.AggregateExit(signals, sym, pos.Side)
		} else {
			agg = t.deps.Aggregator.Aggregate(signals, sym, false)
		}
		if agg.Action == domain.ActionHold {
			continue
		}

		c := candidate{
			symbol:     sym,
			action:     agg.Action,
			confidence: agg.Confidence,
			reason:     strings.Join(agg.Reasons, "; "),
			strategy:   leadStrategy(agg.Reasons),
			quote:      q,
			pos:        pos,
			open:       open,
		}
		switch {
		case open && closes(pos.Side, agg.Action):
			exits = append(exits, c)
		case open && !t.cfg.AllowAveraging:
			t.logger.DebugContext(ctx, "same-direction signal ignored", slog.String("symbol", sym))
		case !open && agg.Action == domain.ActionSell && !t.cfg.AllowShorts:
			t.logger.DebugContext(ctx, "short entry disabled", slog.String("symbol", sym))
		default:
			if reason := t.filterEntry(c, now); reason != "" {
				t.reject(ctx, t.entryDecision(now, iter, c), reason, nil)
				continue
			}
			entries = append(entries, c)
		}
	}
	return exits, entries
}

func (t *Trader) filterEntry(c candidate, now time.Time) string {
	if _, active := t.cooldowns.Active(c.symbol, now); active {
		return domain.ReasonCooldown
	}
	if c.confidence < t.cfg.EntryConfidenceThreshold {
		return domain.ReasonLowConfidence
	}
	if !c.open && c.action == domain.ActionBuy && t.cfg.MaxPositions > 0 && t.deps.Ledger.Count() >= t.cfg.MaxPositions {
		return domain.ReasonMaxPositions
	}
	return ""
}

// rank orders entries by confidence, then symbol, and rejects those beyond
// MaxEntriesPerCycle.
func (t *Trader) rank(ctx context.Context, now time.Time, iter int64, entries []candidate) []candidate {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].confidence != entries[j].confidence {
			return entries[i].confidence > entries[j].confidence
		}
		return entries[i].symbol < entries[j].symbol
	})
	if n := t.cfg.MaxEntriesPerCycle; n > 0 && len(entries) > n {
		for _, c := range entries[n:] {
			t.reject(ctx, t.entryDecision(now, iter, c), domain.ReasonRankedOut, nil)
		}
		entries = entries[:n]
	}
	return entries
}

func (t *Trader) enter(ctx context.Context, now time.Time, iter int64, c candidate) {
	side, orderSide := domain.SideLong, domain.OrderSideBuy
	if c.action == domain.ActionSell {
		side, orderSide = domain.SideShort, domain.OrderSideSell
	}

	cash := t.deps.Ledger.Cash()
	vol := risk.ATR(c.quote.Series, t.cfg.ATRPeriod)
	plan := t.deps.Risk.Plan(side, cash, c.quote.Price, c.confidence, vol)

	d := t.entryDecision(now, iter, c)
	d.Shares = plan.Shares
	d.Tier = plan.Tier
	if plan.Shares <= 0 {
		err := &domain.InsufficientFundsError{Symbol: c.symbol, Required: decimal.NewFromFloat(c.quote.Price), Available: cash}
		t.reject(ctx, d, domain.RejectReason(err), err)
		return
	}

	trades, err := t.deps.Executor.Execute(ctx, OrderRequest{
		ClientID: t.clientID(iter, KindEntry, c.symbol, orderSide),
		Side:     orderSide,
		Symbol:   c.symbol,
		Shares:   plan.Shares,
		Price:    c.quote.Price,
		Meta: domain.TradeMeta{
			Confidence: c.confidence,
			Strategy:   c.strategy,
			Reason:     c.reason,
			StopLoss:   plan.StopLoss,
			TakeProfit: plan.TakeProfit,
			Time:       now,
		},
	})
	_ = t.settle(ctx, d, trades, err)
}

// exitPosition closes pos in full at price and starts the symbol's cooldown.
func (t *Trader) exitPosition(ctx context.Context, now time.Time, iter int64, pos domain.Position, price float64, exitReason string, confidence float64, detail string) error {
	orderSide, action := domain.OrderSideSell, domain.ActionSell
	if pos.IsShort() {
		orderSide, action = domain.OrderSideBuy, domain.ActionBuy
	}
	reason := exitReason
	if detail != "" && detail != exitReason {
		reason = exitReason + ": " + detail
	}
	d := Decision{
		Time:       now,
		Iteration:  iter,
		Symbol:     pos.Symbol,
		Action:     action,
		Kind:       KindExit,
		Shares:     pos.Qty(),
		Price:      price,
		Confidence: confidence,
		Reason:     reason,
	}

	trades, err := t.deps.Executor.Execute(ctx, OrderRequest{
		ClientID: t.clientID(iter, KindExit, pos.Symbol, orderSide),
		Side:     orderSide,
		Symbol:   pos.Symbol,
		Shares:   pos.Qty(),
		Price:    price,
		Meta: domain.TradeMeta{
			Confidence: confidence,
			Strategy:   pos.Strategy,
			Reason:     exitReason,
			Time:       now,
		},
	})
	if !t.settle(ctx, d, trades, err) {
		if err == nil {
			err = fmt.Errorf("exit %s: nothing filled", pos.Key())
		}
		return err
	}

	cooldown := t.cfg.ExitCooldown
	if exitReason == ExitStopLoss {
		cooldown = t.cfg.StopLossCooldown
	}
	if cooldown > 0 {
		t.cooldowns.Set(pos.Symbol, now.Add(cooldown))
	}
	t.deps.Metrics.ObserveExit(exitReason)
	return err
}

// settle records the outcome of an execution and reports whether anything
// reached the ledger.
func (t *Trader) settle(ctx context.Context, d Decision, trades []domain.Trade, err error) bool {
	var gte *domain.GatewayTimeoutError
	if errors.As(err, &gte) {
		t.markReconcile(ctx, d.Symbol, gte)
	}
	if len(trades) == 0 {
		if err == nil {
			err = fmt.Errorf("no trades for %s", d.Symbol)
		}
		t.reject(ctx, d, domain.RejectReason(err), err)
		return false
	}
	if err != nil {
		t.logger.WarnContext(ctx, "execution incomplete",
			slog.String("symbol", d.Symbol),
			slog.String("error", err.Error()),
		)
	}

	var filled int64
	for _, tr := range trades {
		filled += tr.Shares
	}
	d.Shares = filled
	t.recordTrades(ctx, trades)
	t.record(ctx, d)
	return true
}

func (t *Trader) entryDecision(now time.Time, iter int64, c candidate) Decision {
	return Decision{
		Time:       now,
		Iteration:  iter,
		Symbol:     c.symbol,
		Action:     c.action,
		Kind:       KindEntry,
		Price:      c.quote.Price,
		Confidence: c.confidence,
		Reason:     c.reason,
	}
}

func (t *Trader) reject(ctx context.Context, d Decision, reason string, err error) {
	d.Rejected = reason
	t.deps.Metrics.ObserveRejection(reason)

	attrs := []any{
		slog.String("symbol", d.Symbol),
		slog.String("action", string(d.Action)),
		slog.String("kind", string(d.Kind)),
		slog.String("reason", reason),
		slog.Float64("confidence", d.Confidence),
	}
	detail := map[string]any{
		"symbol":     d.Symbol,
		"action":     string(d.Action),
		"kind":       string(d.Kind),
		"reason":     reason,
		"confidence": d.Confidence,
		"iteration":  d.Iteration,
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		detail["error"] = err.Error()
	}
	t.logger.InfoContext(ctx, "decision rejected", attrs...)
	t.audit(ctx, "decision.rejected", detail)
	t.record(ctx, d)
}

func (t *Trader) record(ctx context.Context, d Decision) {
	t.decisions.add(d)
	if d.Executed() {
		t.deps.Metrics.ObserveDecision(string(d.Action), string(d.Kind))
		t.logger.InfoContext(ctx, "decision executed",
			slog.String("symbol", d.Symbol),
			slog.String("action", string(d.Action)),
			slog.String("kind", string(d.Kind)),
			slog.Int64("shares", d.Shares),
			slog.Float64("price", d.Price),
			slog.String("tier", string(d.Tier)),
		)
	}
	t.publish(ctx, domain.ChannelDecisions, d)
	for _, o := range t.deps.Observers {
		o.OnDecision(d)
	}
}

func (t *Trader) recordTrades(ctx context.Context, trades []domain.Trade) {
	if t.deps.Trades != nil {
		if err := t.deps.Trades.Append(ctx, trades); err != nil {
			t.logger.ErrorContext(ctx, "trade store append failed", slog.String("error", err.Error()))
		}
	}
	for _, tr := range trades {
		t.deps.Metrics.ObserveTrade(string(tr.Side))
		t.publish(ctx, domain.ChannelTrades, tr)
		if t.deps.Bus != nil {
			if payload, err := json.Marshal(tr); err == nil {
				if err := t.deps.Bus.StreamAppend(ctx, domain.StreamTrades, payload); err != nil {
					t.logger.WarnContext(ctx, "trade stream append failed", slog.String("error", err.Error()))
				}
			}
		}
		if event, title, msg := notify.TradeAlert(tr); t.deps.Notifier.Enabled(event) {
			t.deps.Notifier.Enqueue(event, title, msg)
		}
		for _, o := range t.deps.Observers {
			o.OnTrade(tr)
		}
	}
}

func (t *Trader) publish(ctx context.Context, channel string, v any) {
	if t.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		t.logger.WarnContext(ctx, "event encode failed", slog.String("error", err.Error()))
		return
	}
	if err := t.deps.Bus.Publish(ctx, channel, payload); err != nil {
		t.logger.WarnContext(ctx, "event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (t *Trader) audit(ctx context.Context, event string, detail map[string]any) {
	if t.deps.Audit == nil {
		return
	}
	if err := t.deps.Audit.Log(ctx, event, detail); err != nil {
		t.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}

func (t *Trader) markReconcile(ctx context.Context, symbol string, gte *domain.GatewayTimeoutError) {
	t.audit(ctx, "gateway.timeout", map[string]any{
		"symbol":   symbol,
		"order_id": gte.OrderID,
		"timeout":  gte.Timeout.String(),
	})
	if t.deps.Syncer == nil {
		t.logger.WarnContext(ctx, "order timed out and broker cannot sync positions",
			slog.String("symbol", symbol),
			slog.String("order_id", gte.OrderID),
		)
		return
	}
	t.mu.Lock()
	t.reconcile[symbol] = struct{}{}
	t.mu.Unlock()
}

// reconcilePositions compares the ledger with the broker for symbols whose
// orders timed out. Mismatches are logged and audited, not corrected.
func (t *Trader) reconcilePositions(ctx context.Context) {
	if t.deps.Syncer == nil {
		return
	}
	t.mu.RLock()
	pending := make([]string, 0, len(t.reconcile))
	for sym := range t.reconcile {
		pending = append(pending, sym)
	}
	t.mu.RUnlock()
	if len(pending) == 0 {
		return
	}

	held, err := t.deps.Syncer.Positions(ctx)
	if err != nil {
		t.logger.WarnContext(ctx, "position sync failed", slog.String("error", err.Error()))
		return
	}
	sort.Strings(pending)
	for _, sym := range pending {
		want, got := held[sym], t.netShares(sym)
		if want != got {
			t.logger.WarnContext(ctx, "position mismatch",
				slog.String("symbol", sym),
				slog.Int64("broker", want),
				slog.Int64("ledger", got),
			)
			t.audit(ctx, "reconcile.mismatch", map[string]any{"symbol": sym, "broker": want, "ledger": got})
		} else {
			t.logger.InfoContext(ctx, "position reconciled", slog.String("symbol", sym), slog.Int64("shares", got))
		}
		t.mu.Lock()
		delete(t.reconcile, sym)
		t.mu.Unlock()
	}
}

func (t *Trader) netShares(symbol string) int64 {
	var n int64
	if p, ok := t.deps.Ledger.Position(domain.PositionKey(symbol, domain.SideLong)); ok {
		n += p.Shares
	}
	if p, ok := t.deps.Ledger.Position(domain.PositionKey(symbol, domain.SideShort)); ok {
		n += p.Shares
	}
	return n
}

func (t *Trader) publishLedger() {
	if t.deps.Metrics == nil {
		return
	}
	equity := t.deps.Ledger.Equity(t.prices())
	t.deps.Metrics.SetLedger(equity.InexactFloat64(), t.deps.Ledger.Cash().InexactFloat64(), t.deps.Ledger.Count())
}

// closeDay forces a save, archives the finished day and sends the summary.
func (t *Trader) closeDay(ctx context.Context, day string) {
	snap := t.Snapshot()
	snap.TradingDay = day
	trades := t.tradesOn(day)

	if t.deps.State != nil {
		if _, err := t.deps.State.Checkpoint(ctx, snap, true); err != nil {
			t.logger.ErrorContext(ctx, "end-of-day save failed", slog.String("day", day), slog.String("error", err.Error()))
		}
		if err := t.deps.State.ArchiveDay(ctx, snap, trades); err != nil {
			t.logger.ErrorContext(ctx, "end-of-day archive failed", slog.String("day", day), slog.String("error", err.Error()))
		}
	}
	if t.deps.Notifier.Enabled(notify.EventDayEnd) {
		title, msg := notify.DaySummary(day, snap.Ledger, len(trades))
		t.deps.Notifier.Enqueue(notify.EventDayEnd, title, msg)
	}
	t.logger.InfoContext(ctx, "trading day closed", slog.String("day", day), slog.Int("trades", len(trades)))
}

func (t *Trader) tradesOn(day string) []domain.Trade {
	var out []domain.Trade
	for _, tr := range t.deps.Ledger.Trades("") {
		if t.dayOf(tr.Timestamp) == day {
			out = append(out, tr)
		}
	}
	return out
}

func (t *Trader) checkpoint(ctx context.Context, force bool) (bool, error) {
	if t.deps.State == nil {
		return false, nil
	}
	return t.deps.State.Checkpoint(ctx, t.Snapshot(), force)
}

// clientID names the order of one kind for symbol and side in cycle iter.
// Every exit path shares the exit name, so a close-all cannot resend an exit
// the cycle already submitted.
func (t *Trader) clientID(iter int64, kind Kind, symbol string, side domain.OrderSide) string {
	return fmt.Sprintf("%s:%d:%s:%s:%s", t.cfg.Mode, iter, kind, symbol, side)
}

func (t *Trader) dayOf(ts time.Time) string {
	return ts.In(t.cfg.Location).Format(time.DateOnly)
}

// universe is the configured symbols plus any symbol with an open position.
func (t *Trader) universe() []string {
	syms := append([]string(nil), t.cfg.Symbols...)
	for _, p := range t.deps.Ledger.Positions() {
		syms = append(syms, p.Symbol)
	}
	return uniqueSorted(syms)
}

func (t *Trader) sortedPositions() []domain.Position {
	m := t.deps.Ledger.Positions()
	out := make([]domain.Position, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (t *Trader) prices() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.lastPrices))
	for k, v := range t.lastPrices {
		out[k] = v
	}
	return out
}

// closes reports whether action reduces a position on side.
func closes(side domain.PositionSide, action domain.Action) bool {
	return (side == domain.SideLong && action == domain.ActionSell) ||
		(side == domain.SideShort && action == domain.ActionBuy)
}

// leadStrategy returns the strategy name of the first "name: reason" entry.
func leadStrategy(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(reasons[0], ": ")
	return name
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
