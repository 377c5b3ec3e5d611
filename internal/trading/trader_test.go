package trading

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/executor"
	"github.com/alanyoungcy/tradecore/internal/metrics"
	"github.com/alanyoungcy/tradecore/internal/risk"
	"github.com/alanyoungcy/tradecore/internal/state"
	"github.com/alanyoungcy/tradecore/internal/strategy"
)

func TestNewTraderRequiresDeps(t *testing.T) {
	_, err := NewTrader(testConfig("X"), Deps{})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "feed", ve.Field)
}

func TestEndToEndSizing(t *testing.T) {
	p := newMemProvider()
	p.set("X", bars(base, 100, 100, 100))
	s := &voteStrategy{name: "always", votes: map[string]domain.Signal{"X": buyVote(0.8)}}
	r := newRig(t, testConfig("X"), p, []strategy.SignalGenerator{s})

	require.NoError(t, r.trader.Cycle(context.Background(), base.Add(3*time.Hour)))

	ds := r.trader.Decisions(0)
	require.Len(t, ds, 1)
	d := ds[0]
	assert.Equal(t, domain.ActionBuy, d.Action)
	assert.Equal(t, KindEntry, d.Kind)
	assert.Equal(t, int64(2500), d.Shares)
	assert.Equal(t, risk.TierMax, d.Tier)
	assert.Equal(t, 100.0, d.Price)
	assert.True(t, d.Executed())

	// 1,000,000 - 2500 x 100 x 1.001
	assert.True(t, decimal.NewFromInt(749_750).Equal(r.ledger.Cash()), "cash %s", r.ledger.Cash())
	pos, ok := r.ledger.Position("X")
	require.True(t, ok)
	assert.Equal(t, int64(2500), pos.Shares)
	assert.Greater(t, pos.TakeProfit, 100.0)
	assert.Less(t, pos.StopLoss, 100.0)
}

func TestExitsBypassRanking(t *testing.T) {
	p := newMemProvider()
	for _, sym := range []string{"A", "B", "C", "D"} {
		p.set(sym, bars(base, 100, 100, 100))
	}
	s := &voteStrategy{name: "votes", votes: map[string]domain.Signal{
		"A": buyVote(0.9),
		"B": buyVote(0.8),
		"C": sellVote(0.3), // below every threshold, still exits
		"D": buyVote(0.5),
	}}
	cfg := testConfig("A", "B", "C", "D")
	cfg.MaxEntriesPerCycle = 1
	m := metrics.New("test")
	r := newRig(t, cfg, p, []strategy.SignalGenerator{s}, func(d *Deps) { d.Metrics = m })

	_, err := r.ledger.Buy("C", 10, 100, domain.TradeMeta{Time: base})
	require.NoError(t, err)

	require.NoError(t, r.trader.Cycle(context.Background(), base.Add(3*time.Hour)))
	ds := r.trader.Decisions(0)
	require.Len(t, ds, 4)

	iC, c := findDecision(ds, "C")
	assert.Equal(t, KindExit, c.Kind)
	assert.Equal(t, domain.ActionSell, c.Action)
	assert.Equal(t, int64(10), c.Shares)
	assert.True(t, c.Executed())
	assert.False(t, r.ledger.HasPosition("C"))

	iA, a := findDecision(ds, "A")
	assert.True(t, a.Executed())
	assert.Less(t, iC, iA, "exits execute before entries")

	_, b := findDecision(ds, "B")
	assert.Equal(t, domain.ReasonRankedOut, b.Rejected)

	_, d := findDecision(ds, "D")
	assert.Equal(t, domain.ReasonLowConfidence, d.Rejected)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues(domain.ReasonRankedOut)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Exits.WithLabelValues(ExitSignal)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpenPositions))
}

func TestMaxPositionsOnlyLimitsNewLongs(t *testing.T) {
	p := newMemProvider()
	for _, sym := range []string{"A", "C", "E"} {
		p.set(sym, bars(base, 100, 100, 100))
	}
	s := &voteStrategy{name: "votes", votes: map[string]domain.Signal{
		"A": buyVote(0.9),
		"E": sellVote(0.9),
	}}
	cfg := testConfig("A", "C", "E")
	cfg.MaxPositions = 1
	cfg.AllowShorts = true
	r := newRig(t, cfg, p, []strategy.SignalGenerator{s})
	_, err := r.ledger.Buy("C", 10, 100, domain.TradeMeta{Time: base})
	require.NoError(t, err)

	require.NoError(t, r.trader.Cycle(context.Background(), base.Add(3*time.Hour)))
	ds := r.trader.Decisions(0)

	_, a := findDecision(ds, "A")
	assert.Equal(t, domain.ReasonMaxPositions, a.Rejected)

	_, e := findDecision(ds, "E")
	assert.True(t, e.Executed())
	assert.Equal(t, domain.ActionSell, e.Action)
	pos, ok := r.ledger.Position("E_SHORT")
	require.True(t, ok)
	assert.Negative(t, pos.Shares)
}

func TestShortAndAveragingFlags(t *testing.T) {
	p := newMemProvider()
	p.set("C", bars(base, 100, 100, 100))
	p.set("E", bars(base, 100, 100, 100))
	s := &voteStrategy{name: "votes", votes: map[string]domain.Signal{
		"C": buyVote(0.9),
		"E": sellVote(0.9),
	}}

	r := newRig(t, testConfig("C", "E"), p, []strategy.SignalGenerator{s})
	_, err := r.ledger.Buy("C", 10, 100, domain.TradeMeta{Time: base})
	require.NoError(t, err)
	require.NoError(t, r.trader.Cycle(context.Background(), base.Add(3*time.Hour)))
	assert.Empty(t, r.trader.Decisions(0), "same-direction buy and disabled short are ignored")
	assert.False(t, r.ledger.HasPosition("E"))

	cfg := testConfig("C")
	cfg.AllowAveraging = true
	r = newRig(t, cfg, p, []strategy.SignalGenerator{s})
	_, err = r.ledger.Buy("C", 10, 100, domain.TradeMeta{Time: base})
	require.NoError(t, err)
	require.NoError(t, r.trader.Cycle(context.Background(), base.Add(3*time.Hour)))
	ds := r.trader.Decisions(0)
	require.Len(t, ds, 1)
	assert.True(t, ds[0].Executed())
	pos, _ := r.ledger.Position("C")
	assert.Greater(t, pos.Shares, int64(10))
}

func TestClosingVoteExitsDespiteSameSideVote(t *testing.T) {
	p := newMemProvider()
	p.set("L", bars(base, 100, 100, 100))
	p.set("S", bars(base, 100, 100, 100))
	a := &voteStrategy{name: "a", votes: map[string]domain.Signal{"L": buyVote(0.05), "S": sellVote(0.9)}}
	b := &voteStrategy{name: "b", votes: map[string]domain.Signal{"L": sellVote(0.95), "S": buyVote(0.2)}}
	c := &voteStrategy{name: "c", votes: map[string]domain.Signal{"L": sellVote(0.95)}}

	cfg := testConfig("L", "S")
	cfg.AllowShorts = true
	r := newRig(t, cfg, p, []strategy.SignalGenerator{a, b, c})
	_, err := r.ledger.Buy("L", 10, 100, domain.TradeMeta{Time: base})
	require.NoError(t, err)
	_, err = r.ledger.Sell("S", 10, 100, domain.TradeMeta{Time: base})
	require.NoError(t, err)

	require.NoError(t, r.trader.Cycle(context.Background(), base.Add(3*time.Hour)))

	assert.False(t, r.ledger.HasPosition("L"), "long closed by the sell voters")
	assert.False(t, r.ledger.HasPosition("S"), "short covered by the buy voter")
	for _, sym := range []string{"L", "S"} {
		_, d := findDecision(r.trader.Decisions(0), sym)
		assert.Equal(t, KindExit, d.Kind, sym)
		assert.True(t, d.Executed(), sym)
	}
}

func TestStopLossStartsLongerCooldown(t *testing.T) {
	p := newMemProvider()
	p.set("X", bars(base, 100, 100, 100, 94, 94, 94, 94))
	s := &voteStrategy{name: "always", votes: map[string]domain.Signal{"X": buyVote(0.9)}}
	cfg := testConfig("X")
	cfg.ExitCooldown = 30 * time.Minute
	cfg.StopLossCooldown = 2 * time.Hour
	r := newRig(t, cfg, p, []strategy.SignalGenerator{s})

	_, err := r.ledger.Buy("X", 100, 100, domain.TradeMeta{StopLoss: 95, TakeProfit: 120, Time: base})
	require.NoError(t, err)

	ctx := context.Background()
	T := base.Add(4 * time.Hour)
	require.NoError(t, r.trader.Cycle(ctx, T))
	assert.True(t, T.Add(2*time.Hour).Equal(r.trader.Snapshot().Cooldowns["X"]))
	require.NoError(t, r.trader.Cycle(ctx, T.Add(time.Hour)))
	require.NoError(t, r.trader.Cycle(ctx, T.Add(2*time.Hour)))

	ds := r.trader.Decisions(0)
	require.Len(t, ds, 4)
	assert.Equal(t, KindExit, ds[0].Kind)
	assert.Equal(t, ExitStopLoss, ds[0].Reason)
	assert.Equal(t, int64(100), ds[0].Shares)
	assert.Equal(t, 94.0, ds[0].Price)
	assert.Equal(t, domain.ReasonCooldown, ds[1].Rejected)
	assert.Equal(t, domain.ReasonCooldown, ds[2].Rejected)
	assert.True(t, ds[3].Executed())
	assert.Equal(t, KindEntry, ds[3].Kind)
}

func TestExitTrigger(t *testing.T) {
	long := domain.Position{Symbol: "X", Side: domain.SideLong, Shares: 1, StopLoss: 95, TakeProfit: 110}
	short := domain.Position{Symbol: "X", Side: domain.SideShort, Shares: -1, StopLoss: 105, TakeProfit: 90}
	tests := []struct {
		name  string
		pos   domain.Position
		price float64
		want  string
	}{
		{"long stop", long, 95, ExitStopLoss},
		{"long target", long, 110.5, ExitTakeProfit},
		{"long inside", long, 100, ""},
		{"short stop", short, 105, ExitStopLoss},
		{"short target", short, 89, ExitTakeProfit},
		{"short inside", short, 100, ""},
		{"no levels", domain.Position{Side: domain.SideLong, Shares: 1}, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitTrigger(tt.pos, tt.price))
		})
	}
}

type funcFeed struct {
	calls atomic.Int64
	fn    func(symbol string, now time.Time) (Quote, error)
}

func (f *funcFeed) Fetch(_ context.Context, symbol string, now time.Time) (Quote, error) {
	f.calls.Add(1)
	return f.fn(symbol, now)
}

func TestTransientFailuresPauseLoop(t *testing.T) {
	feed := &funcFeed{fn: func(string, time.Time) (Quote, error) {
		return Quote{}, domain.Transient("fetch", errors.New("503 service unavailable"))
	}}
	breaker := executor.NewBreaker("market_data", executor.BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute}, testLogger())
	cfg := testConfig("X")
	cfg.Retry = RetryPolicy{Attempts: 2}
	r := newRig(t, cfg, newMemProvider(), []strategy.SignalGenerator{&voteStrategy{name: "v"}}, func(d *Deps) {
		d.Feed = feed
		d.Breaker = breaker
	})

	ctx := context.Background()
	err := r.trader.Cycle(ctx, base)
	require.ErrorIs(t, err, domain.ErrLoopPaused)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, executor.StateOpen, breaker.State())
	assert.Equal(t, int64(2), feed.calls.Load())

	err = r.trader.Cycle(ctx, base.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrLoopPaused)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, int64(2), feed.calls.Load(), "open breaker fails fast")

	r.trader.handleCycleError(ctx, err)
	until, paused := r.trader.pausedAt(time.Now())
	assert.True(t, paused)
	assert.Equal(t, breaker.ReopenAt(), until)
}

// slowFeed honours cancellation like a network provider.
type slowFeed struct {
	healthy atomic.Bool
	delay   time.Duration
}

func (f *slowFeed) Fetch(ctx context.Context, symbol string, now time.Time) (Quote, error) {
	select {
	case <-ctx.Done():
		return Quote{}, ctx.Err()
	case <-time.After(f.delay):
	}
	if !f.healthy.Load() {
		return Quote{}, domain.Transient("fetch", errors.New("502 bad gateway"))
	}
	return quoteFrom(symbol, bars(base, 100, 101))
}

func TestHalfOpenBreakerRecoversWithManySymbols(t *testing.T) {
	var mu sync.Mutex
	clock := base
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	breaker := executor.NewBreaker("market_data", executor.BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute},
		testLogger(), executor.WithBreakerClock(now))
	feed := &slowFeed{delay: 20 * time.Millisecond}
	r := newRig(t, testConfig("A", "B", "C"), newMemProvider(), []strategy.SignalGenerator{&voteStrategy{name: "v"}},
		func(d *Deps) {
			d.Feed = feed
			d.Breaker = breaker
		})

	ctx := context.Background()
	require.ErrorIs(t, r.trader.Cycle(ctx, base), domain.ErrLoopPaused)
	require.Equal(t, executor.StateOpen, breaker.State())

	feed.healthy.Store(true)
	mu.Lock()
	clock = clock.Add(2 * time.Minute)
	mu.Unlock()
	require.Equal(t, executor.StateHalfOpen, breaker.State())

	require.NoError(t, r.trader.Cycle(ctx, base.Add(time.Hour)))
	assert.Equal(t, executor.StateClosed, breaker.State())
	prices := r.trader.Snapshot().LastPrices
	for _, sym := range []string{"A", "B", "C"} {
		assert.Equal(t, 101.0, prices[sym], sym)
	}
}

func TestMissingSymbolIsSkipped(t *testing.T) {
	p := newMemProvider()
	p.set("X", bars(base, 100, 100))
	s := &voteStrategy{name: "always", votes: map[string]domain.Signal{"X": buyVote(0.9), "Y": buyVote(0.9)}}
	r := newRig(t, testConfig("X", "Y"), p, []strategy.SignalGenerator{s})

	require.NoError(t, r.trader.Cycle(context.Background(), base.Add(2*time.Hour)))
	ds := r.trader.Decisions(0)
	require.Len(t, ds, 1)
	assert.Equal(t, "X", ds[0].Symbol)
}

func TestRestoreResumesWithoutReentering(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	p := newMemProvider()
	p.set("X", bars(base, 100, 100, 100, 100))
	s := &voteStrategy{name: "always", votes: map[string]domain.Signal{"X": buyVote(0.8)}}

	withState := func(d *Deps) {
		d.State = state.NewManager(store, nil, state.Config{Key: "unit"}, nil, testLogger())
	}

	r1 := newRig(t, testConfig("X"), p, []strategy.SignalGenerator{s}, withState)
	require.NoError(t, r1.trader.Cycle(ctx, base.Add(3*time.Hour)))
	r1.trader.cooldowns.Set("Y", base.Add(9*time.Hour))
	require.NoError(t, r1.trader.Shutdown(ctx))
	before := r1.trader.Snapshot()

	r2 := newRig(t, testConfig("X"), p, []strategy.SignalGenerator{s}, withState)
	require.NoError(t, r2.trader.Restore(ctx))
	after := r2.trader.Snapshot()
	assert.Equal(t, before.Iteration, after.Iteration)
	assert.True(t, before.Ledger.Cash.Equal(after.Ledger.Cash))
	assert.Equal(t, before.Ledger.Positions["X"].Shares, after.Ledger.Positions["X"].Shares)
	assert.True(t, base.Add(9*time.Hour).Equal(after.Cooldowns["Y"]))
	assert.Equal(t, 100.0, after.LastPrices["X"])

	require.NoError(t, r2.trader.Cycle(ctx, base.Add(4*time.Hour)))
	assert.Empty(t, r2.trader.Decisions(0), "open position is not re-entered")
	assert.Equal(t, int64(2), r2.trader.Iteration())

	live := testConfig("X")
	live.Mode = "live"
	r3 := newRig(t, live, p, []strategy.SignalGenerator{s}, withState)
	assert.ErrorIs(t, r3.trader.Restore(ctx), domain.ErrModeMismatch)
}

type captureArchive struct {
	mu     sync.Mutex
	day    string
	trades int
	snap   []byte
}

func (c *captureArchive) ArchiveDay(_ context.Context, _, day string, snapshot []byte, trades []domain.Trade) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.day, c.trades, c.snap = day, len(trades), snapshot
	return nil
}

func (c *captureArchive) LatestSnapshot(context.Context, string) ([]byte, string, error) {
	return nil, "", domain.ErrNotFound
}

func TestDayChangeArchives(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 6, 22, 0, 0, 0, time.UTC)
	p := newMemProvider()
	p.set("X", bars(start, 100, 100, 100))
	s := &voteStrategy{name: "always", votes: map[string]domain.Signal{"X": buyVote(0.8)}}
	archive := &captureArchive{}
	r := newRig(t, testConfig("X"), p, []strategy.SignalGenerator{s}, func(d *Deps) {
		d.State = state.NewManager(state.NewMemoryStore(), archive, state.Config{Key: "unit"}, nil, testLogger())
	})

	require.NoError(t, r.trader.Cycle(ctx, start.Add(time.Hour)))
	assert.Empty(t, archive.day)
	require.NoError(t, r.trader.Cycle(ctx, start.Add(3*time.Hour)))

	assert.Equal(t, "2025-01-06", archive.day)
	assert.Equal(t, 1, archive.trades)
	snap, err := state.Decode(archive.snap)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-06", snap.TradingDay)
	assert.Equal(t, "2025-01-07", r.trader.Snapshot().TradingDay)
}

// stuckBroker accepts orders that never fill.
type stuckBroker struct {
	mu     sync.Mutex
	syncs  int
	placed int
}

func (b *stuckBroker) PlaceOrder(context.Context, string, int64, float64, domain.OrderSide, domain.OrderType) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placed++
	return "ord-stuck", nil
}

func (b *stuckBroker) placedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.placed
}

func (b *stuckBroker) OrderStatus(context.Context, string) (domain.OrderStatusReport, error) {
	return domain.OrderStatusReport{Status: domain.OrderStatusSubmitted}, nil
}

func (b *stuckBroker) CancelOrder(context.Context, string) error { return nil }

func (b *stuckBroker) AccountMargin(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1_000_000), nil
}

func (b *stuckBroker) Positions(context.Context) (map[string]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncs++
	return map[string]int64{"X": 0}, nil
}

func TestGatewayTimeoutLeavesLedgerAndReconciles(t *testing.T) {
	ctx := context.Background()
	p := newMemProvider()
	p.set("X", bars(base, 100, 100))
	s := &voteStrategy{name: "always", votes: map[string]domain.Signal{"X": buyVote(0.9)}}
	broker := &stuckBroker{}
	audit := &memAudit{}

	r := newRig(t, testConfig("X"), p, []strategy.SignalGenerator{s}, func(d *Deps) {
		gw := executor.NewGateway(broker,
			executor.NewBreaker("broker", executor.BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}, testLogger()),
			executor.GatewayConfig{PollInitial: time.Millisecond, PollMax: 2 * time.Millisecond, FillTimeout: 20 * time.Millisecond, CancelTimeout: 50 * time.Millisecond},
			nil, testLogger())
		d.Executor = NewGatewayExecutor(d.Ledger, gw, domain.OrderTypeMarket, 0, testLogger())
		d.Syncer = broker
		d.Audit = audit
	})

	require.NoError(t, r.trader.Cycle(ctx, base.Add(2*time.Hour)))
	ds := r.trader.Decisions(0)
	require.Len(t, ds, 1)
	assert.Equal(t, "gateway_timeout", ds[0].Rejected)
	assert.True(t, decimal.NewFromInt(1_000_000).Equal(r.ledger.Cash()))
	assert.False(t, r.ledger.HasPosition("X"))
	assert.True(t, audit.has("gateway.timeout"))
	assert.True(t, audit.has("decision.rejected"))

	require.NoError(t, r.trader.Cycle(ctx, base.Add(3*time.Hour)))
	broker.mu.Lock()
	assert.Equal(t, 1, broker.syncs)
	broker.mu.Unlock()
}

func TestCloseAllDoesNotResubmitPendingExit(t *testing.T) {
	ctx := context.Background()
	p := newMemProvider()
	p.set("X", bars(base, 100, 100))
	s := &voteStrategy{name: "exit", votes: map[string]domain.Signal{"X": sellVote(0.5)}}
	broker := &stuckBroker{}

	r := newRig(t, testConfig("X"), p, []strategy.SignalGenerator{s}, func(d *Deps) {
		gw := executor.NewGateway(broker,
			executor.NewBreaker("broker", executor.BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}, testLogger()),
			executor.GatewayConfig{PollInitial: time.Millisecond, PollMax: 2 * time.Millisecond, FillTimeout: 20 * time.Millisecond, CancelTimeout: 50 * time.Millisecond},
			nil, testLogger())
		d.Executor = NewGatewayExecutor(d.Ledger, gw, domain.OrderTypeMarket, 0, testLogger())
	})
	_, err := r.ledger.Buy("X", 10, 100, domain.TradeMeta{Time: base})
	require.NoError(t, err)

	require.NoError(t, r.trader.Cycle(ctx, base.Add(2*time.Hour)))
	require.True(t, r.ledger.HasPosition("X"), "timed-out exit leaves the position")
	require.Equal(t, 1, broker.placedCount())

	n, err := r.trader.CloseAll(ctx, "test")
	assert.Zero(t, n)
	assert.ErrorContains(t, err, "duplicate client order id")
	assert.Equal(t, 1, broker.placedCount(), "same cycle, same order")

	require.NoError(t, r.trader.Cycle(ctx, base.Add(3*time.Hour)))
	assert.Equal(t, 2, broker.placedCount(), "the next cycle may try again")
}

func TestRunCommands(t *testing.T) {
	p := newMemProvider()
	p.set("X", bars(base, 100, 100))
	store := state.NewMemoryStore()
	r := newRig(t, testConfig("X"), p, []strategy.SignalGenerator{&voteStrategy{name: "v"}}, func(d *Deps) {
		d.State = state.NewManager(store, nil, state.Config{Key: "unit"}, nil, testLogger())
		d.Clock = func() time.Time { return base.Add(5 * time.Hour) }
	})
	_, err := r.ledger.Buy("X", 10, 100, domain.TradeMeta{Time: base})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := make(chan time.Time)
	done := make(chan error, 1)
	go func() { done <- r.trader.Run(ctx, ticks) }()

	require.Eventually(t, func() bool { return r.trader.Status().Running }, time.Second, 5*time.Millisecond)
	ticks <- base.Add(2 * time.Hour)

	n, err := r.trader.RequestCloseAll(ctx, "operator")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, r.ledger.HasPosition("X"))

	require.NoError(t, r.trader.RequestStop(ctx))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after stop")
	}
	assert.ErrorIs(t, r.trader.RequestStop(ctx), ErrNotRunning)

	rec, err := store.Get(ctx, "unit")
	require.NoError(t, err)
	snap, err := state.Decode(rec.Payload)
	require.NoError(t, err)
	assert.Empty(t, snap.Ledger.Positions)
	assert.Equal(t, int64(1), snap.Iteration)

	ds := r.trader.Decisions(0)
	require.NotEmpty(t, ds)
	last := ds[len(ds)-1]
	assert.Equal(t, ExitManual+": operator", last.Reason)
}

func TestRunReturnsWhenTicksClose(t *testing.T) {
	p := newMemProvider()
	p.set("X", bars(base, 100, 100, 100))
	s := &voteStrategy{name: "always", votes: map[string]domain.Signal{"X": buyVote(0.8)}}
	r := newRig(t, testConfig("X"), p, []strategy.SignalGenerator{s})

	ticks := make(chan time.Time, 3)
	for i := 1; i <= 3; i++ {
		ticks <- base.Add(time.Duration(i) * time.Hour)
	}
	close(ticks)
	require.NoError(t, r.trader.Run(context.Background(), ticks))
	assert.Equal(t, int64(3), r.trader.Iteration())
	assert.True(t, r.ledger.HasPosition("X"))
}
