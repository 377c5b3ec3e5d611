package trading

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/executor"
	"github.com/alanyoungcy/tradecore/internal/ledger"
	"github.com/alanyoungcy/tradecore/internal/risk"
	"github.com/alanyoungcy/tradecore/internal/strategy"
)

// instantBroker fills every order in full at its limit price.
type instantBroker struct {
	mu     sync.Mutex
	seq    int
	orders map[string]domain.OrderStatusReport
}

func (b *instantBroker) PlaceOrder(_ context.Context, _ string, qty int64, price float64, _ domain.OrderSide, _ domain.OrderType) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.orders == nil {
		b.orders = make(map[string]domain.OrderStatusReport)
	}
	b.seq++
	id := fmt.Sprintf("ord-%d", b.seq)
	b.orders[id] = domain.OrderStatusReport{Status: domain.OrderStatusFilled, FilledQty: qty, AvgPrice: price}
	return id, nil
}

func (b *instantBroker) OrderStatus(_ context.Context, id string) (domain.OrderStatusReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rep, ok := b.orders[id]
	if !ok {
		return domain.OrderStatusReport{}, domain.ErrNotFound
	}
	return rep, nil
}

func (b *instantBroker) CancelOrder(context.Context, string) error { return nil }

func (b *instantBroker) AccountMargin(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1_000_000), nil
}

func wave(start time.Time, n int, phase float64) domain.Series {
	closes := make([]float64, n)
	for i := range closes {
		x := float64(i)
		closes[i] = math.Round((100+10*math.Sin(x/6+phase)+0.05*x)*100) / 100
	}
	return bars(start, closes...)
}

// swing votes on the three-bar change.
func swing(series domain.Series, _ string) domain.Signal {
	if len(series) < 4 {
		return domain.Hold("", "warming up")
	}
	c := series.Closes()
	chg := c[len(c)-1]/c[len(c)-4] - 1
	switch {
	case chg > 0.02:
		return buyVote(0.9)
	case chg < -0.02:
		return sellVote(0.9)
	}
	return domain.Hold("", "flat")
}

func strategySet() []strategy.SignalGenerator {
	return []strategy.SignalGenerator{
		&voteStrategy{name: "swing", fn: swing},
		strategy.NewMeanReversion(strategy.Config{Name: "mean_reversion", Params: map[string]any{"window": 20, "entry_z": 1.5}}, testLogger()),
		strategy.NewMomentum(strategy.Config{Name: "momentum", Params: map[string]any{"fast": 5, "slow": 20}}, testLogger()),
	}
}

func equivalenceConfig() Config {
	cfg := testConfig("AAA", "BBB")
	cfg.EntryConfidenceThreshold = 0.5
	cfg.AllowShorts = true
	cfg.ExitCooldown = 2 * time.Hour
	cfg.StopLossCooldown = 4 * time.Hour
	return cfg
}

func TestReplayAndLiveDecideIdentically(t *testing.T) {
	const n = 120
	ctx := context.Background()
	history := map[string]domain.Series{
		"AAA": wave(base, n, 0),
		"BBB": wave(base, n, 2),
	}

	// Replay: the full history is available and filtered by time.
	replayProv := newMemProvider()
	for sym, s := range history {
		replayProv.set(sym, s)
	}
	replay := newRig(t, equivalenceConfig(), replayProv, strategySet(), func(d *Deps) {
		d.Aggregator = strategy.NewAggregator(strategy.AggregatorConfig{MinAgreement: 0.3}, testLogger())
	})

	// Live: bars arrive one at a time and orders go through the gateway.
	liveProv := newMemProvider()
	liveLedger := ledger.New(ledger.Config{InitialCash: decimal.NewFromInt(1_000_000), FeeRate: 0.001}, testLogger())
	gw := executor.NewGateway(&instantBroker{},
		executor.NewBreaker("broker", executor.BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute}, testLogger()),
		executor.GatewayConfig{PollInitial: time.Millisecond, FillTimeout: time.Second}, nil, testLogger())
	live, err := NewTrader(equivalenceConfig(), Deps{
		Feed:       NewLiveFeed(liveProv, nil, "1h", 50, 0),
		Executor:   NewGatewayExecutor(liveLedger, gw, domain.OrderTypeLimit, 0, testLogger()),
		Ledger:     liveLedger,
		Strategies: strategySet(),
		Aggregator: strategy.NewAggregator(strategy.AggregatorConfig{MinAgreement: 0.3}, testLogger()),
		Risk:       risk.NewCalculator(risk.DefaultConfig()),
		Logger:     testLogger(),
	})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		for _, sym := range []string{"AAA", "BBB"} {
			liveProv.push(sym, history[sym][i])
		}
		now := history["AAA"][i].Time.Add(time.Hour)
		require.NoError(t, replay.trader.Cycle(ctx, now))
		require.NoError(t, live.Cycle(ctx, now))
	}

	rd, ld := replay.trader.Decisions(0), live.Decisions(0)
	require.NotEmpty(t, rd)
	executed := 0
	for _, d := range rd {
		if d.Executed() {
			executed++
		}
	}
	assert.Positive(t, executed)
	assert.Equal(t, rd, ld)

	assert.True(t, replay.ledger.Cash().Equal(liveLedger.Cash()), "replay %s live %s", replay.ledger.Cash(), liveLedger.Cash())
	rp, lp := replay.ledger.Positions(), liveLedger.Positions()
	require.Len(t, lp, len(rp))
	for key, p := range rp {
		assert.Equal(t, p.Shares, lp[key].Shares, key)
		assert.Equal(t, p.EntryPrice, lp[key].EntryPrice, key)
	}
	assert.Len(t, liveLedger.Trades(""), len(replay.ledger.Trades("")))
}
