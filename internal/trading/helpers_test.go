package trading

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/ledger"
	"github.com/alanyoungcy/tradecore/internal/risk"
	"github.com/alanyoungcy/tradecore/internal/strategy"
)

var base = time.Date(2025, 1, 6, 14, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bars(start time.Time, closes ...float64) domain.Series {
	s := make(domain.Series, len(closes))
	for i, c := range closes {
		s[i] = domain.Bar{Time: start.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return s
}

// memProvider serves fixed series and can be grown bar by bar.
type memProvider struct {
	mu     sync.Mutex
	series map[string]domain.Series
}

func newMemProvider() *memProvider {
	return &memProvider{series: make(map[string]domain.Series)}
}

func (p *memProvider) set(symbol string, s domain.Series) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.series[symbol] = s
}

func (p *memProvider) push(symbol string, b domain.Bar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.series[symbol] = append(p.series[symbol], b)
}

func (p *memProvider) get(symbol string) (domain.Series, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.series[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbol, domain.ErrNotFound)
	}
	return append(domain.Series(nil), s...), nil
}

func (p *memProvider) FetchSeries(_ context.Context, symbol, _ string, lookback int) (domain.Series, error) {
	s, err := p.get(symbol)
	if err != nil {
		return nil, err
	}
	return s.Tail(lookback), nil
}

func (p *memProvider) FetchSeriesBefore(_ context.Context, symbol, _ string, lookback int, before time.Time) (domain.Series, error) {
	s, err := p.get(symbol)
	if err != nil {
		return nil, err
	}
	return s.Before(before).Tail(lookback), nil
}

// voteStrategy returns fixed per-symbol votes, or whatever fn decides.
type voteStrategy struct {
	name  string
	mu    sync.Mutex
	votes map[string]domain.Signal
	fn    func(series domain.Series, symbol string) domain.Signal
}

func (v *voteStrategy) Name() string { return v.name }

func (v *voteStrategy) Generate(series domain.Series, symbol string) domain.Signal {
	if v.fn != nil {
		sig := v.fn(series, symbol)
		sig.Strategy = v.name
		return sig
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	sig, ok := v.votes[symbol]
	if !ok {
		return domain.Hold(v.name, "no vote")
	}
	sig.Strategy = v.name
	return sig
}

func buyVote(strength float64) domain.Signal {
	return domain.Signal{Vote: domain.ActionBuy, Strength: strength, Reason: "scripted"}
}

func sellVote(strength float64) domain.Signal {
	return domain.Signal{Vote: domain.ActionSell, Strength: strength, Reason: "scripted"}
}

type rig struct {
	trader   *Trader
	ledger   *ledger.Ledger
	provider *memProvider
}

func testConfig(symbols ...string) Config {
	return Config{
		Mode:                     "replay",
		Symbols:                  symbols,
		EntryConfidenceThreshold: 0.65,
		Retry:                    RetryPolicy{Attempts: 1},
	}
}

func newRig(t *testing.T, cfg Config, p *memProvider, strategies []strategy.SignalGenerator, mutate ...func(*Deps)) *rig {
	t.Helper()
	led := ledger.New(ledger.Config{InitialCash: decimal.NewFromInt(1_000_000), FeeRate: 0.001}, testLogger())
	deps := Deps{
		Feed:       NewReplayFeed(p, "1h", 50),
		Executor:   NewSimExecutor(led),
		Ledger:     led,
		Strategies: strategies,
		Aggregator: strategy.NewAggregator(strategy.AggregatorConfig{}, testLogger()),
		Risk:       risk.NewCalculator(risk.DefaultConfig()),
		Logger:     testLogger(),
	}
	for _, m := range mutate {
		m(&deps)
	}
	tr, err := NewTrader(cfg, deps)
	require.NoError(t, err)
	return &rig{trader: tr, ledger: led, provider: p}
}

func findDecision(ds []Decision, symbol string) (int, Decision) {
	for i, d := range ds {
		if d.Symbol == symbol {
			return i, d
		}
	}
	return -1, Decision{}
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *memAudit) has(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == event {
			return true
		}
	}
	return false
}
