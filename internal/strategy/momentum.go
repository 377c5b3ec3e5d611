package strategy

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

const (
	defaultFastPeriod = 10
	defaultSlowPeriod = 30
	defaultMinSpread  = 0.002
	defaultFullSpread = 0.02
)

// Momentum is a fast/slow SMA crossover. It votes buy while the fast average
// sits above the slow one by more than min_spread, sell while it sits below,
// and votes to exit an open position when the crossover reverses.
type Momentum struct {
	cfg        Config
	fast       int
	slow       int
	minSpread  float64
	fullSpread float64
	gate       *Gate
	positions  map[string]domain.PositionSide
	logger     *slog.Logger
}

// NewMomentum creates a Momentum strategy. Params: "fast", "slow" (int),
// "min_spread", "full_spread" (float64, relative to the slow SMA) and the
// Gate settings "confirm_bars", "cooldown_bars".
func NewMomentum(cfg Config, logger *slog.Logger) *Momentum {
	m := &Momentum{
		cfg:        cfg,
		fast:       cfg.int("fast", defaultFastPeriod),
		slow:       cfg.int("slow", defaultSlowPeriod),
		minSpread:  cfg.float("min_spread", defaultMinSpread),
		fullSpread: cfg.float("full_spread", defaultFullSpread),
		gate:       NewGate(cfg.int("confirm_bars", 2), cfg.int("cooldown_bars", 0)),
		positions:  make(map[string]domain.PositionSide),
		logger:     logger.With(slog.String("strategy", "momentum")),
	}
	if m.fast >= m.slow {
		m.fast = m.slow / 2
	}
	if m.fullSpread <= 0 {
		m.fullSpread = defaultFullSpread
	}
	return m
}

// Name returns the strategy identifier.
func (m *Momentum) Name() string { return "momentum" }

// SetPosition records the open side for symbol; SideFlat clears it.
func (m *Momentum) SetPosition(symbol string, side domain.PositionSide) {
	if side == domain.SideFlat {
		delete(m.positions, symbol)
		return
	}
	m.positions[symbol] = side
}

// Generate compares the fast and slow SMA of closes.
func (m *Momentum) Generate(series domain.Series, symbol string) domain.Signal {
	last, ok := series.Last()
	if !ok {
		return domain.Hold(m.Name(), "insufficient data")
	}
	closes := series.Closes()
	slow, ok := SMA(closes, m.slow)
	if !ok || slow == 0 {
		return domain.Hold(m.Name(), "insufficient data")
	}
	fast, _ := SMA(closes, m.fast)
	spread := (fast - slow) / slow
	strength := clamp01(math.Abs(spread) / m.fullSpread)

	switch m.positions[symbol] {
	case domain.SideLong:
		if spread < 0 {
			return domain.Signal{Strategy: m.Name(), Vote: domain.ActionSell, Strength: strength, Reason: fmt.Sprintf("trend reversed (%.2f%%)", spread*100)}
		}
	case domain.SideShort:
		if spread > 0 {
			return domain.Signal{Strategy: m.Name(), Vote: domain.ActionBuy, Strength: strength, Reason: fmt.Sprintf("trend reversed (%.2f%%)", spread*100)}
		}
	}

	raw := domain.ActionHold
	switch {
	case spread > m.minSpread:
		raw = domain.ActionBuy
	case spread < -m.minSpread:
		raw = domain.ActionSell
	}
	if m.gate.Observe(symbol, last.Time, raw) == domain.ActionHold {
		return domain.Hold(m.Name(), fmt.Sprintf("spread %.2f%%", spread*100))
	}
	if raw == domain.ActionBuy {
		return domain.Signal{Strategy: m.Name(), Vote: raw, Strength: strength, Reason: fmt.Sprintf("uptrend (%.2f%%)", spread*100)}
	}
	return domain.Signal{Strategy: m.Name(), Vote: raw, Strength: strength, Reason: fmt.Sprintf("downtrend (%.2f%%)", spread*100)}
}
