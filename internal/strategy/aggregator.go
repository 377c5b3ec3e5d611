package strategy

import (
	"log/slog"
	"sync"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

const (
	defaultMinAgreement  = 0.4
	defaultMinConfidence = 0.20

	// eps absorbs float noise in agreement fractions such as 2/5 vs 0.4.
	eps = 1e-9
)

// AggregatorConfig holds the entry thresholds. Exits use a fixed 1/N
// agreement and no confidence floor.
type AggregatorConfig struct {
	MinAgreement  float64
	MinConfidence float64
}

// Aggregator combines per-strategy votes and the current market regime into
// one decision per symbol. Apart from the regime it holds no state.
type Aggregator struct {
	cfg    AggregatorConfig
	logger *slog.Logger

	mu     sync.RWMutex
	regime domain.Regime
}

// NewAggregator creates an Aggregator. Zero thresholds fall back to 0.4
// agreement and 0.20 confidence.
func NewAggregator(cfg AggregatorConfig, logger *slog.Logger) *Aggregator {
	if cfg.MinAgreement <= 0 {
		cfg.MinAgreement = defaultMinAgreement
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = defaultMinConfidence
	}
	return &Aggregator{
		cfg:    cfg,
		regime: domain.RegimeNeutral,
		logger: logger.With(slog.String("component", "aggregator")),
	}
}

// SetRegime updates the market bias applied to new entries.
func (a *Aggregator) SetRegime(r domain.Regime) {
	if r == "" {
		r = domain.RegimeNeutral
	}
	a.mu.Lock()
	a.regime = r
	a.mu.Unlock()
}

// Regime returns the current market bias.
func (a *Aggregator) Regime() domain.Regime {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.regime
}

type tally struct {
	action  domain.Action
	count   int
	sum     float64
	reasons []string
}

func (t tally) mean() float64 {
	if t.count == 0 {
		return 0
	}
	return t.sum / float64(t.count)
}

// Aggregate turns the votes of all polled strategies into one decision.
//
// Agreement for a side is its voter count over all polled strategies, hold
// voters included. With isExit set any single voter is enough and there is no
// confidence floor; otherwise agreement must reach MinAgreement and confidence
// must exceed MinConfidence. The regime only filters entries. The buy branch
// is evaluated first, so buy wins when both sides qualify.
func (a *Aggregator) Aggregate(signals []domain.Signal, symbol string, isExit bool) domain.AggregatedDecision {
	return a.aggregate(signals, symbol, isExit, domain.ActionBuy)
}

// AggregateExit is Aggregate on the exit path of an open position. The side
// that closes the position is evaluated first, so a single closing voter
// exits even when other strategies still vote with the position.
func (a *Aggregator) AggregateExit(signals []domain.Signal, symbol string, side domain.PositionSide) domain.AggregatedDecision {
	first := domain.ActionBuy
	if side == domain.SideLong {
		first = domain.ActionSell
	}
	return a.aggregate(signals, symbol, true, first)
}

func (a *Aggregator) aggregate(signals []domain.Signal, symbol string, isExit bool, first domain.Action) domain.AggregatedDecision {
	n := len(signals)
	if n == 0 {
		return domain.HoldDecision()
	}

	buys := tally{action: domain.ActionBuy}
	sells := tally{action: domain.ActionSell}
	for _, s := range signals {
		var t *tally
		switch s.Vote {
		case domain.ActionBuy:
			t = &buys
		case domain.ActionSell:
			t = &sells
		default:
			continue
		}
		t.count++
		t.sum += clamp01(s.Strength)
		t.reasons = append(t.reasons, s.Strategy+": "+s.Reason)
	}

	order := []tally{buys, sells}
	if first == domain.ActionSell {
		order = []tally{sells, buys}
	}

	regime := a.Regime()
	for _, t := range order {
		if t.count == 0 {
			continue
		}
		agreement := float64(t.count) / float64(n)
		confidence := clamp01(t.mean() * (0.6 + 0.4*agreement))

		if isExit {
			// 1/N agreement is met by any voter.
			return domain.AggregatedDecision{Action: t.action, Confidence: confidence, Reasons: t.reasons}
		}

		if agreement+eps < a.cfg.MinAgreement || confidence <= a.cfg.MinConfidence+eps {
			continue
		}
		if blocked(regime, t.action) {
			a.logger.Debug("regime blocked",
				slog.String("symbol", symbol),
				slog.String("action", string(t.action)),
				slog.String("regime", string(regime)),
				slog.Float64("confidence", confidence),
			)
			continue
		}
		return domain.AggregatedDecision{Action: t.action, Confidence: confidence, Reasons: t.reasons}
	}
	return domain.HoldDecision()
}

func blocked(regime domain.Regime, action domain.Action) bool {
	switch regime {
	case domain.RegimeBullish:
		return action == domain.ActionSell
	case domain.RegimeBearish:
		return action == domain.ActionBuy
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
