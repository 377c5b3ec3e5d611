package strategy

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

const (
	defaultMRWindow = 20
	defaultEntryZ   = 2.0
	defaultExitZ    = 0.5
)

// MeanReversion votes buy when the last close is far below the rolling mean
// and sell when it is far above. "Far" is measured in multiples of the
// rolling standard deviation (entry_z). With a position open it votes to
// exit once the price has reverted to within exit_z of the mean.
type MeanReversion struct {
	cfg       Config
	window    int
	entryZ    float64
	exitZ     float64
	gate      *Gate
	positions map[string]domain.PositionSide
	logger    *slog.Logger
}

// NewMeanReversion creates a MeanReversion strategy. The following keys are
// read from cfg.Params:
//
//   - "window" (int): closes in the rolling window. Defaults to 20.
//   - "entry_z" (float64): z-score that triggers an entry vote. Defaults to 2.0.
//   - "exit_z" (float64): z-score band that counts as reverted. Defaults to 0.5.
//   - "confirm_bars", "cooldown_bars" (int): Gate settings for entries.
func NewMeanReversion(cfg Config, logger *slog.Logger) *MeanReversion {
	return &MeanReversion{
		cfg:       cfg,
		window:    cfg.int("window", defaultMRWindow),
		entryZ:    cfg.float("entry_z", defaultEntryZ),
		exitZ:     cfg.float("exit_z", defaultExitZ),
		gate:      NewGate(cfg.int("confirm_bars", 1), cfg.int("cooldown_bars", 0)),
		positions: make(map[string]domain.PositionSide),
		logger:    logger.With(slog.String("strategy", "mean_reversion")),
	}
}

// Name returns the strategy identifier.
func (mr *MeanReversion) Name() string { return "mean_reversion" }

// SetPosition records the open side for symbol; SideFlat clears it.
func (mr *MeanReversion) SetPosition(symbol string, side domain.PositionSide) {
	if side == domain.SideFlat {
		delete(mr.positions, symbol)
		return
	}
	mr.positions[symbol] = side
}

// Generate scores the last close against the rolling window.
func (mr *MeanReversion) Generate(series domain.Series, symbol string) domain.Signal {
	last, ok := series.Last()
	if !ok || series.Len() < mr.window {
		return domain.Hold(mr.Name(), "insufficient data")
	}
	z := ZScore(series.Tail(mr.window).Closes())
	if z == 0 {
		return domain.Hold(mr.Name(), "flat window")
	}

	switch mr.positions[symbol] {
	case domain.SideLong:
		if z >= -mr.exitZ {
			return domain.Signal{Strategy: mr.Name(), Vote: domain.ActionSell, Strength: clamp01(0.5 + z/(2*mr.entryZ)), Reason: fmt.Sprintf("reverted to mean (z=%.2f)", z)}
		}
	case domain.SideShort:
		if z <= mr.exitZ {
			return domain.Signal{Strategy: mr.Name(), Vote: domain.ActionBuy, Strength: clamp01(0.5 - z/(2*mr.entryZ)), Reason: fmt.Sprintf("reverted to mean (z=%.2f)", z)}
		}
	}

	raw := domain.ActionHold
	switch {
	case z <= -mr.entryZ:
		raw = domain.ActionBuy
	case z >= mr.entryZ:
		raw = domain.ActionSell
	}
	if mr.gate.Observe(symbol, last.Time, raw) == domain.ActionHold {
		return domain.Hold(mr.Name(), fmt.Sprintf("z=%.2f", z))
	}

	strength := clamp01(math.Abs(z) / (2 * mr.entryZ))
	mr.logger.Debug("entry vote",
		slog.String("symbol", symbol),
		slog.String("vote", string(raw)),
		slog.Float64("z", z),
	)
	if raw == domain.ActionBuy {
		return domain.Signal{Strategy: mr.Name(), Vote: raw, Strength: strength, Reason: fmt.Sprintf("oversold (z=%.2f)", z)}
	}
	return domain.Signal{Strategy: mr.Name(), Vote: raw, Strength: strength, Reason: fmt.Sprintf("overbought (z=%.2f)", z)}
}
