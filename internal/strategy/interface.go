package strategy

import (
	"github.com/alanyoungcy/tradecore/internal/domain"
)

// SignalGenerator is the contract every trading strategy implements. Generate
// must be a pure function of the series it is given; the trading loop passes
// only bars strictly before the decision time.
type SignalGenerator interface {
	Name() string
	Generate(series domain.Series, symbol string) domain.Signal
}

// PositionAware is implemented by strategies that vote differently when a
// position is already open (for example, exiting on mean reversion).
type PositionAware interface {
	SetPosition(symbol string, side domain.PositionSide)
}

// Config holds strategy configuration.
type Config struct {
	Name   string
	Params map[string]any
}

func (c Config) float(key string, def float64) float64 {
	if v, ok := c.Params[key]; ok {
		switch f := v.(type) {
		case float64:
			return f
		case int64:
			return float64(f)
		case int:
			return float64(f)
		}
	}
	return def
}

func (c Config) int(key string, def int) int {
	if v, ok := c.Params[key]; ok {
		switch n := v.(type) {
		case int64:
			return int(n)
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}
