package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Tier names the position-size bucket chosen from confidence.
type Tier string

const (
	TierMin Tier = "min"
	TierMid Tier = "mid"
	TierMax Tier = "max"
)

// Config holds the tunable sizing and stop/target parameters.
type Config struct {
	MinFraction float64 // of cash, lowest tier
	MaxFraction float64 // of cash, highest tier

	StopMultiplier   float64 // × volatility
	TargetMultiplier float64 // × volatility
	MaxLossFraction  float64 // cap on stop distance, × entry
	MinStopFraction  float64 // floor on stop distance, × entry

	DefaultStopFraction   float64 // used when no volatility estimate exists
	DefaultTargetFraction float64

	TrailActivation float64 // gain in volatility units before trailing starts
	TrailMultiplier float64 // trailing distance in volatility units
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MinFraction:           0.10,
		MaxFraction:           0.25,
		StopMultiplier:        2.0,
		TargetMultiplier:      3.0,
		MaxLossFraction:       0.08,
		MinStopFraction:       0.005,
		DefaultStopFraction:   0.05,
		DefaultTargetFraction: 0.10,
		TrailActivation:       1.5,
		TrailMultiplier:       2.0,
	}
}

// Validate checks the fractions are ordered and positive.
func (c Config) Validate() error {
	if c.MinFraction <= 0 || c.MaxFraction > 1 || c.MinFraction > c.MaxFraction {
		return domain.Validation("risk.fractions", "need 0 < min (%v) <= max (%v) <= 1", c.MinFraction, c.MaxFraction)
	}
	if c.MaxLossFraction <= 0 || c.MaxLossFraction >= 1 {
		return domain.Validation("risk.max_loss_fraction", "must be within (0,1), got %v", c.MaxLossFraction)
	}
	if c.MinStopFraction < 0 || c.MinStopFraction > c.MaxLossFraction {
		return domain.Validation("risk.min_stop_fraction", "must be within [0,max_loss_fraction], got %v", c.MinStopFraction)
	}
	return nil
}

// Plan is the sizing result for one entry.
type Plan struct {
	Shares     int64
	Fraction   float64
	Tier       Tier
	StopLoss   float64
	TakeProfit float64
}

// Calculator is a pure function set over Config.
type Calculator struct {
	cfg Config
}

// NewCalculator returns a Calculator for cfg.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Config returns the calculator's parameters.
func (c *Calculator) Config() Config { return c.cfg }

// Tier maps confidence to a size bucket and its cash fraction.
func (c *Calculator) Tier(confidence float64) (Tier, float64) {
	switch {
	case confidence >= 0.7:
		return TierMax, c.cfg.MaxFraction
	case confidence >= 0.5:
		return TierMid, (c.cfg.MinFraction + c.cfg.MaxFraction) / 2
	default:
		return TierMin, c.cfg.MinFraction
	}
}

// Shares returns floor(cash × fraction / price) for the tier of confidence.
func (c *Calculator) Shares(cash decimal.Decimal, price, confidence float64) int64 {
	if price <= 0 || !cash.IsPositive() {
		return 0
	}
	_, fraction := c.Tier(confidence)
	budget := cash.Mul(decimal.NewFromFloat(fraction))
	return budget.Div(decimal.NewFromFloat(price)).Floor().IntPart()
}

// shortTargetFloor keeps a short's take-profit above zero, as a fraction of
// entry, however large the volatility.
const shortTargetFloor = 0.1

// Levels returns the initial stop-loss and take-profit for an entry on side.
// Higher confidence tightens the stop and widens the target.
func (c *Calculator) Levels(side domain.PositionSide, entry, confidence, vol float64) (stop, target float64) {
	if vol <= 0 || math.IsNaN(vol) {
		if side == domain.SideShort {
			return entry * (1 + c.cfg.DefaultStopFraction), entry * (1 - c.cfg.DefaultTargetFraction)
		}
		return entry * (1 - c.cfg.DefaultStopFraction), entry * (1 + c.cfg.DefaultTargetFraction)
	}

	stopDist := vol * c.cfg.StopMultiplier * (1.5 - confidence)
	stopDist = math.Min(stopDist, entry*c.cfg.MaxLossFraction)
	stopDist = math.Max(stopDist, entry*c.cfg.MinStopFraction)
	targetDist := vol * c.cfg.TargetMultiplier * (0.5 + confidence)

	if side == domain.SideShort {
		return entry + stopDist, math.Max(entry-targetDist, entry*shortTargetFloor)
	}
	return entry - stopDist, entry + targetDist
}

// Plan sizes an entry and computes its initial levels.
func (c *Calculator) Plan(side domain.PositionSide, cash decimal.Decimal, price, confidence, vol float64) Plan {
	tier, fraction := c.Tier(confidence)
	stop, target := c.Levels(side, price, confidence, vol)
	return Plan{
		Shares:     c.Shares(cash, price, confidence),
		Fraction:   fraction,
		Tier:       tier,
		StopLoss:   stop,
		TakeProfit: target,
	}
}
