package strategy

import (
	"github.com/alanyoungcy/tradecore/internal/domain"
)

// RegimeDetector classifies a benchmark series by the slope of its SMA over
// the last SlopeBars bars.
type RegimeDetector struct {
	Period    int
	SlopeBars int
	Threshold float64 // relative SMA change that counts as trending
}

// NewRegimeDetector returns a detector with a 50-bar SMA, 10-bar slope and
// 1% threshold for any zero argument.
func NewRegimeDetector(period, slopeBars int, threshold float64) *RegimeDetector {
	if period <= 0 {
		period = 50
	}
	if slopeBars <= 0 {
		slopeBars = 10
	}
	if threshold <= 0 {
		threshold = 0.01
	}
	return &RegimeDetector{Period: period, SlopeBars: slopeBars, Threshold: threshold}
}

// Detect returns the regime of series, or neutral with too little history.
func (d *RegimeDetector) Detect(series domain.Series) domain.Regime {
	closes := series.Closes()
	if len(closes) < d.Period+d.SlopeBars {
		return domain.RegimeNeutral
	}
	now, _ := SMA(closes, d.Period)
	then, _ := SMA(closes[:len(closes)-d.SlopeBars], d.Period)
	if then == 0 {
		return domain.RegimeNeutral
	}
	slope := (now - then) / then
	switch {
	case slope > d.Threshold:
		return domain.RegimeBullish
	case slope < -d.Threshold:
		return domain.RegimeBearish
	}
	return domain.RegimeNeutral
}
