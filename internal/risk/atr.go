package risk

import (
	"math"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// ATR returns the Wilder-smoothed average true range over period bars, or 0
// when the series is too short.
func ATR(series domain.Series, period int) float64 {
	if period <= 0 || len(series) < period+1 {
		return 0
	}
	tr := func(i int) float64 {
		b, prevClose := series[i], series[i-1].Close
		return math.Max(b.High-b.Low, math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
	}

	var atr float64
	for i := 1; i <= period; i++ {
		atr += tr(i)
	}
	atr /= float64(period)
	for i := period + 1; i < len(series); i++ {
		atr = (atr*float64(period-1) + tr(i)) / float64(period)
	}
	return atr
}
