package risk

import (
	"math"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// TrailStop returns the ratcheted stop for pos at price. The stop only moves
// in the position's favour and never crosses break-even plus a 0.1% buffer.
// Repeated calls with a price that has not improved return the same stop.
func (c *Calculator) TrailStop(pos domain.Position, price, vol float64) float64 {
	prev := pos.StopLoss
	if vol <= 0 || math.IsNaN(vol) || price <= 0 {
		return prev
	}
	entry := pos.EntryPrice

	if pos.IsShort() {
		if entry-price <= vol*c.cfg.TrailActivation {
			return prev
		}
		candidate := math.Min(price+vol*c.cfg.TrailMultiplier, entry*0.999)
		if prev <= 0 {
			return candidate
		}
		return math.Min(candidate, prev)
	}

	if price-entry <= vol*c.cfg.TrailActivation {
		return prev
	}
	candidate := math.Max(price-vol*c.cfg.TrailMultiplier, entry*1.001)
	return math.Max(candidate, prev)
}
