package ledger

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// closeLeg reduces the opposite-side position.
type closeLeg struct {
	key       string
	pos       domain.Position
	shares    int64
	side      domain.TradeSide
	allocated decimal.Decimal // share of Invested released
	cashDelta decimal.Decimal
	pnl       decimal.Decimal
	fee       decimal.Decimal
}

// openLeg opens or adds to the same-side position.
type openLeg struct {
	key    string
	side   domain.PositionSide
	tside  domain.TradeSide
	shares int64
	cost   decimal.Decimal // n × price × (1 + fee)
	fee    decimal.Decimal
	newKey bool
	sector string
	open   []domain.Position // positions remaining after the close leg
}

type plan struct {
	symbol string
	price  float64
	close  *closeLeg
	open   *openLeg
}

// plan computes both legs and runs every check except the correlation guard.
// Caller holds posMu and cashMu.
func (l *Ledger) plan(side domain.OrderSide, symbol string, shares int64, price float64, meta domain.TradeMeta) (plan, error) {
	p := plan{symbol: symbol, price: price}
	px := decimal.NewFromFloat(price)
	one := decimal.NewFromInt(1)

	oppSide, sameSide := domain.SideShort, domain.SideLong
	closeSide, openSide := domain.TradeCover, domain.TradeBuy
	if side == domain.OrderSideSell {
		oppSide, sameSide = domain.SideLong, domain.SideShort
		closeSide, openSide = domain.TradeSell, domain.TradeShort
	}

	cash := l.cash
	remaining := shares
	oppKey := domain.PositionKey(symbol, oppSide)
	if opp, ok := l.positions[oppKey]; ok {
		m := min(remaining, opp.Qty())
		md := decimal.NewFromInt(m)
		allocated := opp.Invested.Mul(md).Div(decimal.NewFromInt(opp.Qty()))
		exitFee := md.Mul(px).Mul(l.fee)

		leg := &closeLeg{key: oppKey, pos: opp, shares: m, side: closeSide, allocated: allocated, fee: exitFee}
		if opp.IsShort() {
			credit := md.Mul(decimal.NewFromFloat(opp.EntryPrice)).Mul(one.Sub(l.fee))
			coverCost := md.Mul(px).Mul(one.Add(l.fee))
			leg.pnl = credit.Sub(coverCost)
			leg.cashDelta = allocated.Add(leg.pnl)
		} else {
			proceeds := md.Mul(px).Mul(one.Sub(l.fee))
			leg.pnl = proceeds.Sub(allocated)
			leg.cashDelta = proceeds
		}
		if cash.Add(leg.cashDelta).IsNegative() {
			return p, &domain.InsufficientFundsError{Symbol: symbol, Required: leg.cashDelta.Neg(), Available: cash}
		}
		cash = cash.Add(leg.cashDelta)
		remaining -= m
		p.close = leg
	}
	if remaining == 0 {
		return p, nil
	}

	nd := decimal.NewFromInt(remaining)
	notional := nd.Mul(px)
	leg := &openLeg{
		key:    domain.PositionKey(symbol, sameSide),
		side:   sameSide,
		tside:  openSide,
		shares: remaining,
		fee:    notional.Mul(l.fee),
		cost:   notional.Mul(one.Add(l.fee)),
		sector: l.sectorOf(symbol, meta),
	}
	if leg.cost.GreaterThan(cash) {
		return p, &domain.InsufficientFundsError{Symbol: symbol, Required: leg.cost, Available: cash}
	}

	_, exists := l.positions[leg.key]
	leg.newKey = !exists
	if leg.newKey {
		for k, pos := range l.positions {
			if p.close != nil && k == p.close.key && p.close.shares == p.close.pos.Qty() {
				continue
			}
			leg.open = append(leg.open, pos)
		}
		if l.cfg.MaxPositions > 0 && len(leg.open) >= l.cfg.MaxPositions {
			return p, &domain.RiskLimitError{
				Limit:  domain.LimitMaxPositions,
				Symbol: symbol,
				Detail: fmt.Sprintf("%d of %d open", len(leg.open), l.cfg.MaxPositions),
			}
		}
		if leg.sector != "" && l.cfg.MaxPerSector > 0 {
			n := 0
			for _, pos := range leg.open {
				if l.sectorOf(pos.Symbol, domain.TradeMeta{Sector: pos.Sector}) == leg.sector {
					n++
				}
			}
			if n >= l.cfg.MaxPerSector {
				return p, &domain.RiskLimitError{
					Limit:  domain.LimitSectorConcentration,
					Symbol: symbol,
					Detail: fmt.Sprintf("%d of %d in %s", n, l.cfg.MaxPerSector, leg.sector),
				}
			}
		}
	}
	p.open = leg
	return p, nil
}

func (l *Ledger) checkCorrelation(p plan) error {
	if l.guard == nil || p.open == nil || !p.open.newKey {
		return nil
	}
	if detail, conflict := l.guard.Conflict(p.symbol, p.open.side, p.open.open); conflict {
		return &domain.RiskLimitError{Limit: domain.LimitCorrelationConflict, Symbol: p.symbol, Detail: detail}
	}
	return nil
}

func (l *Ledger) sectorOf(symbol string, meta domain.TradeMeta) string {
	if meta.Sector != "" {
		return meta.Sector
	}
	return l.cfg.Sectors[symbol]
}

// commit applies a checked plan whose open-leg cost is already deducted.
// Caller holds posMu and cashMu.
func (l *Ledger) commit(p plan, meta domain.TradeMeta) []domain.Trade {
	var trades []domain.Trade

	if c := p.close; c != nil {
		pos := c.pos
		if c.shares == pos.Qty() {
			delete(l.positions, c.key)
		} else {
			if pos.IsShort() {
				pos.Shares += c.shares
			} else {
				pos.Shares -= c.shares
			}
			pos.Invested = pos.Invested.Sub(c.allocated)
			l.positions[c.key] = pos
		}

		l.cash = l.cash.Add(c.cashDelta)
		l.realized = l.realized.Add(c.pnl)
		l.feesPaid = l.feesPaid.Add(c.fee)
		switch {
		case c.pnl.IsPositive():
			l.winCount++
		case c.pnl.IsNegative():
			l.lossCount++
		}

		pnl := c.pnl
		strategy := meta.Strategy
		if strategy == "" {
			strategy = pos.Strategy
		}
		trades = append(trades, domain.Trade{
			ID:          newTradeID(),
			Symbol:      p.symbol,
			Side:        c.side,
			Shares:      c.shares,
			Price:       p.price,
			Fees:        c.fee,
			RealizedPnL: &pnl,
			Timestamp:   meta.Time,
			Confidence:  meta.Confidence,
			Sector:      pos.Sector,
			Strategy:    strategy,
			Reason:      meta.Reason,
		})
	}

	if o := p.open; o != nil {
		signed := o.shares
		if o.side == domain.SideShort {
			signed = -signed
		}
		pos, exists := l.positions[o.key]
		if !exists {
			pos = domain.Position{
				Symbol:     p.symbol,
				Side:       o.side,
				Shares:     signed,
				EntryPrice: p.price,
				Invested:   o.cost,
				StopLoss:   meta.StopLoss,
				TakeProfit: meta.TakeProfit,
				Confidence: meta.Confidence,
				Sector:     o.sector,
				Strategy:   meta.Strategy,
				EntryTime:  meta.Time,
			}
		} else {
			oldQty := float64(pos.Qty())
			newQty := oldQty + float64(o.shares)
			pos.EntryPrice = (oldQty*pos.EntryPrice + float64(o.shares)*p.price) / newQty
			pos.Shares += signed
			pos.Invested = pos.Invested.Add(o.cost)
			pos.StopLoss, pos.TakeProfit = widen(o.side, pos.StopLoss, pos.TakeProfit, meta.StopLoss, meta.TakeProfit)
			pos.Confidence = meta.Confidence
		}
		l.positions[o.key] = pos

		// The entry cost was already reserved by the caller.
		l.feesPaid = l.feesPaid.Add(o.fee)

		trades = append(trades, domain.Trade{
			ID:         newTradeID(),
			Symbol:     p.symbol,
			Side:       o.tside,
			Shares:     o.shares,
			Price:      p.price,
			Fees:       o.fee,
			Timestamp:  meta.Time,
			Confidence: meta.Confidence,
			Sector:     o.sector,
			Strategy:   meta.Strategy,
			Reason:     meta.Reason,
		})
	}

	l.tradeCount += int64(len(trades))
	l.trades = append(l.trades, trades...)
	l.history[p.symbol] = append(l.history[p.symbol], trades...)
	return trades
}

// widen merges old and new levels on averaging, keeping the wider stop and
// the further target. Zero means unset.
func widen(side domain.PositionSide, oldStop, oldTarget, newStop, newTarget float64) (float64, float64) {
	pick := func(a, b float64, f func(float64, float64) float64) float64 {
		switch {
		case a == 0:
			return b
		case b == 0:
			return a
		}
		return f(a, b)
	}
	if side == domain.SideShort {
		return pick(oldStop, newStop, math.Max), pick(oldTarget, newTarget, math.Min)
	}
	return pick(oldStop, newStop, math.Min), pick(oldTarget, newTarget, math.Max)
}
