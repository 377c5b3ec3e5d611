package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide distinguishes long and short holdings of the same symbol.
type PositionSide string

const (
	SideFlat  PositionSide = ""
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// shortSuffix marks the ledger key of a short position.
const shortSuffix = "_SHORT"

// PositionKey returns the ledger key for symbol on the given side: the bare
// symbol for longs and SYMBOL_SHORT for shorts.
func PositionKey(symbol string, side PositionSide) string {
	if side == SideShort {
		return symbol + shortSuffix
	}
	return symbol
}

// SymbolFromKey strips the short suffix from a ledger key.
func SymbolFromKey(key string) string {
	return strings.TrimSuffix(key, shortSuffix)
}

// Position is an open holding. Shares is signed: positive for longs,
// negative for shorts. A zero-share position never exists in the ledger.
type Position struct {
	Symbol     string          `json:"symbol"`
	Side       PositionSide    `json:"side"`
	Shares     int64           `json:"shares"`
	EntryPrice float64         `json:"entry_price"`
	Invested   decimal.Decimal `json:"invested"`
	StopLoss   float64         `json:"stop_loss"`
	TakeProfit float64         `json:"take_profit"`
	Confidence float64         `json:"confidence"`
	Sector     string          `json:"sector,omitempty"`
	Strategy   string          `json:"strategy,omitempty"`
	EntryTime  time.Time       `json:"entry_time"`
}

// Key returns the ledger key of p.
func (p Position) Key() string {
	return PositionKey(p.Symbol, p.Side)
}

// Qty returns the absolute share count.
func (p Position) Qty() int64 {
	if p.Shares < 0 {
		return -p.Shares
	}
	return p.Shares
}

// IsShort reports whether p is a short position.
func (p Position) IsShort() bool { return p.Side == SideShort }

// MarketValue returns the signed mark-to-market value at price.
func (p Position) MarketValue(price float64) decimal.Decimal {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(p.Shares))
}

// UnrealizedPnL returns the open profit or loss at price, ignoring exit fees.
func (p Position) UnrealizedPnL(price float64) decimal.Decimal {
	diff := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.EntryPrice))
	return diff.Mul(decimal.NewFromInt(p.Shares))
}
