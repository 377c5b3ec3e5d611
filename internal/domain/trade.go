package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide describes what a fill did to a position.
type TradeSide string

const (
	TradeBuy   TradeSide = "buy"   // open or add to a long
	TradeSell  TradeSide = "sell"  // reduce or close a long
	TradeShort TradeSide = "short" // open or add to a short
	TradeCover TradeSide = "cover" // reduce or close a short
)

// IsEntry reports whether the side opens exposure.
func (s TradeSide) IsEntry() bool {
	return s == TradeBuy || s == TradeShort
}

// Trade is an immutable record of one executed fill.
type Trade struct {
	ID          string           `json:"id"`
	Symbol      string           `json:"symbol"`
	Side        TradeSide        `json:"side"`
	Shares      int64            `json:"shares"`
	Price       float64          `json:"price"`
	Fees        decimal.Decimal  `json:"fees"`
	RealizedPnL *decimal.Decimal `json:"realized_pnl,omitempty"` // nil for entries
	Timestamp   time.Time        `json:"timestamp"`
	Confidence  float64          `json:"confidence"`
	Sector      string           `json:"sector,omitempty"`
	Strategy    string           `json:"strategy,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

// Notional returns shares × price.
func (t Trade) Notional() decimal.Decimal {
	return decimal.NewFromFloat(t.Price).Mul(decimal.NewFromInt(t.Shares))
}

// TradeMeta carries the decision context attached to a ledger mutation.
type TradeMeta struct {
	Confidence float64
	Sector     string
	Strategy   string
	Reason     string
	StopLoss   float64
	TakeProfit float64
	Time       time.Time
}
