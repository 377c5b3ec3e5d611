package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerState is a full dump of the ledger's cash, positions and counters.
type LedgerState struct {
	Cash        decimal.Decimal     `json:"cash"`
	Positions   map[string]Position `json:"positions"`
	RealizedPnL decimal.Decimal     `json:"realized_pnl"`
	FeesPaid    decimal.Decimal     `json:"fees_paid"`
	TradeCount  int64               `json:"trade_count"`
	WinCount    int64               `json:"win_count"`
	LossCount   int64               `json:"loss_count"`
}

// StateSnapshot is the durable record the trading loop resumes from.
type StateSnapshot struct {
	Mode       string               `json:"mode"`
	Iteration  int64                `json:"iteration"`
	TradingDay string               `json:"trading_day"`
	Ledger     LedgerState          `json:"ledger"`
	Cooldowns  map[string]time.Time `json:"cooldowns"`
	LastPrices map[string]float64   `json:"last_prices"`
	SavedAt    time.Time            `json:"saved_at"`
}
