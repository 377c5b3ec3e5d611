package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// TradeAlert renders a trade as an event type, title and body.
func TradeAlert(t domain.Trade) (event, title, message string) {
	event = EventTradeExecuted
	title = fmt.Sprintf("%s %d %s @ %.2f", strings.ToUpper(string(t.Side)), t.Shares, t.Symbol, t.Price)
	var b strings.Builder
	fmt.Fprintf(&b, "fees %s", t.Fees.StringFixed(2))
	if t.RealizedPnL != nil {
		event = EventPositionClosed
		fmt.Fprintf(&b, "\nrealized P&L %s", t.RealizedPnL.StringFixed(2))
	}
	if t.Reason != "" {
		fmt.Fprintf(&b, "\nreason: %s", t.Reason)
	}
	return event, title, b.String()
}

// DaySummary renders the end-of-day ledger summary.
func DaySummary(day string, st domain.LedgerState, trades int) (title, message string) {
	title = "Trading day " + day + " closed"
	message = fmt.Sprintf("cash %s\nrealized P&L %s\nfees %s\nopen positions %d\ntrades today %d (wins %d, losses %d overall)",
		st.Cash.StringFixed(2), st.RealizedPnL.StringFixed(2), st.FeesPaid.StringFixed(2),
		len(st.Positions), trades, st.WinCount, st.LossCount)
	return title, message
}

// BreakerAlert renders a circuit-open alert.
func BreakerAlert(name string, reopenAt time.Time) (title, message string) {
	return "Circuit open: " + name,
		fmt.Sprintf("trading loop paused until %s", reopenAt.UTC().Format(time.RFC3339))
}
