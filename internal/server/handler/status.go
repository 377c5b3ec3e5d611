package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/tradecore/internal/trading"
)

// StatusHandler serves the loop status.
type StatusHandler struct {
	trader    Trader
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(trader Trader, startedAt time.Time) *StatusHandler {
	return &StatusHandler{trader: trader, startedAt: startedAt}
}

type statusResponse struct {
	trading.Status
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// GetStatus responds with the loop mode, iteration, breaker and balances.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:        h.trader.Status(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}
