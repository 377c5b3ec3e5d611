package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradecore/internal/trading"
)

// commandTimeout bounds how long an API call waits for the loop to pick up
// a command.
const commandTimeout = 2 * time.Minute

// TradingHandler serves the operator controls.
type TradingHandler struct {
	trader Trader
	logger *slog.Logger
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(trader Trader, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{trader: trader, logger: logHandler(logger, "trading")}
}

// CloseAll force-closes every open position.
// POST /api/trading/close-all
func (h *TradingHandler) CloseAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	closed, err := h.trader.RequestCloseAll(ctx, "api")
	if err != nil {
		if errors.Is(err, trading.ErrNotRunning) {
			writeError(w, http.StatusConflict, "trading loop is not running")
			return
		}
		h.logger.ErrorContext(ctx, "close-all failed",
			slog.Int("closed", closed),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"closed": closed,
			"error":  err.Error(),
		})
		return
	}
	h.logger.InfoContext(ctx, "close-all requested via api", slog.Int("closed", closed))
	writeJSON(w, http.StatusOK, map[string]any{"closed": closed})
}

// Stop asks the running loop to persist its state and return.
// POST /api/trading/stop
func (h *TradingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := h.trader.RequestStop(ctx); err != nil {
		if errors.Is(err, trading.ErrNotRunning) {
			writeError(w, http.StatusConflict, "trading loop is not running")
			return
		}
		h.logger.ErrorContext(ctx, "stop failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.InfoContext(ctx, "stop requested via api")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}
