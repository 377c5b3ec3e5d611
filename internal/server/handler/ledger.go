package handler

import (
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/trading"
)

// LedgerHandler serves read-only views of the ledger and decision log.
type LedgerHandler struct {
	trader Trader
	trades domain.TradeStore
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler. trades may be nil, in which case
// trade history comes from the in-memory ledger.
func NewLedgerHandler(trader Trader, trades domain.TradeStore, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{trader: trader, trades: trades, logger: logHandler(logger, "ledger")}
}

// GetLedger returns the full persistable snapshot.
// GET /api/ledger
func (h *LedgerHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.trader.Snapshot())
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns open positions ordered by ledger key.
// GET /api/positions
func (h *LedgerHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	held := h.trader.Ledger().Positions()
	out := make([]domain.Position, 0, len(held))
	for _, p := range held {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: out})
}

type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// ListTrades returns trade history, newest first when read from the store.
// GET /api/trades?symbol=AAPL&limit=50&offset=0&since=...
func (h *LedgerHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol != "" {
		if err := domain.ValidateSymbol(symbol); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var trades []domain.Trade
	switch {
	case h.trades != nil && symbol != "":
		trades, err = h.trades.ListBySymbol(r.Context(), symbol, opts)
	case h.trades != nil:
		since := time.Time{}
		if opts.Since != nil {
			since = *opts.Since
		}
		trades, err = h.trades.ListSince(r.Context(), since)
		trades = page(trades, opts)
	default:
		trades = filterTrades(h.trader.Ledger().Trades(symbol), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

func filterTrades(in []domain.Trade, opts domain.ListOpts) []domain.Trade {
	out := in[:0]
	for _, t := range in {
		if opts.Since != nil && t.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !t.Timestamp.Before(*opts.Until) {
			continue
		}
		out = append(out, t)
	}
	return page(out, opts)
}

func page(in []domain.Trade, opts domain.ListOpts) []domain.Trade {
	if opts.Offset >= len(in) {
		return nil
	}
	in = in[opts.Offset:]
	if opts.Limit > 0 && len(in) > opts.Limit {
		in = in[:opts.Limit]
	}
	return in
}

type listDecisionsResponse struct {
	Decisions []trading.Decision `json:"decisions"`
}

// ListDecisions returns the most recent decisions, oldest first.
// GET /api/decisions?limit=100
func (h *LedgerHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	out := h.trader.Decisions(limit)
	if out == nil {
		out = []trading.Decision{}
	}
	writeJSON(w, http.StatusOK, listDecisionsResponse{Decisions: out})
}
