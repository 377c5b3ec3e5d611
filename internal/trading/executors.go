package trading

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/executor"
	"github.com/alanyoungcy/tradecore/internal/ledger"
)

// OrderRequest is one ledger mutation the loop wants executed.
type OrderRequest struct {
	// ClientID is the gateway dedup key. Empty gets a random ID.
	ClientID string
	Side     domain.OrderSide
	Symbol   string
	Shares   int64
	Price    float64
	Meta     domain.TradeMeta
}

// Executor turns an OrderRequest into ledger trades.
type Executor interface {
	Execute(ctx context.Context, req OrderRequest) ([]domain.Trade, error)
}

// SimExecutor fills every request in full at the requested price. Replay uses
// it.
type SimExecutor struct {
	ledger *ledger.Ledger
}

// NewSimExecutor creates a SimExecutor over l.
func NewSimExecutor(l *ledger.Ledger) *SimExecutor {
	return &SimExecutor{ledger: l}
}

// Execute applies req to the ledger.
func (e *SimExecutor) Execute(_ context.Context, req OrderRequest) ([]domain.Trade, error) {
	return apply(e.ledger, req.Side, req.Symbol, req.Shares, req.Price, req.Meta)
}

// GatewayExecutor routes requests through the broker gateway and applies
// whatever actually filled.
type GatewayExecutor struct {
	ledger    *ledger.Ledger
	gateway   *executor.Gateway
	orderType domain.OrderType
	timeout   time.Duration
	logger    *slog.Logger
}

// NewGatewayExecutor creates a GatewayExecutor. timeout 0 uses the gateway's
// fill timeout.
func NewGatewayExecutor(l *ledger.Ledger, g *executor.Gateway, orderType domain.OrderType, timeout time.Duration, logger *slog.Logger) *GatewayExecutor {
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}
	return &GatewayExecutor{
		ledger:    l,
		gateway:   g,
		orderType: orderType,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "gateway_executor")),
	}
}

// Execute prechecks the ledger, places the order and applies the fill. A
// timeout with nothing filled leaves the ledger untouched. A partial fill is
// applied at its average price even when err is non-nil.
func (e *GatewayExecutor) Execute(ctx context.Context, req OrderRequest) ([]domain.Trade, error) {
	if err := e.ledger.Precheck(req.Side, req.Symbol, req.Shares, req.Price, req.Meta); err != nil {
		return nil, err
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	fill, err := e.gateway.Execute(ctx, domain.Order{
		ClientID:  clientID,
		Symbol:    req.Symbol,
		Qty:       req.Shares,
		Price:     req.Price,
		Side:      req.Side,
		Type:      e.orderType,
		CreatedAt: req.Meta.Time,
	}, e.timeout)
	if fill.FilledQty <= 0 {
		if err == nil {
			err = fmt.Errorf("order %s %s: %s with no fill", req.Side, req.Symbol, fill.Status)
		}
		return nil, err
	}

	price := fill.AvgPrice
	if price <= 0 {
		price = req.Price
	}
	trades, applyErr := apply(e.ledger, req.Side, req.Symbol, fill.FilledQty, price, req.Meta)
	if applyErr != nil {
		// The broker holds shares the ledger refused; reconcile will flag it.
		e.logger.ErrorContext(ctx, "fill not applied",
			slog.String("order_id", fill.OrderID),
			slog.String("symbol", req.Symbol),
			slog.Int64("filled", fill.FilledQty),
			slog.String("error", applyErr.Error()),
		)
		return nil, fmt.Errorf("apply fill %s: %w", fill.OrderID, applyErr)
	}
	if fill.FilledQty < req.Shares {
		e.logger.WarnContext(ctx, "partial fill applied",
			slog.String("order_id", fill.OrderID),
			slog.String("symbol", req.Symbol),
			slog.Int64("filled", fill.FilledQty),
			slog.Int64("requested", req.Shares),
		)
	}
	return trades, err
}

func apply(l *ledger.Ledger, side domain.OrderSide, symbol string, shares int64, price float64, meta domain.TradeMeta) ([]domain.Trade, error) {
	if side == domain.OrderSideSell {
		return l.Sell(symbol, shares, price, meta)
	}
	return l.Buy(symbol, shares, price, meta)
}
