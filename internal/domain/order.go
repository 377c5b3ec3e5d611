package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType selects the broker execution style.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the order lifecycle as reported by the broker and as
// resolved by the gateway.
type OrderStatus string

const (
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusTimedOut        OrderStatus = "timed_out"
)

// Terminal reports whether no further fills can arrive.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusTimedOut:
		return true
	}
	return false
}

// Order is a request sent to the broker.
type Order struct {
	ClientID  string
	Symbol    string
	Qty       int64
	Price     float64
	Side      OrderSide
	Type      OrderType
	CreatedAt time.Time
}

// Validate rejects malformed orders before they reach the broker.
func (o Order) Validate() error {
	if err := ValidateSymbol(o.Symbol); err != nil {
		return err
	}
	if o.Qty <= 0 {
		return Validation("qty", "must be positive, got %d", o.Qty)
	}
	if err := ValidatePrice(o.Price); err != nil {
		return err
	}
	if o.Side != OrderSideBuy && o.Side != OrderSideSell {
		return Validation("side", "unknown side %q", o.Side)
	}
	if o.Type != OrderTypeMarket && o.Type != OrderTypeLimit {
		return Validation("type", "unknown order type %q", o.Type)
	}
	return nil
}

// OrderStatusReport is the broker's view of an order.
type OrderStatusReport struct {
	FilledQty int64
	AvgPrice  float64
	Status    OrderStatus
}

// Fill is the gateway's resolved outcome for one order.
type Fill struct {
	OrderID   string
	Status    OrderStatus
	FilledQty int64
	AvgPrice  float64
}

// Broker is the contract the order gateway needs from a broker client.
type Broker interface {
	PlaceOrder(ctx context.Context, symbol string, qty int64, price float64, side OrderSide, orderType OrderType) (string, error)
	OrderStatus(ctx context.Context, orderID string) (OrderStatusReport, error)
	CancelOrder(ctx context.Context, orderID string) error
	AccountMargin(ctx context.Context) (decimal.Decimal, error)
}

// PositionSyncer is implemented by brokers that can report held quantities,
// used to reconcile after a gateway timeout.
type PositionSyncer interface {
	Positions(ctx context.Context) (map[string]int64, error)
}
