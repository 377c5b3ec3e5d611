// Package broker holds the broker clients behind domain.Broker: an
// in-memory paper broker and a signed REST client.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// PaperConfig shapes how the paper broker fills orders.
type PaperConfig struct {
	Margin decimal.Decimal
	// FillLatency is how long an order stays submitted before it fills.
	FillLatency time.Duration
	// PartialFraction, when in (0,1), makes the first fill report cover
	// only that share of the quantity. The next poll completes it.
	PartialFraction float64
	// RejectRate is the probability an order is rejected on placement.
	RejectRate float64
	// SlippageBps moves the fill price against the order side.
	SlippageBps float64
	Seed        uint64
}

type paperOrder struct {
	order       domain.Order
	status      domain.OrderStatus
	filled      int64
	avgPrice    float64
	partialSeen bool
	applied     int64
}

// Paper is an in-memory broker. Orders fill at their limit or reference
// price after FillLatency.
type Paper struct {
	cfg    PaperConfig
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	rng       *rand.Rand
	orders    map[string]*paperOrder
	positions map[string]int64
	margin    decimal.Decimal
	hung      map[string]bool
}

// NewPaper creates a paper broker.
func NewPaper(cfg PaperConfig, logger *slog.Logger) *Paper {
	if cfg.PartialFraction < 0 || cfg.PartialFraction >= 1 {
		cfg.PartialFraction = 0
	}
	return &Paper{
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "paper_broker")),
		rng:       rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		orders:    make(map[string]*paperOrder),
		positions: make(map[string]int64),
		margin:    cfg.Margin,
		hung:      make(map[string]bool),
	}
}

// Hang makes orders for symbol stay submitted until Release is called.
func (p *Paper) Hang(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hung[symbol] = true
}

// Release undoes Hang.
func (p *Paper) Release(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.hung, symbol)
}

// PlaceOrder records the order and returns its broker ID.
func (p *Paper) PlaceOrder(ctx context.Context, symbol string, qty int64, price float64, side domain.OrderSide, orderType domain.OrderType) (string, error) {
	o := domain.Order{
		Symbol:    symbol,
		Qty:       qty,
		Price:     price,
		Side:      side,
		Type:      orderType,
		CreatedAt: p.now(),
	}
	if err := o.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", domain.Transient("paper.place", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.NewString()
	po := &paperOrder{order: o, status: domain.OrderStatusSubmitted}
	if p.cfg.RejectRate > 0 && p.rng.Float64() < p.cfg.RejectRate {
		po.status = domain.OrderStatusRejected
		p.logger.InfoContext(ctx, "paper order rejected", slog.String("order_id", id), slog.String("symbol", symbol))
	}
	p.orders[id] = po
	return id, nil
}

// OrderStatus advances the simulated fill and reports it.
func (p *Paper) OrderStatus(ctx context.Context, orderID string) (domain.OrderStatusReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[orderID]
	if !ok {
		return domain.OrderStatusReport{}, fmt.Errorf("paper: order %s: %w", orderID, domain.ErrNotFound)
	}
	if !po.status.Terminal() && !p.hung[po.order.Symbol] && !p.now().Before(po.order.CreatedAt.Add(p.cfg.FillLatency)) {
		p.advance(po)
	}
	return domain.OrderStatusReport{FilledQty: po.filled, AvgPrice: po.avgPrice, Status: po.status}, nil
}

func (p *Paper) advance(po *paperOrder) {
	po.avgPrice = p.fillPrice(po.order)
	if p.cfg.PartialFraction > 0 && !po.partialSeen {
		po.partialSeen = true
		part := int64(float64(po.order.Qty) * p.cfg.PartialFraction)
		if part > 0 && part < po.order.Qty {
			po.filled = part
			po.status = domain.OrderStatusPartiallyFilled
			p.apply(po)
			return
		}
	}
	po.filled = po.order.Qty
	po.status = domain.OrderStatusFilled
	p.apply(po)
}

// apply books the fill delta into positions and margin.
func (p *Paper) apply(po *paperOrder) {
	delta := po.filled - po.applied
	if delta <= 0 {
		return
	}
	po.applied = po.filled
	notional := decimal.NewFromFloat(po.avgPrice).Mul(decimal.NewFromInt(delta))
	if po.order.Side == domain.OrderSideBuy {
		p.positions[po.order.Symbol] += delta
		p.margin = p.margin.Sub(notional)
	} else {
		p.positions[po.order.Symbol] -= delta
		p.margin = p.margin.Add(notional)
	}
	if p.positions[po.order.Symbol] == 0 {
		delete(p.positions, po.order.Symbol)
	}
}

func (p *Paper) fillPrice(o domain.Order) float64 {
	slip := p.cfg.SlippageBps / 10_000
	if o.Side == domain.OrderSideBuy {
		return o.Price * (1 + slip)
	}
	return o.Price * (1 - slip)
}

// CancelOrder cancels an open order. Fills already booked stay.
func (p *Paper) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: cancel %s: %w", orderID, domain.ErrNotFound)
	}
	if !po.status.Terminal() {
		po.status = domain.OrderStatusCancelled
	}
	return nil
}

// AccountMargin returns the simulated buying power.
func (p *Paper) AccountMargin(context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.margin, nil
}

// Positions returns net held shares per symbol.
func (p *Paper) Positions(context.Context) (map[string]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int64, len(p.positions))
	for k, v := range p.positions {
		out[k] = v
	}
	return out, nil
}

var (
	_ domain.Broker         = (*Paper)(nil)
	_ domain.PositionSyncer = (*Paper)(nil)
)
