package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/metrics"
)

// GatewayConfig holds the fill-polling policy.
type GatewayConfig struct {
	PollInitial   time.Duration
	PollMax       time.Duration
	PollFactor    float64
	FillTimeout   time.Duration // used when the caller passes 0
	CancelTimeout time.Duration // budget for the best-effort cancel
	DedupTTL      time.Duration
	CleanupEvery  time.Duration
}

// DefaultGatewayConfig returns the polling defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		PollInitial:   250 * time.Millisecond,
		PollMax:       5 * time.Second,
		PollFactor:    2,
		FillTimeout:   60 * time.Second,
		CancelTimeout: 5 * time.Second,
		DedupTTL:      10 * time.Minute,
		CleanupEvery:  time.Minute,
	}
}

// Gateway submits orders to a broker and resolves them into fills. It holds
// no position or cash state; only the breaker counters and the client-order
// dedup window.
type Gateway struct {
	broker  domain.Broker
	breaker *Breaker
	dedup   *Dedup
	cfg     GatewayConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewGateway creates a Gateway. breaker may be shared with other broker calls.
func NewGateway(broker domain.Broker, breaker *Breaker, cfg GatewayConfig, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	def := DefaultGatewayConfig()
	if cfg.PollInitial <= 0 {
		cfg.PollInitial = def.PollInitial
	}
	if cfg.PollMax < cfg.PollInitial {
		cfg.PollMax = cfg.PollInitial
	}
	if cfg.PollFactor < 1 {
		cfg.PollFactor = def.PollFactor
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = def.FillTimeout
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = def.CancelTimeout
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = def.DedupTTL
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = def.CleanupEvery
	}
	return &Gateway{
		broker:  broker,
		breaker: breaker,
		dedup:   NewDedup(cfg.DedupTTL),
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "gateway")),
	}
}

// Breaker returns the breaker guarding broker calls.
func (g *Gateway) Breaker() *Breaker { return g.breaker }

// Run periodically prunes the dedup window until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("gateway started")
	defer g.logger.Info("gateway stopped")

	ticker := time.NewTicker(g.cfg.CleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := g.dedup.Cleanup(); n > 0 {
				g.logger.Debug("dedup pruned", slog.Int("removed", n))
			}
		}
	}
}

// Submit validates and places order. A failed submit is terminal for that
// attempt; retry policy belongs to the caller.
func (g *Gateway) Submit(ctx context.Context, order domain.Order) (string, error) {
	if order.ClientID == "" {
		order.ClientID = uuid.NewString()
	}
	if err := order.Validate(); err != nil {
		return "", fmt.Errorf("gateway: submit: %w", err)
	}
	if g.dedup.IsDuplicate(order.ClientID) {
		return "", fmt.Errorf("gateway: submit: %w", domain.Validation("client_id", "duplicate client order id %s", order.ClientID))
	}

	id, err := Call(ctx, g.breaker, func(ctx context.Context) (string, error) {
		return g.broker.PlaceOrder(ctx, order.Symbol, order.Qty, order.Price, order.Side, order.Type)
	})
	if err != nil {
		g.logger.WarnContext(ctx, "submit failed",
			slog.String("client_id", order.ClientID),
			slog.String("symbol", order.Symbol),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("gateway: submit %s: %w", order.Symbol, err)
	}

	g.logger.InfoContext(ctx, "order submitted",
		slog.String("order_id", id),
		slog.String("client_id", order.ClientID),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
		slog.Int64("qty", order.Qty),
	)
	return id, nil
}

// AwaitFill polls the broker with capped exponential backoff until the order
// is fully filled, reaches a terminal status, or timeout elapses.
//
// On timeout the order is cancelled. A failed cancel is logged only. With no
// fill the result is TimedOut plus *domain.GatewayTimeoutError; with a partial
// fill it is PartiallyFilled with the filled quantity and average price.
// Cancelling ctx triggers a best-effort cancel and returns ctx.Err().
func (g *Gateway) AwaitFill(ctx context.Context, orderID string, expectedQty int64, timeout time.Duration) (domain.Fill, error) {
	if timeout <= 0 {
		timeout = g.cfg.FillTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	log := g.logger.With(slog.String("order_id", orderID))
	delay := g.cfg.PollInitial
	var last domain.OrderStatusReport

	for {
		rep, err := Call(ctx, g.breaker, func(ctx context.Context) (domain.OrderStatusReport, error) {
			return g.broker.OrderStatus(ctx, orderID)
		})
		switch {
		case err == nil:
			last = rep
			if fill, done := resolve(orderID, rep, expectedQty); done {
				return fill, nil
			}
		case ctx.Err() != nil:
		default:
			log.WarnContext(ctx, "status poll failed", slog.String("error", err.Error()))
		}

		wait := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			wait.Stop()
			g.cancelBestEffort(ctx, orderID)
			return partial(orderID, last, domain.OrderStatusCancelled), ctx.Err()

		case <-deadline.C:
			wait.Stop()
			return g.onTimeout(ctx, orderID, expectedQty, timeout, last)

		case <-wait.C:
			delay = time.Duration(float64(delay) * g.cfg.PollFactor)
			if delay > g.cfg.PollMax {
				delay = g.cfg.PollMax
			}
		}
	}
}

// Execute submits order and waits for its fill.
func (g *Gateway) Execute(ctx context.Context, order domain.Order, timeout time.Duration) (domain.Fill, error) {
	start := time.Now()
	id, err := g.Submit(ctx, order)
	if err != nil {
		g.metrics.ObserveOrder(string(order.Side), string(domain.OrderStatusRejected), time.Since(start))
		return domain.Fill{Status: domain.OrderStatusRejected}, err
	}
	fill, err := g.AwaitFill(ctx, id, order.Qty, timeout)
	g.metrics.ObserveOrder(string(order.Side), string(fill.Status), time.Since(start))
	return fill, err
}

// Margin returns the broker's available cash through the breaker.
func (g *Gateway) Margin(ctx context.Context) (decimal.Decimal, error) {
	m, err := Call(ctx, g.breaker, g.broker.AccountMargin)
	if err != nil {
		return decimal.Zero, fmt.Errorf("gateway: margin: %w", err)
	}
	return m, nil
}

func (g *Gateway) onTimeout(ctx context.Context, orderID string, expectedQty int64, timeout time.Duration, last domain.OrderStatusReport) (domain.Fill, error) {
	log := g.logger.With(slog.String("order_id", orderID))
	cancelErr := g.cancelBestEffort(ctx, orderID)

	// A fill can land between the last poll and the cancel.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.CancelTimeout)
	defer cancel()
	if rep, err := g.broker.OrderStatus(cctx, orderID); err == nil {
		last = rep
		if fill, done := resolve(orderID, rep, expectedQty); done && fill.Status == domain.OrderStatusFilled {
			return fill, nil
		}
	}

	if last.FilledQty <= 0 {
		log.WarnContext(ctx, "order timed out unfilled", slog.Duration("timeout", timeout))
		return domain.Fill{OrderID: orderID, Status: domain.OrderStatusTimedOut},
			&domain.GatewayTimeoutError{OrderID: orderID, Timeout: timeout, CancelErr: cancelErr}
	}
	log.WarnContext(ctx, "order timed out partially filled",
		slog.Int64("filled", last.FilledQty),
		slog.Int64("expected", expectedQty),
	)
	return partial(orderID, last, domain.OrderStatusPartiallyFilled), nil
}

// cancelBestEffort cancels orderID on a context detached from ctx so that
// shutdown still reaches the broker.
func (g *Gateway) cancelBestEffort(ctx context.Context, orderID string) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.CancelTimeout)
	defer cancel()
	if err := g.broker.CancelOrder(cctx, orderID); err != nil {
		g.logger.WarnContext(ctx, "cancel failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// resolve maps a status report to a final fill when no further polling is
// needed.
func resolve(orderID string, rep domain.OrderStatusReport, expectedQty int64) (domain.Fill, bool) {
	switch {
	case rep.Status == domain.OrderStatusFilled && rep.FilledQty >= expectedQty:
		return domain.Fill{OrderID: orderID, Status: domain.OrderStatusFilled, FilledQty: rep.FilledQty, AvgPrice: rep.AvgPrice}, true
	case rep.Status == domain.OrderStatusRejected, rep.Status == domain.OrderStatusCancelled:
		return partial(orderID, rep, rep.Status), true
	}
	return domain.Fill{}, false
}

// partial reports whatever filled, tagged with status, or PartiallyFilled
// when some quantity did fill.
func partial(orderID string, rep domain.OrderStatusReport, status domain.OrderStatus) domain.Fill {
	if rep.FilledQty > 0 {
		status = domain.OrderStatusPartiallyFilled
	}
	return domain.Fill{OrderID: orderID, Status: status, FilledQty: rep.FilledQty, AvgPrice: rep.AvgPrice}
}
