package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradecore/internal/crypto"
	"github.com/alanyoungcy/tradecore/internal/domain"
)

// RESTConfig configures the REST broker client.
type RESTConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	// RateLimit requests per RateWindow; zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// REST is the HMAC-signed broker API client.
type REST struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.RequestSigner
	limiter    domain.RateLimiter
	rateLimit  int
	rateWindow time.Duration
	logger     *slog.Logger
}

// NewREST creates a REST broker client. limiter may be nil.
func NewREST(cfg RESTConfig, limiter domain.RateLimiter, logger *slog.Logger) (*REST, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("broker: invalid base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("broker: api key and secret are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Second
	}
	return &REST{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		signer:     crypto.NewRequestSigner(cfg.APIKey, cfg.APISecret),
		limiter:    limiter,
		rateLimit:  cfg.RateLimit,
		rateWindow: cfg.RateWindow,
		logger:     logger.With(slog.String("component", "rest_broker")),
	}, nil
}

type placeOrderRequest struct {
	Symbol string  `json:"symbol"`
	Qty    int64   `json:"qty"`
	Price  float64 `json:"price"`
	Side   string  `json:"side"`
	Type   string  `json:"type"`
}

type orderResponse struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	FilledQty int64   `json:"filled_qty"`
	AvgPrice  float64 `json:"avg_price"`
}

type accountResponse struct {
	Margin decimal.Decimal `json:"margin"`
}

type positionResponse struct {
	Symbol string `json:"symbol"`
	Qty    int64  `json:"qty"`
}

// PlaceOrder submits an order and returns the broker's order ID.
func (c *REST) PlaceOrder(ctx context.Context, symbol string, qty int64, price float64, side domain.OrderSide, orderType domain.OrderType) (string, error) {
	o := domain.Order{Symbol: symbol, Qty: qty, Price: price, Side: side, Type: orderType}
	if err := o.Validate(); err != nil {
		return "", err
	}
	var resp orderResponse
	err := c.do(ctx, http.MethodPost, "/v1/orders", placeOrderRequest{
		Symbol: symbol,
		Qty:    qty,
		Price:  price,
		Side:   string(side),
		Type:   string(orderType),
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("broker: place order %s: %w", symbol, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("broker: place order %s: empty order id", symbol)
	}
	return resp.ID, nil
}

// OrderStatus polls one order.
func (c *REST) OrderStatus(ctx context.Context, orderID string) (domain.OrderStatusReport, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, &resp); err != nil {
		return domain.OrderStatusReport{}, fmt.Errorf("broker: order status %s: %w", orderID, err)
	}
	status, err := parseStatus(resp.Status)
	if err != nil {
		return domain.OrderStatusReport{}, fmt.Errorf("broker: order status %s: %w", orderID, err)
	}
	return domain.OrderStatusReport{FilledQty: resp.FilledQty, AvgPrice: resp.AvgPrice, Status: status}, nil
}

// CancelOrder cancels one order.
func (c *REST) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.do(ctx, http.MethodDelete, "/v1/orders/"+url.PathEscape(orderID), nil, nil); err != nil {
		return fmt.Errorf("broker: cancel %s: %w", orderID, err)
	}
	return nil
}

// AccountMargin returns available buying power.
func (c *REST) AccountMargin(ctx context.Context) (decimal.Decimal, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "/v1/account", nil, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("broker: account: %w", err)
	}
	return resp.Margin, nil
}

// Positions returns net held shares per symbol.
func (c *REST) Positions(ctx context.Context) (map[string]int64, error) {
	var resp []positionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/positions", nil, &resp); err != nil {
		return nil, fmt.Errorf("broker: positions: %w", err)
	}
	out := make(map[string]int64, len(resp))
	for _, p := range resp {
		if p.Qty != 0 {
			out[p.Symbol] += p.Qty
		}
	}
	return out, nil
}

func parseStatus(s string) (domain.OrderStatus, error) {
	switch st := domain.OrderStatus(strings.ToLower(s)); st {
	case domain.OrderStatusSubmitted, domain.OrderStatusPartiallyFilled, domain.OrderStatusFilled,
		domain.OrderStatusRejected, domain.OrderStatusCancelled:
		return st, nil
	case "new", "accepted", "pending":
		return domain.OrderStatusSubmitted, nil
	case "canceled", "expired":
		return domain.OrderStatusCancelled, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// do signs, sends and decodes one request.
func (c *REST) do(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil && c.rateLimit > 0 {
		if err := c.limiter.Wait(ctx, "broker", c.rateLimit, c.rateWindow); err != nil {
			return domain.Transient(method+" "+path, err)
		}
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = b
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.signer.Headers(method, path, payload) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Transient(method+" "+path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Transient(method+" "+path, fmt.Errorf("read response: %w", err))
	}
	if err := checkHTTPStatus(method+" "+path, resp.StatusCode, respBody); err != nil {
		c.logger.DebugContext(ctx, "broker request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(op string, statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	switch {
	case statusCode == http.StatusTooManyRequests:
		return domain.Transient(op, fmt.Errorf("%w: %s", domain.ErrRateLimited, msg))
	case statusCode >= 500:
		return domain.Transient(op, fmt.Errorf("HTTP %d: %s", statusCode, msg))
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case statusCode == http.StatusBadRequest, statusCode == http.StatusUnprocessableEntity:
		return domain.Validation("order", "broker rejected request: %s", msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}

var (
	_ domain.Broker         = (*REST)(nil)
	_ domain.PositionSyncer = (*REST)(nil)
)
