package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// REST fetches OHLCV bars from an HTTP bars endpoint:
//
//	GET {base}/v1/bars?symbol=AAPL&interval=1h&limit=200[&end=<unix>]
//
// returning {"bars":[{"time":..., "open":..., ...}]} oldest first.
type REST struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewREST creates a REST bars provider.
func NewREST(baseURL string, timeout time.Duration, logger *slog.Logger) *REST {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &REST{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "marketdata_rest")),
	}
}

type barsResponse struct {
	Bars []domain.Bar `json:"bars"`
}

// FetchSeries returns the latest lookback bars.
func (c *REST) FetchSeries(ctx context.Context, symbol, interval string, lookback int) (domain.Series, error) {
	return c.fetch(ctx, symbol, interval, lookback, time.Time{})
}

// FetchSeriesBefore returns up to lookback bars strictly before the cut-off.
// Bars the server returns at or after the cut-off are dropped.
func (c *REST) FetchSeriesBefore(ctx context.Context, symbol, interval string, lookback int, before time.Time) (domain.Series, error) {
	s, err := c.fetch(ctx, symbol, interval, lookback, before)
	if err != nil {
		return nil, err
	}
	return s.Before(before).Tail(lookback), nil
}

func (c *REST) fetch(ctx context.Context, symbol, interval string, lookback int, end time.Time) (domain.Series, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(lookback))
	if !end.IsZero() {
		q.Set("end", strconv.FormatInt(end.Unix(), 10))
	}
	op := "bars " + symbol

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/bars?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("marketdata: %s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, domain.Transient(op, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("marketdata: %s: %w", op, domain.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.Transient(op, domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, domain.Transient(op, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("marketdata: %s: HTTP %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out barsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("marketdata: %s: decode: %w", op, err)
	}
	s := domain.Series(out.Bars)
	if !s.Sorted() {
		c.logger.WarnContext(ctx, "unsorted bars from server", slog.String("symbol", symbol))
		return nil, fmt.Errorf("marketdata: %s: bars not strictly ascending", op)
	}
	return s.Tail(lookback), nil
}

var _ domain.HistoricalProvider = (*REST)(nil)
