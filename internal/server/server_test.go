package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/ledger"
	"github.com/alanyoungcy/tradecore/internal/metrics"
	"github.com/alanyoungcy/tradecore/internal/server/handler"
	"github.com/alanyoungcy/tradecore/internal/server/ws"
	"github.com/alanyoungcy/tradecore/internal/trading"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTrader struct {
	led       *ledger.Ledger
	decisions []trading.Decision
	running   atomic.Bool

	mu       sync.Mutex
	closeAll int
	stops    int
}

func (f *fakeTrader) Status() trading.Status {
	return trading.Status{Mode: "paper", Running: f.running.Load(), Iteration: 7, Cash: f.led.Cash(), OpenPositions: f.led.Count()}
}

func (f *fakeTrader) Snapshot() domain.StateSnapshot {
	return domain.StateSnapshot{Mode: "paper", Iteration: 7, Ledger: f.led.State()}
}

func (f *fakeTrader) Decisions(limit int) []trading.Decision {
	if limit > 0 && len(f.decisions) > limit {
		return f.decisions[len(f.decisions)-limit:]
	}
	return f.decisions
}

func (f *fakeTrader) Ledger() trading.LedgerReader { return f.led }

func (f *fakeTrader) RequestCloseAll(context.Context, string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeAll++
	return f.led.Count(), nil
}

func (f *fakeTrader) RequestStop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running.Load() {
		return trading.ErrNotRunning
	}
	f.stops++
	return nil
}

type denyAfter struct {
	mu    sync.Mutex
	n     int
	limit int
}

func (d *denyAfter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
	return d.n <= d.limit, nil
}

func (d *denyAfter) Wait(context.Context, string, int, time.Duration) error { return nil }

type fixture struct {
	srv    *httptest.Server
	trader *fakeTrader
	hub    *ws.Hub
	m      *metrics.Metrics
}

func newFixture(t *testing.T, cfg Config, limiter domain.RateLimiter, checks map[string]handler.HealthCheck) *fixture {
	t.Helper()
	logger := quietLogger()
	led := ledger.New(ledger.Config{InitialCash: decimal.NewFromInt(100_000)}, logger)
	_, err := led.Buy("MSFT", 10, 400, domain.TradeMeta{Strategy: "momentum"})
	require.NoError(t, err)
	_, err = led.Buy("AAPL", 20, 190, domain.TradeMeta{Strategy: "mean_reversion"})
	require.NoError(t, err)

	ft := &fakeTrader{
		led: led,
		decisions: []trading.Decision{
			{Symbol: "AAPL", Action: domain.ActionBuy, Kind: trading.KindEntry},
			{Symbol: "MSFT", Action: domain.ActionBuy, Kind: trading.KindEntry},
		},
	}
	ft.running.Store(true)
	m := metrics.New("test")
	hub := ws.NewHub(ws.Config{Status: func() any { return ft.Status() }}, m, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	t.Cleanup(cancel)

	s := NewServer(cfg, Handlers{
		Health:  handler.NewHealthHandler(checks, logger),
		Status:  handler.NewStatusHandler(ft, time.Now()),
		Ledger:  handler.NewLedgerHandler(ft, nil, logger),
		Trading: handler.NewTradingHandler(ft, logger),
	}, hub, limiter, m, logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, trader: ft, hub: hub, m: m}
}

func (f *fixture) do(t *testing.T, method, path, key string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestReadEndpoints(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	resp, body := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paper", body["mode"])
	assert.Equal(t, 7.0, body["iteration"])
	assert.Contains(t, body, "uptime_seconds")

	resp, body = f.do(t, http.MethodGet, "/api/positions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	positions := body["positions"].([]any)
	require.Len(t, positions, 2)
	assert.Equal(t, "AAPL", positions[0].(map[string]any)["symbol"], "sorted by key")

	resp, body = f.do(t, http.MethodGet, "/api/trades?symbol=MSFT", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["trades"], 1)

	resp, body = f.do(t, http.MethodGet, "/api/trades?limit=1&offset=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	trades := body["trades"].([]any)
	require.Len(t, trades, 1)
	assert.Equal(t, "AAPL", trades[0].(map[string]any)["symbol"])

	resp, _ = f.do(t, http.MethodGet, "/api/trades?symbol=bad!", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/trades?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/decisions?limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decisions := body["decisions"].([]any)
	require.Len(t, decisions, 1)
	assert.Equal(t, "MSFT", decisions[0].(map[string]any)["symbol"])

	resp, body = f.do(t, http.MethodGet, "/api/ledger", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paper", body["mode"])

	resp, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(f.m.APIRequests.WithLabelValues("GET /api/positions", "2xx")) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestControlEndpoints(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	resp, body := f.do(t, http.MethodPost, "/api/trading/close-all", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, body["closed"])

	resp, body = f.do(t, http.MethodPost, "/api/trading/stop", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "stopping", body["status"])

	f.trader.running.Store(false)
	resp, _ = f.do(t, http.MethodPost, "/api/trading/stop", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/trading/stop", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	f.trader.mu.Lock()
	defer f.trader.mu.Unlock()
	assert.Equal(t, 1, f.trader.closeAll)
	assert.Equal(t, 1, f.trader.stops)
}

func TestAuthAndHealthChecks(t *testing.T) {
	f := newFixture(t, Config{APIKey: "s3cret"}, nil, map[string]handler.HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})

	resp, body := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "health is public but reports failures")
	assert.Equal(t, "degraded", body["status"])

	resp, _ = f.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/status", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/status", "s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	r2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	r2.Body.Close()
	assert.Equal(t, http.StatusOK, r2.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimitAndCORS(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 2, CORSOrigins: []string{"https://ops.example"}}, &denyAfter{limit: 2}, nil)

	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodGet, "/api/status", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := f.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	preflight := func(origin string) *http.Response {
		req, _ := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/trading/close-all", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp = preflight("https://ops.example")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://ops.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-API-Key")
	assert.Equal(t, "600", resp.Header.Get("Access-Control-Max-Age"))
	assert.Equal(t, "Origin", resp.Header.Get("Vary"))

	resp = preflight("https://evil.example")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebsocketStreamsEvents(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() ws.Envelope {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var env ws.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		return env
	}

	env := read()
	assert.Equal(t, ws.TopicStatus, env.Type)

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.WriteJSON(map[string]any{"action": "unsubscribe", "topics": []string{ws.TopicDecisions}}))
	// Give the read pump a moment to apply the change.
	time.Sleep(100 * time.Millisecond)

	f.hub.OnDecision(trading.Decision{Symbol: "AAPL"})
	f.hub.OnTrade(domain.Trade{ID: "t-1", Symbol: "AAPL", Side: domain.TradeBuy, Shares: 5, Price: 190})

	env = read()
	require.Equal(t, ws.TopicTrades, env.Type, "the decision was filtered out")
	var tr domain.Trade
	require.NoError(t, json.Unmarshal(env.Payload, &tr))
	assert.Equal(t, "t-1", tr.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.WSClients))
}
