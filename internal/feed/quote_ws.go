// Package feed streams live quotes into the price cache.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/metrics"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// subscribeCommand is sent after every (re)connect.
type subscribeCommand struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// quoteMessage is one inbound frame. Only "trade" frames carry prices.
type quoteMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TS     int64   `json:"ts"` // unix millis
}

// QuoteHandler is called for each accepted quote, after it is cached.
type QuoteHandler func(ctx context.Context, symbol string, price float64, ts time.Time)

// QuoteStreamConfig configures a QuoteStream.
type QuoteStreamConfig struct {
	URL               string
	Symbols           []string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// QuoteStream keeps a websocket subscription to last-trade prices open and
// writes every trade into a PriceCache. It reconnects with exponential
// backoff until its context ends.
type QuoteStream struct {
	cfg     QuoteStreamConfig
	cache   domain.PriceCache
	onQuote QuoteHandler
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	connected bool
}

// NewQuoteStream creates a QuoteStream. onQuote and m may be nil.
func NewQuoteStream(cfg QuoteStreamConfig, cache domain.PriceCache, onQuote QuoteHandler, m *metrics.Metrics, logger *slog.Logger) *QuoteStream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = reconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = maxReconnectDelay
	}
	return &QuoteStream{
		cfg:     cfg,
		cache:   cache,
		onQuote: onQuote,
		metrics: m,
		logger:  logger.With(slog.String("component", "quote_stream")),
	}
}

// Connected reports whether a subscription is currently live.
func (q *QuoteStream) Connected() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.connected
}

func (q *QuoteStream) setConnected(v bool) {
	q.mu.Lock()
	q.connected = v
	q.mu.Unlock()
}

// Run blocks until ctx is cancelled.
func (q *QuoteStream) Run(ctx context.Context) error {
	if len(q.cfg.Symbols) == 0 {
		q.logger.InfoContext(ctx, "no symbols to subscribe, exiting")
		return nil
	}
	delay := q.cfg.ReconnectDelay
	for {
		start := time.Now()
		err := q.runConnection(ctx)
		q.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A connection that stayed up resets the backoff.
		if time.Since(start) > q.cfg.MaxReconnectDelay {
			delay = q.cfg.ReconnectDelay
		}
		q.logger.WarnContext(ctx, "quote stream disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		q.metrics.FeedReconnect()

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, q.cfg.MaxReconnectDelay)
	}
}

func (q *QuoteStream) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, q.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var writeMu sync.Mutex
	write := func(mt int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(mt, data)
	}

	sub, _ := json.Marshal(subscribeCommand{Type: "subscribe", Symbols: q.cfg.Symbols})
	if err := write(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	q.setConnected(true)
	q.logger.InfoContext(ctx, "quote stream subscribed", slog.Int("symbols", len(q.cfg.Symbols)))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				// Unblock ReadMessage.
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		q.handle(ctx, data)
	}
}

func (q *QuoteStream) handle(ctx context.Context, data []byte) {
	var msg quoteMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		q.metrics.ObserveQuote("dropped")
		q.logger.DebugContext(ctx, "unparseable quote frame", slog.String("error", err.Error()))
		return
	}
	if msg.Type != "trade" {
		return
	}
	if domain.ValidateSymbol(msg.Symbol) != nil || domain.ValidatePrice(msg.Price) != nil {
		q.metrics.ObserveQuote("dropped")
		return
	}
	ts := time.UnixMilli(msg.TS).UTC()
	if msg.TS == 0 {
		ts = time.Now().UTC()
	}
	if err := q.cache.SetPrice(ctx, msg.Symbol, msg.Price, ts); err != nil {
		q.metrics.ObserveQuote("dropped")
		q.logger.WarnContext(ctx, "cache quote failed",
			slog.String("symbol", msg.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	q.metrics.ObserveQuote("stored")
	if q.onQuote != nil {
		q.onQuote(ctx, msg.Symbol, msg.Price, ts)
	}
}

func errString(err error) string {
	if err == nil {
		return "connection closed"
	}
	return err.Error()
}
