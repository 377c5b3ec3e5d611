// Package metrics exposes Prometheus collectors for the trading loop.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors, registered on a private registry so several
// instances can coexist in tests. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Decision metrics
	Decisions  *prometheus.CounterVec
	Rejections *prometheus.CounterVec
	Exits      *prometheus.CounterVec

	// Execution metrics
	Orders       *prometheus.CounterVec
	OrderLatency prometheus.Histogram
	Trades       *prometheus.CounterVec

	// Ledger metrics
	Equity        prometheus.Gauge
	Cash          prometheus.Gauge
	OpenPositions prometheus.Gauge

	// Loop metrics
	CycleDuration prometheus.Histogram
	FetchErrors   *prometheus.CounterVec
	BreakerState  *prometheus.GaugeVec
	Snapshots     *prometheus.CounterVec

	// Feed and API metrics
	Quotes         *prometheus.CounterVec
	FeedReconnects prometheus.Counter
	WSClients      prometheus.Gauge
	APIRequests    *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tradecore"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trader",
			Name:      "decisions_total",
			Help:      "Decisions taken by action and kind",
		}, []string{"action", "kind"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trader",
			Name:      "rejections_total",
			Help:      "Rejected decisions by structured reason",
		}, []string{"reason"}),
		Exits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trader",
			Name:      "exits_total",
			Help:      "Position exits by trigger",
		}, []string{"reason"}),

		Orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "orders_total",
			Help:      "Orders resolved by side and final status",
		}, []string{"side", "status"}),
		OrderLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "order_latency_seconds",
			Help:      "Time from submit to resolved fill",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "trades_total",
			Help:      "Trades recorded by side",
		}, []string{"side"}),

		Equity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "equity",
			Help:      "Cash plus marked open positions",
		}),
		Cash: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "cash",
			Help:      "Free cash balance",
		}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "open_positions",
			Help:      "Number of open positions",
		}),

		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trader",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one decision cycle",
			Buckets:   prometheus.DefBuckets,
		}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trader",
			Name:      "fetch_errors_total",
			Help:      "Market data fetch failures by class",
		}, []string{"class"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"name"}),
		Snapshots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "snapshots_total",
			Help:      "Snapshot saves by outcome",
		}, []string{"outcome"}),

		Quotes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "quotes_total",
			Help:      "Streamed quotes by outcome",
		}, []string{"outcome"}),
		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Quote stream reconnect attempts",
		}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "ws_clients",
			Help:      "Connected websocket clients",
		}),
		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP API requests by route and status class",
		}, []string{"route", "code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveDecision counts one executed decision.
func (m *Metrics) ObserveDecision(action, kind string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(action, kind).Inc()
}

// ObserveRejection counts one rejected decision.
func (m *Metrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

// ObserveExit counts one exit by trigger (stop_loss, take_profit, signal).
func (m *Metrics) ObserveExit(reason string) {
	if m == nil {
		return
	}
	m.Exits.WithLabelValues(reason).Inc()
}

// ObserveOrder records a resolved order.
func (m *Metrics) ObserveOrder(side, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(side, status).Inc()
	m.OrderLatency.Observe(d.Seconds())
}

// ObserveTrade counts one ledger trade.
func (m *Metrics) ObserveTrade(side string) {
	if m == nil {
		return
	}
	m.Trades.WithLabelValues(side).Inc()
}

// SetLedger publishes the current balance sheet.
func (m *Metrics) SetLedger(equity, cash float64, open int) {
	if m == nil {
		return
	}
	m.Equity.Set(equity)
	m.Cash.Set(cash)
	m.OpenPositions.Set(float64(open))
}

// ObserveCycle records one cycle's duration.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())
}

// FetchError counts a failed fetch by class (transient, circuit_open, error).
func (m *Metrics) FetchError(class string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(class).Inc()
}

// SetBreaker publishes a breaker's state.
func (m *Metrics) SetBreaker(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveSnapshot counts a snapshot save attempt.
func (m *Metrics) ObserveSnapshot(outcome string) {
	if m == nil {
		return
	}
	m.Snapshots.WithLabelValues(outcome).Inc()
}

// ObserveQuote counts a streamed quote (stored, dropped).
func (m *Metrics) ObserveQuote(outcome string) {
	if m == nil {
		return
	}
	m.Quotes.WithLabelValues(outcome).Inc()
}

// FeedReconnect counts one quote stream reconnect.
func (m *Metrics) FeedReconnect() {
	if m == nil {
		return
	}
	m.FeedReconnects.Inc()
}

// AddWSClients moves the websocket client gauge by delta.
func (m *Metrics) AddWSClients(delta int) {
	if m == nil {
		return
	}
	m.WSClients.Add(float64(delta))
}

// ObserveAPIRequest counts one HTTP API request.
func (m *Metrics) ObserveAPIRequest(route string, code int) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(route, strconv.Itoa(code/100)+"xx").Inc()
}
