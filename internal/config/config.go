// Package config defines the top-level configuration for tradecore and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // trading.timezone must resolve on hosts without zoneinfo

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADECORE_* environment variables.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
	// Instance names this deployment. It keys the snapshot, the Redis
	// namespace and the single-instance lock.
	Instance string `toml:"instance"`

	Trading    TradingConfig    `toml:"trading"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Risk       RiskConfig       `toml:"risk"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Gateway    GatewayConfig    `toml:"gateway"`
	Breaker    BreakerConfig    `toml:"breaker"`
	State      StateConfig      `toml:"state"`
	Broker     BrokerConfig     `toml:"broker"`
	MarketData MarketDataConfig `toml:"market_data"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// TradingConfig holds the decision loop and ledger parameters.
type TradingConfig struct {
	Symbols   []string `toml:"symbols"`
	Benchmark string   `toml:"benchmark"`
	// Sectors maps symbol -> sector tag for the per-sector limit.
	Sectors map[string]string `toml:"sectors"`
	// CorrelationGroups maps group name -> member symbols.
	CorrelationGroups map[string][]string `toml:"correlation_groups"`
	MaxPerGroup       int                 `toml:"max_per_group"`

	Interval      string   `toml:"interval"`
	Lookback      int      `toml:"lookback"`
	CycleInterval duration `toml:"cycle_interval"`
	QuoteMaxAge   duration `toml:"quote_max_age"`

	EntryConfidenceThreshold float64 `toml:"entry_confidence_threshold"`
	MaxPositions             int     `toml:"max_positions"`
	MaxEntriesPerCycle       int     `toml:"max_entries_per_cycle"`
	AllowShorts              bool    `toml:"allow_shorts"`
	AllowAveraging           bool    `toml:"allow_averaging"`

	ExitCooldown     duration `toml:"exit_cooldown"`
	StopLossCooldown duration `toml:"stop_loss_cooldown"`

	InitialCash        string  `toml:"initial_cash"` // decimal string
	FeeRate            float64 `toml:"fee_rate"`
	LedgerMaxPositions int     `toml:"ledger_max_positions"`
	MaxPerSector       int     `toml:"max_per_sector"`

	ATRPeriod            int      `toml:"atr_period"`
	MaxConcurrentFetches int      `toml:"max_concurrent_fetches"`
	RetryAttempts        int      `toml:"retry_attempts"`
	RetryInitial         duration `toml:"retry_initial"`
	RetryMax             duration `toml:"retry_max"`
	Timezone             string   `toml:"timezone"`
	HistorySize          int      `toml:"history_size"`

	OrderType    string   `toml:"order_type"`
	OrderTimeout duration `toml:"order_timeout"`

	// ReplayDataDir holds one <SYMBOL>.csv per symbol for replay mode. Empty
	// falls back to market_data.csv_dir.
	ReplayDataDir string `toml:"replay_data_dir"`
}

// StrategyConfig selects the signal generators and their parameters.
type StrategyConfig struct {
	// Active lists strategy names to poll; empty polls every registered one.
	Active        []string       `toml:"active"`
	MeanReversion map[string]any `toml:"mean_reversion"`
	Momentum      map[string]any `toml:"momentum"`
	Regime        RegimeConfig   `toml:"regime"`
}

// RegimeConfig tunes the benchmark regime detector.
type RegimeConfig struct {
	Period    int     `toml:"period"`
	SlopeBars int     `toml:"slope_bars"`
	Threshold float64 `toml:"threshold"`
}

// RiskConfig holds position sizing and protective level parameters.
type RiskConfig struct {
	MinFraction           float64 `toml:"min_fraction"`
	MaxFraction           float64 `toml:"max_fraction"`
	StopMultiplier        float64 `toml:"stop_multiplier"`
	TargetMultiplier      float64 `toml:"target_multiplier"`
	MaxLossFraction       float64 `toml:"max_loss_fraction"`
	MinStopFraction       float64 `toml:"min_stop_fraction"`
	DefaultStopFraction   float64 `toml:"default_stop_fraction"`
	DefaultTargetFraction float64 `toml:"default_target_fraction"`
	TrailActivation       float64 `toml:"trail_activation"`
	TrailMultiplier       float64 `toml:"trail_multiplier"`
}

// AggregatorConfig holds the entry vote thresholds.
type AggregatorConfig struct {
	MinAgreement  float64 `toml:"min_agreement"`
	MinConfidence float64 `toml:"min_confidence"`
}

// GatewayConfig holds order polling parameters.
type GatewayConfig struct {
	PollInitial   duration `toml:"poll_initial"`
	PollMax       duration `toml:"poll_max"`
	PollFactor    float64  `toml:"poll_factor"`
	FillTimeout   duration `toml:"fill_timeout"`
	CancelTimeout duration `toml:"cancel_timeout"`
	DedupTTL      duration `toml:"dedup_ttl"`
}

// BreakerConfig holds circuit breaker parameters shared by the broker and
// market data breakers.
type BreakerConfig struct {
	FailureThreshold int      `toml:"failure_threshold"`
	Cooldown         duration `toml:"cooldown"`
}

// StateConfig selects the snapshot backend and checkpoint throttle.
type StateConfig struct {
	// Backend is "postgres", "sqlite" or "memory".
	Backend         string   `toml:"backend"`
	SQLitePath      string   `toml:"sqlite_path"`
	SaveEveryCycles int      `toml:"save_every_cycles"`
	SaveInterval    duration `toml:"save_interval"`
	// Archive enables the end-of-day S3 archive.
	Archive bool `toml:"archive"`
}

// BrokerConfig selects and configures the order broker.
type BrokerConfig struct {
	// Kind is "paper" or "rest".
	Kind             string   `toml:"kind"`
	BaseURL          string   `toml:"base_url"`
	APIKey           string   `toml:"api_key"`
	APISecret        string   `toml:"api_secret"`
	SealedSecretPath string   `toml:"sealed_secret_path"`
	SecretPassword   string   `toml:"secret_password"`
	Timeout          duration `toml:"timeout"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
	PaperFillLatency duration `toml:"paper_fill_latency"`
	PaperPartial     float64  `toml:"paper_partial_fraction"`
	PaperRejectRate  float64  `toml:"paper_reject_rate"`
	PaperSlippageBps float64  `toml:"paper_slippage_bps"`
	PaperMargin      string   `toml:"paper_margin"`
	PaperSeed        uint64   `toml:"paper_seed"`
	SyncPositions    bool     `toml:"sync_positions"`
}

// MarketDataConfig selects the bar provider and the live quote stream.
type MarketDataConfig struct {
	// Kind is "csv" or "rest".
	Kind           string   `toml:"kind"`
	BaseURL        string   `toml:"base_url"`
	CSVDir         string   `toml:"csv_dir"`
	Timeout        duration `toml:"timeout"`
	QuotesURL      string   `toml:"quotes_url"`
	QuoteTTL       duration `toml:"quote_ttl"`
	ReconnectDelay duration `toml:"reconnect_delay"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	CORSMaxAge  duration `toml:"cors_max_age"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig holds Prometheus parameters. Metrics are served on the API
// server at /metrics.
type MetricsConfig struct {
	Namespace string `toml:"namespace"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "paper",
		LogLevel: "info",
		Instance: "tradecore",
		Trading: TradingConfig{
			Symbols:                  []string{},
			Sectors:                  map[string]string{},
			CorrelationGroups:        map[string][]string{},
			MaxPerGroup:              1,
			Interval:                 "1d",
			Lookback:                 120,
			CycleInterval:            duration{time.Minute},
			QuoteMaxAge:              duration{2 * time.Minute},
			EntryConfidenceThreshold: 0.35,
			MaxPositions:             5,
			MaxEntriesPerCycle:       2,
			ExitCooldown:             duration{24 * time.Hour},
			StopLossCooldown:         duration{72 * time.Hour},
			InitialCash:              "100000",
			FeeRate:                  0.0005,
			LedgerMaxPositions:       10,
			MaxPerSector:             2,
			ATRPeriod:                14,
			MaxConcurrentFetches:     4,
			RetryAttempts:            3,
			RetryInitial:             duration{200 * time.Millisecond},
			RetryMax:                 duration{2 * time.Second},
			Timezone:                 "America/New_York",
			HistorySize:              500,
			OrderType:                "market",
			OrderTimeout:             duration{30 * time.Second},
		},
		Strategy: StrategyConfig{
			Active:        []string{"mean_reversion", "momentum"},
			MeanReversion: map[string]any{},
			Momentum:      map[string]any{},
			Regime: RegimeConfig{
				Period:    50,
				SlopeBars: 5,
				Threshold: 0.002,
			},
		},
		Risk: RiskConfig{
			MinFraction:           0.10,
			MaxFraction:           0.25,
			StopMultiplier:        2.0,
			TargetMultiplier:      3.0,
			MaxLossFraction:       0.08,
			MinStopFraction:       0.005,
			DefaultStopFraction:   0.05,
			DefaultTargetFraction: 0.10,
			TrailActivation:       1.5,
			TrailMultiplier:       2.0,
		},
		Aggregator: AggregatorConfig{
			MinAgreement:  0.4,
			MinConfidence: 0.20,
		},
		Gateway: GatewayConfig{
			PollInitial:   duration{250 * time.Millisecond},
			PollMax:       duration{5 * time.Second},
			PollFactor:    2.0,
			FillTimeout:   duration{30 * time.Second},
			CancelTimeout: duration{5 * time.Second},
			DedupTTL:      duration{10 * time.Minute},
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         duration{30 * time.Second},
		},
		State: StateConfig{
			Backend:         "sqlite",
			SQLitePath:      "tradecore.db",
			SaveEveryCycles: 10,
			SaveInterval:    duration{5 * time.Minute},
		},
		Broker: BrokerConfig{
			Kind:             "paper",
			Timeout:          duration{10 * time.Second},
			RateLimit:        10,
			RateWindow:       duration{time.Second},
			PaperFillLatency: duration{500 * time.Millisecond},
			PaperMargin:      "100000",
			PaperSeed:        1,
		},
		MarketData: MarketDataConfig{
			Kind:           "csv",
			CSVDir:         "data",
			Timeout:        duration{10 * time.Second},
			QuoteTTL:       duration{10 * time.Minute},
			ReconnectDelay: duration{2 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradecore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			LockTTL:    duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradecore-data",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			CORSMaxAge:  duration{10 * time.Minute},
			RateLimit:   20,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "position_closed", "circuit_open", "day_end", "error"},
		},
		Metrics: MetricsConfig{
			Namespace: "tradecore",
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":   true,
	"paper":  true,
	"replay": true,
	"server": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Location resolves Trading.Timezone. An empty zone is UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Trading.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Trading.Timezone)
}

// InitialCash parses Trading.InitialCash.
func (c *Config) InitialCash() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Trading.InitialCash)
}

// PaperMargin parses Broker.PaperMargin, falling back to the initial cash.
func (c *Config) PaperMargin() (decimal.Decimal, error) {
	if strings.TrimSpace(c.Broker.PaperMargin) == "" {
		return c.InitialCash()
	}
	return decimal.NewFromString(c.Broker.PaperMargin)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper, replay, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if strings.TrimSpace(c.Instance) == "" {
		errs = append(errs, "instance must not be empty")
	}

	// Trading
	t := c.Trading
	if mode != "server" && len(t.Symbols) == 0 {
		errs = append(errs, "trading: symbols must not be empty")
	}
	if t.Lookback < 2 {
		errs = append(errs, "trading: lookback must be >= 2")
	}
	if t.Interval == "" {
		errs = append(errs, "trading: interval must not be empty")
	}
	if (mode == "live" || mode == "paper") && t.CycleInterval.Duration <= 0 {
		errs = append(errs, "trading: cycle_interval must be > 0")
	}
	if t.EntryConfidenceThreshold < 0 || t.EntryConfidenceThreshold > 1 {
		errs = append(errs, "trading: entry_confidence_threshold must be within [0,1]")
	}
	if t.MaxPositions < 1 {
		errs = append(errs, "trading: max_positions must be >= 1")
	}
	if t.MaxEntriesPerCycle < 0 {
		errs = append(errs, "trading: max_entries_per_cycle must be >= 0")
	}
	if cash, err := c.InitialCash(); err != nil {
		errs = append(errs, fmt.Sprintf("trading: initial_cash %q is not a decimal", t.InitialCash))
	} else if !cash.IsPositive() {
		errs = append(errs, "trading: initial_cash must be > 0")
	}
	if t.FeeRate < 0 || t.FeeRate >= 0.1 {
		errs = append(errs, "trading: fee_rate must be within [0,0.1)")
	}
	if t.ExitCooldown.Duration < 0 || t.StopLossCooldown.Duration < 0 {
		errs = append(errs, "trading: cooldowns must not be negative")
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("trading: unknown timezone %q", t.Timezone))
	}
	if t.OrderType != "market" && t.OrderType != "limit" {
		errs = append(errs, fmt.Sprintf("trading: order_type must be market or limit, got %q", t.OrderType))
	}
	if mode == "replay" && c.MarketData.Kind != "csv" {
		errs = append(errs, "trading: replay mode requires market_data.kind = csv")
	}

	// Risk
	r := c.Risk
	if r.MinFraction <= 0 || r.MaxFraction > 1 || r.MinFraction > r.MaxFraction {
		errs = append(errs, "risk: need 0 < min_fraction <= max_fraction <= 1")
	}
	if r.MaxLossFraction <= 0 || r.MaxLossFraction >= 1 {
		errs = append(errs, "risk: max_loss_fraction must be within (0,1)")
	}

	// Aggregator
	if c.Aggregator.MinAgreement < 0 || c.Aggregator.MinAgreement > 1 {
		errs = append(errs, "aggregator: min_agreement must be within [0,1]")
	}

	// Gateway and breaker
	if c.Gateway.PollFactor != 0 && c.Gateway.PollFactor < 1 {
		errs = append(errs, "gateway: poll_factor must be >= 1")
	}
	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, "breaker: failure_threshold must be >= 1")
	}

	// State
	switch c.State.Backend {
	case "memory":
	case "sqlite":
		if c.State.SQLitePath == "" {
			errs = append(errs, "state: sqlite_path must not be empty for the sqlite backend")
		}
	case "postgres":
		if !c.Postgres.Enabled {
			errs = append(errs, "state: the postgres backend requires postgres.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("state: unknown backend %q (valid: postgres, sqlite, memory)", c.State.Backend))
	}
	if c.State.Archive && !c.S3.Enabled {
		errs = append(errs, "state: archive requires s3.enabled")
	}

	// Broker
	switch c.Broker.Kind {
	case "paper":
		if mode == "live" {
			errs = append(errs, "broker: live mode requires broker.kind = rest")
		}
		if _, err := c.PaperMargin(); err != nil {
			errs = append(errs, fmt.Sprintf("broker: paper_margin %q is not a decimal", c.Broker.PaperMargin))
		}
		if c.Broker.PaperPartial < 0 || c.Broker.PaperPartial >= 1 {
			errs = append(errs, "broker: paper_partial_fraction must be within [0,1)")
		}
		if c.Broker.PaperRejectRate < 0 || c.Broker.PaperRejectRate > 1 {
			errs = append(errs, "broker: paper_reject_rate must be within [0,1]")
		}
	case "rest":
		if c.Broker.BaseURL == "" {
			errs = append(errs, "broker: base_url is required for the rest broker")
		}
		if c.Broker.APIKey == "" {
			errs = append(errs, "broker: api_key is required for the rest broker")
		}
		if c.Broker.APISecret == "" && c.Broker.SealedSecretPath == "" {
			errs = append(errs, "broker: either api_secret or sealed_secret_path must be set")
		}
		if c.Broker.SealedSecretPath != "" && c.Broker.APISecret == "" && c.Broker.SecretPassword == "" {
			errs = append(errs, "broker: secret_password is required when sealed_secret_path is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("broker: unknown kind %q (valid: paper, rest)", c.Broker.Kind))
	}

	// Market data
	switch c.MarketData.Kind {
	case "csv":
		if c.MarketData.CSVDir == "" && t.ReplayDataDir == "" {
			errs = append(errs, "market_data: csv_dir must not be empty")
		}
	case "rest":
		if c.MarketData.BaseURL == "" {
			errs = append(errs, "market_data: base_url is required for the rest provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("market_data: unknown kind %q (valid: csv, rest)", c.MarketData.Kind))
	}
	if c.MarketData.QuotesURL != "" && !c.Redis.Enabled {
		errs = append(errs, "market_data: quotes_url requires redis.enabled for the price cache")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be >= 1s")
		}
	}
	if mode == "server" && !c.Redis.Enabled {
		errs = append(errs, "redis: server mode reads ledger events from redis and requires redis.enabled")
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Server
	if c.Server.Enabled || mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
