package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/tradecore/internal/blob/s3"
	"github.com/alanyoungcy/tradecore/internal/cache/redis"
	"github.com/alanyoungcy/tradecore/internal/config"
	"github.com/alanyoungcy/tradecore/internal/crypto"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/executor"
	"github.com/alanyoungcy/tradecore/internal/metrics"
	"github.com/alanyoungcy/tradecore/internal/notify"
	"github.com/alanyoungcy/tradecore/internal/platform/broker"
	"github.com/alanyoungcy/tradecore/internal/platform/marketdata"
	"github.com/alanyoungcy/tradecore/internal/server/handler"
	"github.com/alanyoungcy/tradecore/internal/state"
	"github.com/alanyoungcy/tradecore/internal/store/postgres"
	"github.com/alanyoungcy/tradecore/internal/store/sqlite"
)

// Dependencies bundles every concrete dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional backends are nil when disabled.
type Dependencies struct {
	// Stores
	Snapshots  domain.SnapshotStore
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	EventBus    domain.EventBus
	Locks       *redis.LockManager

	// Blob storage
	Archive state.Archive

	// Market data. History is set for the csv provider and drives replay.
	Bars    domain.DataProvider
	History *marketdata.Memory

	// Broker, absent in replay and server modes.
	Broker        domain.Broker
	Syncer        domain.PositionSyncer
	BrokerBreaker *executor.Breaker
	DataBreaker   *executor.Breaker

	// Observability
	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
	Health   map[string]handler.HealthCheck
}

// needsBroker returns true for modes that place orders.
func needsBroker(mode string) bool {
	return mode == "live" || mode == "paper"
}

// needsMarketData returns true for modes that run the trading loop.
func needsMarketData(mode string) bool {
	return mode != "server"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics: metrics.New(cfg.Metrics.Namespace),
		Health:  make(map[string]handler.HealthCheck),
	}
	deps.Notifier = newNotifier(cfg, logger)

	// --- Stores ---
	storeClose, err := wireStores(ctx, cfg, deps, logger)
	closers = append(closers, storeClose)
	if err != nil {
		return fail(err)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Instance + ":",
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.MarketData.QuoteTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient, logger)
		deps.Health["redis"] = redisClient.Health
	}

	// --- Breakers ---
	breakerCfg := executor.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown.Duration,
	}
	deps.BrokerBreaker = executor.NewBreaker("broker", breakerCfg, logger,
		executor.WithStateChange(breakerHook(deps, cfg.Breaker.Cooldown.Duration, true)))
	// The trading loop alerts itself when market data pauses it.
	deps.DataBreaker = executor.NewBreaker("market_data", breakerCfg, logger,
		executor.WithStateChange(breakerHook(deps, cfg.Breaker.Cooldown.Duration, false)))

	// --- Market data ---
	if needsMarketData(cfg.Mode) {
		if err := wireMarketData(cfg, deps, logger); err != nil {
			return fail(err)
		}
	}

	// --- Broker ---
	if needsBroker(cfg.Mode) {
		if err := wireBroker(cfg, deps, logger); err != nil {
			return fail(err)
		}
	}

	return deps, cleanup, nil
}

// wireStores connects the snapshot, trade and audit stores and the S3
// archive. Postgres serves trades and audit whenever it is enabled; the
// snapshot store follows state.backend.
func wireStores(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return cleanup, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return cleanup, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		if cfg.State.Backend == "postgres" {
			deps.Snapshots = postgres.NewSnapshotStore(pool)
		}
		deps.Health["postgres"] = pgClient.Health
	}

	switch cfg.State.Backend {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.State.SQLitePath)
		if err != nil {
			return cleanup, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Snapshots = db.Snapshots()
		if deps.TradeStore == nil {
			deps.TradeStore = db.Trades()
			deps.AuditStore = db.Audit()
		}
		deps.Health["sqlite"] = db.Health
	case "memory":
		deps.Snapshots = state.NewMemoryStore()
	}

	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return cleanup, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Health["s3"] = s3Client.Health

		if cfg.State.Archive {
			deps.Archive = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.AuditStore, logger)
		}
	}
	return cleanup, nil
}

func wireMarketData(cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	switch cfg.MarketData.Kind {
	case "csv":
		dir := cfg.MarketData.CSVDir
		if cfg.Mode == "replay" && cfg.Trading.ReplayDataDir != "" {
			dir = cfg.Trading.ReplayDataDir
		}
		symbols := append([]string(nil), cfg.Trading.Symbols...)
		if cfg.Trading.Benchmark != "" {
			symbols = append(symbols, cfg.Trading.Benchmark)
		}
		mem, err := marketdata.LoadCSVDir(dir, symbols)
		if err != nil {
			return fmt.Errorf("wire: market data: %w", err)
		}
		logger.Info("market data loaded",
			slog.String("dir", dir),
			slog.Int("symbols", len(mem.Symbols())),
			slog.Int("bar_times", len(mem.Times())),
		)
		deps.History = mem
		deps.Bars = mem
	case "rest":
		deps.Bars = marketdata.NewREST(cfg.MarketData.BaseURL, cfg.MarketData.Timeout.Duration, logger)
	default:
		return fmt.Errorf("wire: unknown market data kind %q", cfg.MarketData.Kind)
	}
	return nil
}

func wireBroker(cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	switch cfg.Broker.Kind {
	case "paper":
		margin, err := cfg.PaperMargin()
		if err != nil {
			return fmt.Errorf("wire: paper margin: %w", err)
		}
		paper := broker.NewPaper(broker.PaperConfig{
			Margin:          margin,
			FillLatency:     cfg.Broker.PaperFillLatency.Duration,
			PartialFraction: cfg.Broker.PaperPartial,
			RejectRate:      cfg.Broker.PaperRejectRate,
			SlippageBps:     cfg.Broker.PaperSlippageBps,
			Seed:            cfg.Broker.PaperSeed,
		}, logger)
		deps.Broker = paper
		if cfg.Broker.SyncPositions {
			deps.Syncer = paper
		}
	case "rest":
		secret, err := crypto.Load(crypto.SecretSource{
			Raw:        cfg.Broker.APISecret,
			SealedPath: cfg.Broker.SealedSecretPath,
			Password:   cfg.Broker.SecretPassword,
		})
		if err != nil {
			return fmt.Errorf("wire: broker secret: %w", err)
		}
		rest, err := broker.NewREST(broker.RESTConfig{
			BaseURL:    cfg.Broker.BaseURL,
			APIKey:     cfg.Broker.APIKey,
			APISecret:  secret,
			Timeout:    cfg.Broker.Timeout.Duration,
			RateLimit:  cfg.Broker.RateLimit,
			RateWindow: cfg.Broker.RateWindow.Duration,
		}, deps.RateLimiter, logger)
		if err != nil {
			return fmt.Errorf("wire: broker: %w", err)
		}
		deps.Broker = rest
		if cfg.Broker.SyncPositions {
			deps.Syncer = rest
		}
	default:
		return fmt.Errorf("wire: unknown broker kind %q", cfg.Broker.Kind)
	}
	return nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Notify.Events, logger)
}

// breakerHook exports breaker transitions as metrics and, with alert set,
// notifies when the breaker opens. It runs under the breaker's lock and must
// not call back into it.
func breakerHook(deps *Dependencies, cooldown time.Duration, alert bool) func(name string, from, to executor.BreakerState) {
	return func(name string, _, to executor.BreakerState) {
		deps.Metrics.SetBreaker(name, int(to))
		if alert && to == executor.StateOpen && deps.Notifier.Enabled(notify.EventCircuitOpen) {
			title, msg := notify.BreakerAlert(name, time.Now().Add(cooldown))
			deps.Notifier.Enqueue(notify.EventCircuitOpen, title, msg)
		}
	}
}
