package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADECORE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADECORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "TRADECORE_MODE")
	setStr(&cfg.LogLevel, "TRADECORE_LOG_LEVEL")
	setStr(&cfg.Instance, "TRADECORE_INSTANCE")

	// ── Trading ──
	setStringSlice(&cfg.Trading.Symbols, "TRADECORE_TRADING_SYMBOLS")
	setStr(&cfg.Trading.Benchmark, "TRADECORE_TRADING_BENCHMARK")
	setStr(&cfg.Trading.Interval, "TRADECORE_TRADING_INTERVAL")
	setInt(&cfg.Trading.Lookback, "TRADECORE_TRADING_LOOKBACK")
	setDuration(&cfg.Trading.CycleInterval, "TRADECORE_TRADING_CYCLE_INTERVAL")
	setFloat64(&cfg.Trading.EntryConfidenceThreshold, "TRADECORE_TRADING_ENTRY_CONFIDENCE_THRESHOLD")
	setInt(&cfg.Trading.MaxPositions, "TRADECORE_TRADING_MAX_POSITIONS")
	setInt(&cfg.Trading.MaxEntriesPerCycle, "TRADECORE_TRADING_MAX_ENTRIES_PER_CYCLE")
	setBool(&cfg.Trading.AllowShorts, "TRADECORE_TRADING_ALLOW_SHORTS")
	setBool(&cfg.Trading.AllowAveraging, "TRADECORE_TRADING_ALLOW_AVERAGING")
	setDuration(&cfg.Trading.ExitCooldown, "TRADECORE_TRADING_EXIT_COOLDOWN")
	setDuration(&cfg.Trading.StopLossCooldown, "TRADECORE_TRADING_STOP_LOSS_COOLDOWN")
	setStr(&cfg.Trading.InitialCash, "TRADECORE_TRADING_INITIAL_CASH")
	setFloat64(&cfg.Trading.FeeRate, "TRADECORE_TRADING_FEE_RATE")
	setStr(&cfg.Trading.Timezone, "TRADECORE_TRADING_TIMEZONE")
	setStr(&cfg.Trading.OrderType, "TRADECORE_TRADING_ORDER_TYPE")
	setStr(&cfg.Trading.ReplayDataDir, "TRADECORE_TRADING_REPLAY_DATA_DIR")

	// ── Strategy ──
	setStringSlice(&cfg.Strategy.Active, "TRADECORE_STRATEGY_ACTIVE")

	// ── Breaker ──
	setInt(&cfg.Breaker.FailureThreshold, "TRADECORE_BREAKER_FAILURE_THRESHOLD")
	setDuration(&cfg.Breaker.Cooldown, "TRADECORE_BREAKER_COOLDOWN")

	// ── State ──
	setStr(&cfg.State.Backend, "TRADECORE_STATE_BACKEND")
	setStr(&cfg.State.SQLitePath, "TRADECORE_STATE_SQLITE_PATH")
	setInt(&cfg.State.SaveEveryCycles, "TRADECORE_STATE_SAVE_EVERY_CYCLES")
	setDuration(&cfg.State.SaveInterval, "TRADECORE_STATE_SAVE_INTERVAL")
	setBool(&cfg.State.Archive, "TRADECORE_STATE_ARCHIVE")

	// ── Broker ──
	setStr(&cfg.Broker.Kind, "TRADECORE_BROKER_KIND")
	setStr(&cfg.Broker.BaseURL, "TRADECORE_BROKER_BASE_URL")
	setStr(&cfg.Broker.APIKey, "TRADECORE_BROKER_API_KEY")
	setStr(&cfg.Broker.APISecret, "TRADECORE_BROKER_API_SECRET")
	setStr(&cfg.Broker.SealedSecretPath, "TRADECORE_BROKER_SEALED_SECRET_PATH")
	setStr(&cfg.Broker.SecretPassword, "TRADECORE_BROKER_SECRET_PASSWORD")
	setInt(&cfg.Broker.RateLimit, "TRADECORE_BROKER_RATE_LIMIT")
	setBool(&cfg.Broker.SyncPositions, "TRADECORE_BROKER_SYNC_POSITIONS")

	// ── Market data ──
	setStr(&cfg.MarketData.Kind, "TRADECORE_MARKET_DATA_KIND")
	setStr(&cfg.MarketData.BaseURL, "TRADECORE_MARKET_DATA_BASE_URL")
	setStr(&cfg.MarketData.CSVDir, "TRADECORE_MARKET_DATA_CSV_DIR")
	setStr(&cfg.MarketData.QuotesURL, "TRADECORE_MARKET_DATA_QUOTES_URL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TRADECORE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TRADECORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRADECORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADECORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADECORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADECORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADECORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADECORE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADECORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADECORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADECORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADECORE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADECORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADECORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADECORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADECORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADECORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADECORE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "TRADECORE_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADECORE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADECORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADECORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADECORE_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "TRADECORE_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "TRADECORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADECORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADECORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADECORE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADECORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADECORE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADECORE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADECORE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TRADECORE_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADECORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADECORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADECORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADECORE_NOTIFY_EVENTS")

	// ── Metrics ──
	setStr(&cfg.Metrics.Namespace, "TRADECORE_METRICS_NAMESPACE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
