package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// envPrefix is prepended to every override variable.
const envPrefix = "CRYPTOQUANT_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CRYPTOQUANT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known CRYPTOQUANT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.RESTURL, "EXCHANGE_REST_URL")
	setStr(&cfg.Exchange.WSURL, "EXCHANGE_WS_URL")
	setBool(&cfg.Exchange.Testnet, "EXCHANGE_TESTNET")
	setStr(&cfg.Exchange.APIKey, "EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "EXCHANGE_SECRET_PASSWORD")
	setDuration(&cfg.Exchange.Timeout, "EXCHANGE_TIMEOUT")

	// ── Feed ──
	setStringSlice(&cfg.Feed.Symbols, "FEED_SYMBOLS")
	setBool(&cfg.Feed.DisableStream, "FEED_DISABLE_STREAM")
	setDuration(&cfg.Feed.FastPollInterval, "FEED_FAST_POLL_INTERVAL")
	setDuration(&cfg.Feed.BackstopPollInterval, "FEED_BACKSTOP_POLL_INTERVAL")
	setDuration(&cfg.Feed.LivenessWindow, "FEED_LIVENESS_WINDOW")
	setDuration(&cfg.Feed.StreamRetryDelay, "FEED_STREAM_RETRY_DELAY")
	setInt(&cfg.Feed.MaxConsecutiveErrors, "FEED_MAX_CONSECUTIVE_ERRORS")
	setDuration(&cfg.Feed.ErrorRetryDelay, "FEED_ERROR_RETRY_DELAY")

	// ── Strategy ──
	if v := os.Getenv(envPrefix + "STRATEGY_TYPE"); v != "" {
		cfg.Strategy.Type = domain.StrategyType(strings.ToLower(v))
	}
	setBool(&cfg.Strategy.AutoStart, "STRATEGY_AUTO_START")
	setBool(&cfg.Strategy.RestoreParams, "STRATEGY_RESTORE_PARAMS")
	setInt(&cfg.Strategy.SignalBuffer, "STRATEGY_SIGNAL_BUFFER")
	setFloat64(&cfg.Strategy.RiskPerTrade, "STRATEGY_RISK_PER_TRADE")
	setFloat64(&cfg.Strategy.MaxPositionSize, "STRATEGY_MAX_POSITION_SIZE")
	setInt(&cfg.Strategy.LookbackPeriod, "STRATEGY_LOOKBACK_PERIOD")
	setFloat64(&cfg.Strategy.ZScoreThreshold, "STRATEGY_Z_SCORE_THRESHOLD")
	setInt(&cfg.Strategy.ShortPeriod, "STRATEGY_SHORT_PERIOD")
	setInt(&cfg.Strategy.LongPeriod, "STRATEGY_LONG_PERIOD")
	setFloat64(&cfg.Strategy.MomentumThreshold, "STRATEGY_MOMENTUM_THRESHOLD")
	setInt(&cfg.Strategy.RSIPeriod, "STRATEGY_RSI_PERIOD")
	setFloat64(&cfg.Strategy.RSIOversold, "STRATEGY_RSI_OVERSOLD")
	setFloat64(&cfg.Strategy.RSIOverbought, "STRATEGY_RSI_OVERBOUGHT")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionSize, "RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxDailyLoss, "RISK_MAX_DAILY_LOSS")
	setFloat64(&cfg.Risk.MaxOrderSize, "RISK_MAX_ORDER_SIZE")
	setInt(&cfg.Risk.MaxOrdersPerMinute, "RISK_MAX_ORDERS_PER_MINUTE")
	setInt(&cfg.Risk.MaxOrdersPerSecond, "RISK_MAX_ORDERS_PER_SECOND")
	setBool(&cfg.Risk.SharedLimiter, "RISK_SHARED_LIMITER")

	// ── Execution ──
	setBool(&cfg.Execution.Enabled, "EXECUTION_ENABLED")
	setBool(&cfg.Execution.TestOrder, "EXECUTION_TEST_ORDER")
	setStr(&cfg.Execution.TestSymbol, "EXECUTION_TEST_SYMBOL")
	setFloat64(&cfg.Execution.DefaultQuantity, "EXECUTION_DEFAULT_QUANTITY")
	setBool(&cfg.Execution.MarketOrders, "EXECUTION_MARKET_ORDERS")
	setDuration(&cfg.Execution.DedupTTL, "EXECUTION_DEDUP_TTL")
	setDuration(&cfg.Execution.SignalTTL, "EXECUTION_SIGNAL_TTL")
	setDuration(&cfg.Execution.ReconcileInterval, "EXECUTION_RECONCILE_INTERVAL")
	setDuration(&cfg.Execution.LockTTL, "EXECUTION_LOCK_TTL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.BookTTL, "REDIS_BOOK_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")
	setBool(&cfg.Archive.Delete, "ARCHIVE_DELETE")
	setInt(&cfg.Archive.BatchSize, "ARCHIVE_BATCH_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramAPIURL, "NOTIFY_TELEGRAM_API_URL")
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty. Keys are given without envPrefix.
// ---------------------------------------------------------------------------

func lookup(key string) string {
	return os.Getenv(envPrefix + key)
}

func setStr(dst *string, key string) {
	if v := lookup(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := lookup(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := lookup(key); v != "" {
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
