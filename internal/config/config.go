// Package config defines the top-level configuration for cryptoquant and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CRYPTOQUANT_* environment variables.
type Config struct {
	Exchange  ExchangeConfig  `toml:"exchange"`
	Feed      FeedConfig      `toml:"feed"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ExchangeConfig holds the spot exchange endpoints and API credentials.
// Empty URLs resolve to mainnet or testnet roots depending on Testnet.
type ExchangeConfig struct {
	RESTURL             string   `toml:"rest_url"`
	WSURL               string   `toml:"ws_url"`
	Testnet             bool     `toml:"testnet"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Timeout             duration `toml:"timeout"`
}

// HasCredentials reports whether a key and some secret source are set.
func (e ExchangeConfig) HasCredentials() bool {
	return e.APIKey != "" && (e.APISecret != "" || e.EncryptedSecretPath != "")
}

// FeedConfig holds the market-data subscription and failover timings.
type FeedConfig struct {
	Symbols              []string `toml:"symbols"`
	DisableStream        bool     `toml:"disable_stream"`
	FastPollInterval     duration `toml:"fast_poll_interval"`
	BackstopPollInterval duration `toml:"backstop_poll_interval"`
	LivenessWindow       duration `toml:"liveness_window"`
	StreamRetryDelay     duration `toml:"stream_retry_delay"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors"`
	ErrorRetryDelay      duration `toml:"error_retry_delay"`
}

// ParsedSymbols converts Symbols to domain symbols.
func (f FeedConfig) ParsedSymbols() ([]domain.Symbol, error) {
	out := make([]domain.Symbol, 0, len(f.Symbols))
	for _, s := range f.Symbols {
		sym, err := domain.ParseSymbol(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

// StrategyConfig selects the active strategy and its parameters. The
// parameter fields sit directly under [strategy].
type StrategyConfig struct {
	AutoStart    bool `toml:"auto_start"`
	SignalBuffer int  `toml:"signal_buffer"`
	// RestoreParams loads the last persisted parameter set for Type on
	// startup when Postgres is enabled.
	RestoreParams bool `toml:"restore_params"`

	domain.StrategyParams
}

// RiskConfig holds the pre-trade limits.
type RiskConfig struct {
	MaxPositionSize    float64 `toml:"max_position_size"`
	MaxDailyLoss       float64 `toml:"max_daily_loss"`
	MaxOrderSize       float64 `toml:"max_order_size"`
	MaxOrdersPerMinute int     `toml:"max_orders_per_minute"`
	// MaxOrdersPerSecond is an alias multiplied by 60 when the per-minute
	// limit is unset.
	MaxOrdersPerSecond int `toml:"max_orders_per_second"`
	// SharedLimiter enforces the minute window across processes through
	// Redis in addition to the local window.
	SharedLimiter bool `toml:"shared_limiter"`
}

// Params resolves the alias and derived defaults into domain.RiskParams.
func (r RiskConfig) Params() domain.RiskParams {
	p := domain.RiskParams{
		MaxPositionSize:    r.MaxPositionSize,
		MaxDailyLoss:       r.MaxDailyLoss,
		MaxOrderSize:       r.MaxOrderSize,
		MaxOrdersPerMinute: r.MaxOrdersPerMinute,
	}
	if p.MaxOrdersPerMinute <= 0 && r.MaxOrdersPerSecond > 0 {
		p.MaxOrdersPerMinute = r.MaxOrdersPerSecond * 60
	}
	if p.MaxPositionSize <= 0 {
		p.MaxPositionSize = 10 * p.MaxOrderSize
	}
	return p
}

// ExecutionConfig controls the signal-to-order loop.
type ExecutionConfig struct {
	Enabled           bool     `toml:"enabled"`
	TestOrder         bool     `toml:"test_order"`
	TestSymbol        string   `toml:"test_symbol"`
	DefaultQuantity   float64  `toml:"default_quantity"`
	MarketOrders      bool     `toml:"market_orders"`
	DedupTTL          duration `toml:"dedup_ttl"`
	SignalTTL         duration `toml:"signal_ttl"`
	ReconcileInterval duration `toml:"reconcile_interval"`
	LockTTL           duration `toml:"lock_ttl"`
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
	BookTTL    duration `toml:"book_ttl"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// Prefix namespaces every object key, e.g. "prod" or "testnet".
	Prefix string `toml:"prefix"`
}

// ArchiveConfig controls moving old orders and audit rows to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	Delete        bool   `toml:"delete"`
	BatchSize     int    `toml:"batch_size"`
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

// ServerConfig holds HTTP server parameters. An empty APIKey leaves the
// mutating routes open.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Timeout: duration{10 * time.Second},
		},
		Feed: FeedConfig{
			Symbols:              []string{"BTC_USDT", "ETH_USDT", "BTC_ETH"},
			FastPollInterval:     duration{time.Second},
			BackstopPollInterval: duration{5 * time.Second},
			LivenessWindow:       duration{3 * time.Second},
			StreamRetryDelay:     duration{5 * time.Second},
			MaxConsecutiveErrors: 3,
			ErrorRetryDelay:      duration{time.Second},
		},
		Strategy: StrategyConfig{
			AutoStart:      true,
			SignalBuffer:   64,
			RestoreParams:  true,
			StrategyParams: domain.DefaultStrategyParams(),
		},
		Risk: RiskConfig{
			MaxDailyLoss:       1000,
			MaxOrderSize:       1000,
			MaxOrdersPerMinute: 60,
		},
		Execution: ExecutionConfig{
			Enabled:           false,
			TestSymbol:        "BTC_USDT",
			DefaultQuantity:   0.001,
			DedupTTL:          duration{30 * time.Second},
			SignalTTL:         duration{10 * time.Second},
			ReconcileInterval: duration{30 * time.Second},
			LockTTL:           duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			BookTTL:    duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "cryptoquant",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cryptoquant-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Cron:          "0 3 * * *",
			Delete:        true,
			BatchSize:     5000,
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 600,
		},
		Notify: NotifyConfig{
			Events: []string{"feed_degraded", "feed_recovered", "order_filled", "order_rejected", "risk_limit"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"ingest":  true,
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStrategies = map[domain.StrategyType]bool{
	domain.StrategyMeanReversion: true,
	domain.StrategyMomentum:      true,
	domain.StrategyRSI:           true,
}

// Executes reports whether the configured mode places orders.
func (c *Config) Executes() bool {
	mode := strings.ToLower(c.Mode)
	return c.Execution.Enabled && (mode == "full" || mode == "trade")
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, ingest, trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange credentials are only needed when orders go out.
	if c.Executes() {
		if !c.Exchange.HasCredentials() {
			errs = append(errs, "exchange: api_key and api_secret (or encrypted_secret_path) are required when execution is enabled")
		}
		if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
			errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Exchange.Timeout.Duration < 0 {
		errs = append(errs, "exchange: timeout must not be negative")
	}

	// Feed
	if len(c.Feed.Symbols) == 0 {
		errs = append(errs, "feed: at least one symbol is required")
	}
	if _, err := c.Feed.ParsedSymbols(); err != nil {
		errs = append(errs, "feed: "+err.Error())
	}
	if c.Feed.MaxConsecutiveErrors < 1 {
		errs = append(errs, "feed: max_consecutive_errors must be >= 1")
	}
	if c.Feed.FastPollInterval.Duration <= 0 || c.Feed.BackstopPollInterval.Duration <= 0 {
		errs = append(errs, "feed: poll intervals must be > 0")
	}

	// Strategy
	if !validStrategies[c.Strategy.Type] {
		errs = append(errs, fmt.Sprintf("strategy: unknown type %q (valid: mean_reversion, momentum, rsi)", c.Strategy.Type))
	}
	if c.Strategy.SignalBuffer < 1 {
		errs = append(errs, "strategy: signal_buffer must be >= 1")
	}

	// Risk
	if err := c.Risk.Params().Validate(); err != nil {
		errs = append(errs, "risk: "+err.Error())
	}

	// Execution
	if c.Execution.DefaultQuantity <= 0 {
		errs = append(errs, "execution: default_quantity must be > 0")
	}
	if c.Execution.TestOrder {
		if _, err := domain.ParseSymbol(c.Execution.TestSymbol); err != nil {
			errs = append(errs, "execution: test_symbol: "+err.Error())
		}
	}

	// The bus connects split ingest and trade processes.
	if (mode == "ingest" || mode == "trade") && !c.Redis.Enabled {
		errs = append(errs, "redis: must be enabled for mode "+c.Mode)
	}
	if c.Risk.SharedLimiter && !c.Redis.Enabled {
		errs = append(errs, "risk: shared_limiter requires redis.enabled")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Postgres.Enabled || !c.S3.Enabled {
			errs = append(errs, "archive: requires postgres.enabled and s3.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
