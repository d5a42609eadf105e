package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/cryptoquant/internal/blob/s3"
	"github.com/alanyoungcy/cryptoquant/internal/bus"
	"github.com/alanyoungcy/cryptoquant/internal/cache/redis"
	"github.com/alanyoungcy/cryptoquant/internal/config"
	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/notify"
	"github.com/alanyoungcy/cryptoquant/internal/server/handler"
	"github.com/alanyoungcy/cryptoquant/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes build on. Everything
// except SignalBus and Notifier is optional and nil when its backend is
// disabled.
type Dependencies struct {
	// Caches and coordination
	BookCache   domain.BookCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	// SharedBus is set when SignalBus crosses process boundaries.
	SharedBus bool

	// Stores
	OrderStore    domain.OrderStore
	AuditStore    domain.AuditStore
	StratCfgStore domain.StrategyConfigStore

	// Cold storage
	Archiver   domain.Archiver
	BlobReader domain.BlobReader

	Notifier *notify.Notifier

	// Health lists a check per connected backend.
	Health map[string]handler.Pinger
}

// Wire constructs every enabled backend from cfg and returns them together
// with a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- Redis: book mirror, cross-process bus, limiter and locks ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.BookCache = redis.NewBookCache(redisClient, cfg.Redis.BookTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.SharedBus = true
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Health["redis"] = redisClient
		logger.InfoContext(ctx, "wire: redis connected", slog.String("addr", cfg.Redis.Addr))
	} else {
		local := bus.NewLocal()
		closers = append(closers, local.Close)
		deps.SignalBus = local
	}

	// --- PostgreSQL: orders, audit log and strategy parameters ---
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.StratCfgStore = postgres.NewStrategyConfigStore(pool)
		deps.Health["postgres"] = pgClient
	}

	// --- S3: archive target and reader ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Health["s3"] = handler.PingFunc(s3Client.Health)
		deps.BlobReader = s3blob.NewReader(s3Client)

		if cfg.Archive.Enabled && deps.OrderStore != nil && deps.AuditStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				deps.OrderStore,
				deps.AuditStore,
				s3blob.ArchiverConfig{BatchSize: cfg.Archive.BatchSize, Delete: cfg.Archive.Delete},
				logger,
			)
		}
	}

	deps.Notifier = newNotifier(cfg.Notify, logger)

	return deps, cleanup, nil
}

// newNotifier builds a Notifier from whichever channels are configured. With
// none configured it still returns a usable Notifier that drops everything.
func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramAPIURL, cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}
