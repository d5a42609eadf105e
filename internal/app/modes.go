package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cryptoquant/internal/crypto"
	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/executor"
	"github.com/alanyoungcy/cryptoquant/internal/feed"
	"github.com/alanyoungcy/cryptoquant/internal/notify"
	"github.com/alanyoungcy/cryptoquant/internal/orderbook"
	"github.com/alanyoungcy/cryptoquant/internal/pipeline"
	"github.com/alanyoungcy/cryptoquant/internal/platform/binance"
	"github.com/alanyoungcy/cryptoquant/internal/server"
	"github.com/alanyoungcy/cryptoquant/internal/server/handler"
	"github.com/alanyoungcy/cryptoquant/internal/server/ws"
	"github.com/alanyoungcy/cryptoquant/internal/service"
	"github.com/alanyoungcy/cryptoquant/internal/strategy"
)

// executorLockKey serializes order placement across processes sharing Redis.
const executorLockKey = "executor"

// trading is the order path: risk limits, the signed executor and the
// order lifecycle service on top of it.
type trading struct {
	risk      *service.RiskService
	exec      *executor.OrderExecutor
	orders    *service.OrderService
	connected bool
}

// FullMode runs every stage in one process: feed, book store, strategy,
// execution when enabled, maintenance jobs and the HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode", slog.Bool("execution", a.cfg.Executes()))

	symbols, err := a.cfg.Feed.ParsedSymbols()
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	status := &statusSource{mode: a.cfg.Mode, started: time.Now().UTC()}

	var signalCh chan domain.Signal
	if a.cfg.Executes() {
		signalCh = make(chan domain.Signal, a.cfg.Strategy.SignalBuffer)
	}
	engine, err := a.newEngine(ctx, deps, signalCh)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	defer engine.Close()
	g.Go(func() error { return engine.Run(ctx) })
	status.engine = engine

	var orders *service.OrderService
	if a.cfg.Executes() {
		t, err := a.newTrading(ctx, deps)
		if err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
		defer t.exec.Disconnect()
		status.exec, status.risk = t.exec, t.risk
		a.runExecutor(ctx, g, deps, t, signalCh)
		if t.connected {
			orders = t.orders
		}
	}

	store := orderbook.NewStore()
	books := service.NewBookService(store, deps.BookCache, deps.SignalBus, engine, a.logger)
	status.store = store

	fetcher := a.newFetcher(deps.Notifier)
	status.fetcher = fetcher
	if err := a.startFetcher(ctx, g, fetcher, symbols, books.Callback(ctx)); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	archiveJob := a.startPipeline(ctx, g, deps, orders)
	a.startHTTPServer(ctx, g, deps, status, httpParts{
		books:    books,
		orders:   orders,
		engine:   engine,
		archiver: archiveJob,
	})
	g.Go(func() error { return status.publish(ctx, deps.SignalBus, a.logger) })

	return g.Wait()
}

// IngestMode runs only the feed. Accepted books are mirrored to Redis and
// published on the book channels for trade-mode processes.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	symbols, err := a.cfg.Feed.ParsedSymbols()
	if err != nil {
		return fmt.Errorf("ingest mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	status := &statusSource{mode: a.cfg.Mode, started: time.Now().UTC()}

	store := orderbook.NewStore()
	books := service.NewBookService(store, deps.BookCache, deps.SignalBus, nil, a.logger)
	status.store = store

	fetcher := a.newFetcher(deps.Notifier)
	status.fetcher = fetcher
	if err := a.startFetcher(ctx, g, fetcher, symbols, books.Callback(ctx)); err != nil {
		return fmt.Errorf("ingest mode: %w", err)
	}

	a.startHTTPServer(ctx, g, deps, status, httpParts{books: books})
	g.Go(func() error { return status.publish(ctx, deps.SignalBus, a.logger) })

	return g.Wait()
}

// TradeMode consumes books published by an ingest process, runs the
// strategy and, when enabled, places orders.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.Bool("execution", a.cfg.Executes()))

	symbols, err := a.cfg.Feed.ParsedSymbols()
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	status := &statusSource{mode: a.cfg.Mode, started: time.Now().UTC()}

	var signalCh chan domain.Signal
	if a.cfg.Executes() {
		signalCh = make(chan domain.Signal, a.cfg.Strategy.SignalBuffer)
	}
	engine, err := a.newEngine(ctx, deps, signalCh)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	defer engine.Close()
	g.Go(func() error { return engine.Run(ctx) })
	status.engine = engine

	var orders *service.OrderService
	if a.cfg.Executes() {
		t, err := a.newTrading(ctx, deps)
		if err != nil {
			return fmt.Errorf("trade mode: %w", err)
		}
		defer t.exec.Disconnect()
		status.exec, status.risk = t.exec, t.risk
		a.runExecutor(ctx, g, deps, t, signalCh)
		if t.connected {
			orders = t.orders
		}
	}

	// The books came off the bus already mirrored; republishing them would
	// loop back into the feeder.
	store := orderbook.NewStore()
	books := service.NewBookService(store, nil, nil, engine, a.logger)
	status.store = store

	feeder := feed.NewBusFeeder(deps.SignalBus, symbols, books.Callback(ctx), a.logger)
	g.Go(func() error { return feeder.Run(ctx) })

	archiveJob := a.startPipeline(ctx, g, deps, orders)
	a.startHTTPServer(ctx, g, deps, status, httpParts{
		books:    books,
		orders:   orders,
		engine:   engine,
		archiver: archiveJob,
	})
	g.Go(func() error { return status.publish(ctx, deps.SignalBus, a.logger) })

	return g.Wait()
}

// MonitorMode is read-only: it keeps the book store current and serves the
// HTTP API. No strategy runs and no orders are placed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	symbols, err := a.cfg.Feed.ParsedSymbols()
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	status := &statusSource{mode: a.cfg.Mode, started: time.Now().UTC()}

	// On a shared bus the ingest process owns the book channels.
	var bookBus domain.SignalBus
	if !deps.SharedBus {
		bookBus = deps.SignalBus
	}
	store := orderbook.NewStore()
	books := service.NewBookService(store, nil, bookBus, nil, a.logger)
	status.store = store

	fetcher := a.newFetcher(deps.Notifier)
	status.fetcher = fetcher
	if err := a.startFetcher(ctx, g, fetcher, symbols, books.Callback(ctx)); err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	a.startHTTPServer(ctx, g, deps, status, httpParts{books: books})
	g.Go(func() error { return status.publish(ctx, deps.SignalBus, a.logger) })

	return g.Wait()
}

// exchangeEndpoints resolves the REST and stream roots, preferring explicit
// URLs over the mainnet/testnet defaults.
func (a *App) exchangeEndpoints() (rest, stream string) {
	rest, stream = binance.MainnetREST, binance.MainnetWS
	if a.cfg.Exchange.Testnet {
		rest, stream = binance.TestnetREST, binance.TestnetWS
	}
	if a.cfg.Exchange.RESTURL != "" {
		rest = a.cfg.Exchange.RESTURL
	}
	if a.cfg.Exchange.WSURL != "" {
		stream = a.cfg.Exchange.WSURL
	}
	return rest, stream
}

// exchangeClient returns the shared REST client, creating it on first use.
func (a *App) exchangeClient() *binance.Client {
	if a.exchange == nil {
		rest, _ := a.exchangeEndpoints()
		a.exchange = binance.NewClient(rest, a.cfg.Exchange.Timeout.Duration)
	}
	return a.exchange
}

// newFetcher builds the failover fetcher over the depth stream and REST
// snapshots. Degraded transitions are forwarded to the notifier.
func (a *App) newFetcher(notifier *notify.Notifier) *feed.Fetcher {
	var stream feed.StreamSource
	if !a.cfg.Feed.DisableStream {
		_, wsURL := a.exchangeEndpoints()
		stream = feed.NewBinanceStream(binance.NewDepthStream(wsURL))
	}
	snapshots := feed.NewBinanceSnapshots(a.exchangeClient())

	f := feed.NewFetcher(stream, snapshots, feed.FetcherConfig{
		FastPollInterval:     a.cfg.Feed.FastPollInterval.Duration,
		BackstopPollInterval: a.cfg.Feed.BackstopPollInterval.Duration,
		LivenessWindow:       a.cfg.Feed.LivenessWindow.Duration,
		StreamRetryDelay:     a.cfg.Feed.StreamRetryDelay.Duration,
		MaxConsecutiveErrors: a.cfg.Feed.MaxConsecutiveErrors,
		ErrorRetryDelay:      a.cfg.Feed.ErrorRetryDelay.Duration,
	}, a.logger)

	f.OnDegraded(func(sym domain.Symbol, degraded bool) {
		event, title := notify.EventFeedRecovered, "Feed recovered"
		msg := fmt.Sprintf("%s: live market data is back", sym)
		if degraded {
			event, title = notify.EventFeedDegraded, "Feed degraded"
			msg = fmt.Sprintf("%s: exchange unreachable, serving synthetic books", sym)
		}
		// The hook runs on the feed worker; delivery must not stall it.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := notifier.Notify(ctx, event, title, msg); err != nil {
				a.logger.Warn("feed notification failed",
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
			}
		}()
	})
	return f
}

// startFetcher starts one worker per symbol and stops them all when ctx
// ends.
func (a *App) startFetcher(ctx context.Context, g *errgroup.Group, f *feed.Fetcher, symbols []domain.Symbol, onBook feed.BookCallback) error {
	f.SetOrderbookCallback(onBook)
	for _, sym := range symbols {
		if err := f.Start(ctx, sym); err != nil {
			f.Stop()
			return fmt.Errorf("start feed %s: %w", sym, err)
		}
	}
	a.logger.InfoContext(ctx, "feed started", slog.Int("symbols", len(symbols)))

	g.Go(func() error {
		<-ctx.Done()
		f.Stop()
		return ctx.Err()
	})
	return nil
}

// newEngine builds the strategy engine with the configured parameters, or
// the last persisted set for the same strategy type when restore is on.
func (a *App) newEngine(ctx context.Context, deps *Dependencies, signalCh chan<- domain.Signal) (*strategy.Engine, error) {
	engine := strategy.NewEngine(strategy.NewRegistry(a.logger), signalCh, deps.SignalBus, a.logger)

	params := a.cfg.Strategy.StrategyParams
	if a.cfg.Strategy.RestoreParams && deps.StratCfgStore != nil {
		saved, err := deps.StratCfgStore.Get(ctx, params.Type)
		switch {
		case err == nil:
			params = saved.Params
			a.logger.InfoContext(ctx, "restored strategy params",
				slog.String("strategy", string(params.Type)),
				slog.Time("updated_at", saved.UpdatedAt),
			)
		case errors.Is(err, domain.ErrNotFound):
		default:
			a.logger.WarnContext(ctx, "loading saved strategy params failed, using config",
				slog.String("error", err.Error()),
			)
		}
	}

	if err := engine.UseParams(ctx, params); err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}
	if a.cfg.Strategy.AutoStart {
		if err := engine.Start(); err != nil {
			return nil, fmt.Errorf("strategy: start: %w", err)
		}
	}
	return engine, nil
}

// newTrading builds the order path and connects it. A failed connection is
// not fatal: the engine keeps running and signals are only logged.
func (a *App) newTrading(ctx context.Context, deps *Dependencies) (*trading, error) {
	var limiter domain.RateLimiter
	if a.cfg.Risk.SharedLimiter {
		limiter = deps.RateLimiter
	}
	risk := service.NewRiskService(a.cfg.Risk.Params(), limiter, a.logger)

	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     a.cfg.Exchange.APISecret,
		EncryptedPath: a.cfg.Exchange.EncryptedSecretPath,
		Password:      a.cfg.Exchange.SecretPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("exchange secret: %w", err)
	}

	exec := executor.NewOrderExecutor(a.exchangeClient(), risk, a.logger)
	t := &trading{
		risk:   risk,
		exec:   exec,
		orders: service.NewOrderService(exec, deps.OrderStore, deps.AuditStore, deps.SignalBus, deps.Notifier, a.logger),
	}

	if err := exec.Connect(ctx, &crypto.HMACAuth{Key: a.cfg.Exchange.APIKey, Secret: secret}); err != nil {
		a.logger.ErrorContext(ctx, "exchange connect failed, execution disabled",
			slog.String("error", err.Error()),
		)
		return t, nil
	}
	t.connected = true

	if a.cfg.Execution.TestOrder {
		sym, err := domain.ParseSymbol(a.cfg.Execution.TestSymbol)
		if err == nil {
			err = exec.TestOrder(ctx, sym)
		}
		if err != nil {
			a.logger.WarnContext(ctx, "startup test order failed", slog.String("error", err.Error()))
		}
	}
	return t, nil
}

// runExecutor starts the signal loop. With Redis, the loop only runs while
// this process holds the executor lock.
func (a *App) runExecutor(ctx context.Context, g *errgroup.Group, deps *Dependencies, t *trading, signalCh <-chan domain.Signal) {
	if !t.connected {
		g.Go(func() error { return a.logSignals(ctx, signalCh) })
		return
	}

	loop := executor.NewExecutor(signalCh, t.orders, executor.LoopConfig{
		DefaultQuantity: a.cfg.Execution.DefaultQuantity,
		MarketOrders:    a.cfg.Execution.MarketOrders,
		DedupTTL:        a.cfg.Execution.DedupTTL.Duration,
		SignalTTL:       a.cfg.Execution.SignalTTL.Duration,
	}, a.logger)

	g.Go(func() error {
		if deps.LockManager != nil {
			release, err := deps.LockManager.Acquire(ctx, executorLockKey, a.cfg.Execution.LockTTL.Duration)
			if err != nil {
				return fmt.Errorf("executor lock: %w", err)
			}
			defer release()
		}
		return loop.Run(ctx)
	})
}

// logSignals drains signals when nothing can execute them.
func (a *App) logSignals(ctx context.Context, signalCh <-chan domain.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-signalCh:
			a.logger.InfoContext(ctx, "signal received (no executor)",
				slog.String("signal_id", sig.ID),
				slog.String("symbol", sig.Symbol.String()),
				slog.String("type", sig.Type.String()),
			)
		}
	}
}

// startPipeline runs the archive schedule and the order reconciler when
// either is available, and returns the archive job for manual triggers.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, orders *service.OrderService) *pipeline.ArchiveJob {
	var archiveJob *pipeline.ArchiveJob
	if deps.Archiver != nil {
		archiveJob = pipeline.NewArchiveJob(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	}
	var reconciler pipeline.Reconciler
	if orders != nil {
		reconciler = orders
	}
	if archiveJob == nil && reconciler == nil {
		return nil
	}

	orch := pipeline.NewOrchestrator(archiveJob, a.cfg.Archive.Cron, reconciler, a.cfg.Execution.ReconcileInterval.Duration, a.logger)
	g.Go(func() error { return orch.Run(ctx) })
	return archiveJob
}

// httpParts are the optional components exposed over HTTP.
type httpParts struct {
	books    *service.BookService
	orders   *service.OrderService
	engine   *strategy.Engine
	archiver *pipeline.ArchiveJob
}

// startHTTPServer builds the handlers for whatever the mode provides and
// runs the server and websocket hub until ctx ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, status *statusSource, parts httpParts) {
	if !a.cfg.Server.Enabled {
		return
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Health, a.logger),
		Status: handler.NewStatusHandler(status),
	}
	if parts.books != nil {
		handlers.Books = handler.NewBookHandler(parts.books, a.logger)
	}
	if parts.orders != nil {
		handlers.Orders = handler.NewOrderHandler(parts.orders, a.logger)
	}
	if parts.engine != nil {
		handlers.Strategy = handler.NewStrategyHandler(parts.engine, deps.StratCfgStore, a.logger)
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	switch {
	case parts.archiver != nil:
		handlers.Archive = handler.NewArchiveHandler(parts.archiver, deps.BlobReader, a.logger)
	case deps.BlobReader != nil:
		handlers.Archive = handler.NewArchiveHandler(nil, deps.BlobReader, a.logger)
	}

	hub := ws.NewHub(deps.SignalBus, status.Status, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		Limiter:            deps.RateLimiter,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, handlers, hub, a.logger)
	g.Go(func() error { return srv.Run(ctx) })
}
