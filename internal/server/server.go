// Package server exposes the HTTP API, the dashboard websocket and the
// prometheus endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/metrics"
	"github.com/alanyoungcy/cryptoquant/internal/server/handler"
	"github.com/alanyoungcy/cryptoquant/internal/server/middleware"
	"github.com/alanyoungcy/cryptoquant/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Limiter backs the per-IP limit; nil disables it.
	Limiter            domain.RateLimiter
	RateLimitPerMinute int
}

// Handlers aggregates the HTTP handlers. Nil handlers leave their routes
// unregistered, e.g. orders in monitor mode.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Books    *handler.BookHandler
	Orders   *handler.OrderHandler
	Strategy *handler.StrategyHandler
	Archive  *handler.ArchiveHandler
	Audit    *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain
// (rate limit, auth, logging, CORS from innermost out).
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))
	mux := NewMux(handlers, hub)

	var h http.Handler = mux
	h = middleware.RateLimit(cfg.Limiter, cfg.RateLimitPerMinute, time.Minute)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger, "/metrics", "/api/health")(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewMux registers the routes without middleware.
func NewMux(handlers Handlers, hub *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}
	if handlers.Books != nil {
		mux.HandleFunc("GET /api/books/{symbol}", handlers.Books.GetBook)
	}
	if handlers.Orders != nil {
		mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
		mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)
		mux.HandleFunc("DELETE /api/orders/{id}", handlers.Orders.CancelOrder)
	}
	if handlers.Strategy != nil {
		mux.HandleFunc("GET /api/strategy/params", handlers.Strategy.GetParams)
		mux.HandleFunc("PUT /api/strategy/params", handlers.Strategy.UpdateParams)
		mux.HandleFunc("GET /api/strategy/signals", handlers.Strategy.RecentSignals)
		mux.HandleFunc("POST /api/strategy/{action}", handlers.Strategy.Control)
	}
	if handlers.Archive != nil {
		mux.HandleFunc("POST /api/archive/run", handlers.Archive.Trigger)
		mux.HandleFunc("GET /api/archive", handlers.Archive.List)
		mux.HandleFunc("GET /api/archive/files/{path...}", handlers.Archive.Download)
	}
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.List)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully within
// five seconds.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
