package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/cryptoquant/internal/codec"
	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/metrics"
	"github.com/alanyoungcy/cryptoquant/internal/orderbook"
)

// MarketDataProcessor consumes accepted snapshots, normally the strategy
// engine.
type MarketDataProcessor interface {
	ProcessMarketData(ctx context.Context, book domain.OrderBook) (domain.Signal, bool)
}

// BookService is the single entry point for snapshots coming off a feed.
// It validates them into the in-process store and fans accepted ones out
// to the Redis mirror, the book bus channel and the strategy engine. Every
// fan-out target is optional.
type BookService struct {
	store     *orderbook.Store
	cache     domain.BookCache
	bus       domain.SignalBus
	processor MarketDataProcessor
	logger    *slog.Logger
}

// NewBookService creates a BookService around store.
func NewBookService(store *orderbook.Store, cache domain.BookCache, bus domain.SignalBus, processor MarketDataProcessor, logger *slog.Logger) *BookService {
	return &BookService{
		store:     store,
		cache:     cache,
		bus:       bus,
		processor: processor,
		logger:    logger.With(slog.String("component", "book_service")),
	}
}

// HandleBook stores book and fans it out. Rejected snapshots are counted
// and returned; mirror and publish failures are only logged.
func (s *BookService) HandleBook(ctx context.Context, book domain.OrderBook) error {
	if err := s.store.Update(book); err != nil {
		metrics.BookRejected.WithLabelValues(book.Symbol.String(), rejectReason(err)).Inc()
		s.logger.DebugContext(ctx, "snapshot rejected",
			slog.String("symbol", book.Symbol.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	if s.cache != nil {
		if err := s.cache.SetBook(ctx, book); err != nil {
			s.logger.WarnContext(ctx, "book mirror failed",
				slog.String("symbol", book.Symbol.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus != nil {
		if err := s.publish(ctx, book); err != nil {
			s.logger.WarnContext(ctx, "book publish failed",
				slog.String("symbol", book.Symbol.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	// Placeholder prices would read as a market move to the strategy.
	if s.processor != nil && !book.Synthetic {
		s.processor.ProcessMarketData(ctx, book)
	}
	return nil
}

// Callback adapts HandleBook to the feed callback signature.
func (s *BookService) Callback(ctx context.Context) func(domain.OrderBook) {
	return func(book domain.OrderBook) {
		_ = s.HandleBook(ctx, book)
	}
}

// Book returns the stored snapshot for sym, falling back to the Redis
// mirror when this process holds nothing for it.
func (s *BookService) Book(ctx context.Context, sym domain.Symbol) (domain.OrderBook, error) {
	if book := s.store.Get(sym); !book.IsZero() {
		return book, nil
	}
	if s.cache == nil {
		return domain.OrderBook{}, fmt.Errorf("book_service: %s: %w", sym, domain.ErrNotFound)
	}
	book, err := s.cache.GetBook(ctx, sym)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("book_service: %s: %w", sym, err)
	}
	return book, nil
}

// Store exposes the in-process store.
func (s *BookService) Store() *orderbook.Store {
	return s.store
}

// publish sends the binary snapshot on the symbol's book channel. Symbols
// without a wire id have no binary form and stay process-local.
func (s *BookService) publish(ctx context.Context, book domain.OrderBook) error {
	if _, ok := book.Symbol.ID(); !ok {
		return nil
	}
	payload, err := codec.EncodeOrderBook(nil, book)
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, domain.BookChannel(book.Symbol), payload)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrCrossedBook):
		return "crossed"
	case errors.Is(err, domain.ErrStaleSnapshot):
		return "stale"
	default:
		return "invalid"
	}
}
