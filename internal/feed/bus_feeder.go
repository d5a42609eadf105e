package feed

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cryptoquant/internal/codec"
	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// BusFeeder consumes snapshots that an ingest process published on the
// signal bus (book:<SYMBOL>, codec encoded) and hands them to a callback.
// It lets trade mode run without its own exchange connection.
type BusFeeder struct {
	bus     domain.SignalBus
	symbols []domain.Symbol
	onBook  BookCallback
	logger  *slog.Logger
}

// NewBusFeeder creates a BusFeeder for symbols.
func NewBusFeeder(bus domain.SignalBus, symbols []domain.Symbol, onBook BookCallback, logger *slog.Logger) *BusFeeder {
	return &BusFeeder{
		bus:     bus,
		symbols: symbols,
		onBook:  onBook,
		logger:  logger.With(slog.String("component", "bus_feeder")),
	}
}

// Run subscribes to every symbol channel and blocks until ctx ends or a
// subscription closes.
func (f *BusFeeder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sym := range f.symbols {
		ch, err := f.bus.Subscribe(ctx, domain.BookChannel(sym))
		if err != nil {
			return err
		}
		g.Go(func() error { return f.consume(ctx, sym, ch) })
	}
	f.logger.Info("bus feeder started", slog.Int("symbols", len(f.symbols)))
	defer f.logger.Info("bus feeder stopped")
	return g.Wait()
}

func (f *BusFeeder) consume(ctx context.Context, sym domain.Symbol, ch <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			book, err := codec.DecodeOrderBook(data)
			if err != nil {
				f.logger.Debug("bus feeder decode failed",
					slog.String("symbol", sym.String()),
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
				continue
			}
			if book.Symbol != sym {
				continue
			}
			f.onBook(book)
		}
	}
}
