// Package executor submits orders to the exchange and drives the signal to
// order loop.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// OrderPlacer turns a sized signal into an order. It is typically
// implemented by the service layer on top of OrderExecutor.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, sig domain.Signal) (domain.ExecutionResult, error)
}

// LoopConfig tunes the signal loop.
type LoopConfig struct {
	DefaultQuantity float64       // used when a signal carries no size
	MarketOrders    bool          // submit MARKET instead of LIMIT at the signal price
	DedupTTL        time.Duration // suppress repeats per symbol+direction
	SignalTTL       time.Duration // drop signals older than this; 0 keeps all
}

// Executor reads signals from a channel, drops duplicates and stale ones,
// sizes them and places orders through the OrderPlacer.
type Executor struct {
	signalCh <-chan domain.Signal
	placer   OrderPlacer
	cfg      LoopConfig
	dedup    *Dedup
	logger   *slog.Logger
	now      func() time.Time

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor reading from signalCh.
func NewExecutor(signalCh <-chan domain.Signal, placer OrderPlacer, cfg LoopConfig, logger *slog.Logger) *Executor {
	return &Executor{
		signalCh:        signalCh,
		placer:          placer,
		cfg:             cfg,
		dedup:           NewDedup(cfg.DedupTTL),
		logger:          logger.With(slog.String("component", "executor")),
		now:             time.Now,
		cleanupInterval: 30 * time.Second,
	}
}

// Run processes signals until ctx is cancelled, then drains what is already
// buffered and returns.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case sig, ok := <-e.signalCh:
			if !ok {
				return nil
			}
			e.process(ctx, sig)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

func (e *Executor) process(ctx context.Context, sig domain.Signal) {
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("source", sig.Source),
		slog.String("symbol", sig.Symbol.String()),
		slog.String("signal", sig.Type.String()),
	)

	if !sig.Actionable() {
		return
	}
	if e.cfg.SignalTTL > 0 && !sig.Timestamp.IsZero() && e.now().Sub(sig.Timestamp) > e.cfg.SignalTTL {
		log.Warn("signal expired, skipping", slog.Time("emitted_at", sig.Timestamp))
		return
	}
	if e.dedup.IsDuplicate(sig) {
		log.Debug("signal deduplicated, skipping")
		return
	}

	if sig.Quantity <= 0 {
		sig.Quantity = e.cfg.DefaultQuantity
	}
	if e.cfg.MarketOrders {
		sig.Price = 0
	}

	result, err := e.placer.PlaceOrder(ctx, sig)
	if err != nil {
		e.dedup.Forget(sig)
		log.Error("order placement failed", slog.String("error", err.Error()))
		return
	}
	if result.Status == domain.ExecutionFailed {
		// Nothing rests on the book, so the next equivalent signal may retry.
		e.dedup.Forget(sig)
		log.Warn("order rejected", slog.String("error", result.Error))
		return
	}
	log.Info("order placed",
		slog.Uint64("order_id", result.OrderID),
		slog.String("status", string(result.OrderStatus)),
	)
}

// drain handles signals already buffered after cancellation, each with a
// short-lived context.
func (e *Executor) drain() {
	for {
		select {
		case sig, ok := <-e.signalCh:
			if !ok {
				return
			}
			e.logger.Warn("draining signal after shutdown", slog.String("signal_id", sig.ID))
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(drainCtx, sig)
			cancel()
		default:
			return
		}
	}
}
