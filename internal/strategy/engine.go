package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/metrics"
)

// Engine owns the single active strategy. It feeds it every snapshot while
// running and forwards actionable signals to the signal channel consumed by
// the executor layer and, when configured, to the signal bus.
type Engine struct {
	registry *Registry
	signalCh chan<- domain.Signal
	bus      domain.SignalBus
	logger   *slog.Logger

	// mu guards the strategy pointer and the run status. ProcessMarketData
	// holds it for the whole evaluation so a strategy swap never overlaps
	// with one.
	mu       sync.Mutex
	strategy Strategy
	status   domain.StrategyStatus

	recentMu      sync.Mutex
	recentSignals []domain.Signal
	recentLimit   int
}

// NewEngine creates a stopped Engine. signalCh and bus may be nil.
func NewEngine(registry *Registry, signalCh chan<- domain.Signal, bus domain.SignalBus, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    registry,
		signalCh:    signalCh,
		bus:         bus,
		logger:      logger.With(slog.String("component", "strategy_engine")),
		status:      domain.StrategyStopped,
		recentLimit: 500,
	}
}

// SetStrategy cleans up the current strategy and initializes s in its
// place. The engine status carries over to the new strategy.
func (e *Engine) SetStrategy(ctx context.Context, s Strategy) error {
	if s == nil {
		return fmt.Errorf("set strategy: %w", domain.ErrNoStrategy)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.strategy != nil {
		if err := e.strategy.Close(); err != nil {
			e.logger.Warn("strategy cleanup failed",
				slog.String("strategy", e.strategy.Name()),
				slog.String("error", err.Error()),
			)
		}
		e.strategy = nil
	}
	if err := s.Init(ctx); err != nil {
		e.status = domain.StrategyStopped
		return fmt.Errorf("init strategy %s: %w", s.Name(), err)
	}
	e.strategy = s
	s.SetStatus(e.status)
	e.logger.Info("active strategy changed", slog.String("strategy", s.Name()))
	return nil
}

// UseParams builds a strategy of params.Type from the registry and makes it
// active.
func (e *Engine) UseParams(ctx context.Context, params domain.StrategyParams) error {
	s, err := e.registry.Build(params)
	if err != nil {
		return err
	}
	return e.SetStrategy(ctx, s)
}

// SetParams updates the active strategy in place, or swaps in a new one when
// params.Type names a different strategy.
func (e *Engine) SetParams(ctx context.Context, params domain.StrategyParams) error {
	e.mu.Lock()
	current := e.strategy
	e.mu.Unlock()

	if current == nil || (params.Type != "" && params.Type != current.Type()) {
		if params.Type == "" {
			return fmt.Errorf("set params: %w", domain.ErrNoStrategy)
		}
		return e.UseParams(ctx, params)
	}
	return current.SetParams(params)
}

// Params returns the active strategy's parameters.
func (e *Engine) Params() (domain.StrategyParams, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.strategy == nil {
		return domain.StrategyParams{}, domain.ErrNoStrategy
	}
	return e.strategy.Params(), nil
}

// ActiveName returns the active strategy name, empty if none.
func (e *Engine) ActiveName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.strategy == nil {
		return ""
	}
	return e.strategy.Name()
}

// ListTypes returns every strategy type the registry can build.
func (e *Engine) ListTypes() []domain.StrategyType {
	return e.registry.List()
}

// Start moves the engine to Running. It fails when no strategy is set.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.strategy == nil {
		e.logger.Error("no strategy set in strategy engine")
		return fmt.Errorf("start engine: %w", domain.ErrNoStrategy)
	}
	e.setStatusLocked(domain.StrategyRunning)
	return nil
}

// Stop moves the engine to Stopped.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStatusLocked(domain.StrategyStopped)
}

// Pause suspends processing without discarding strategy state.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == domain.StrategyRunning {
		e.setStatusLocked(domain.StrategyPaused)
	}
}

// Resume returns a paused engine to Running.
func (e *Engine) Resume() error {
	e.mu.Lock()
	paused := e.status == domain.StrategyPaused
	e.mu.Unlock()
	if !paused {
		return nil
	}
	return e.Start()
}

// Status returns the engine run status.
func (e *Engine) Status() domain.StrategyStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) setStatusLocked(s domain.StrategyStatus) {
	if e.status == s {
		return
	}
	e.status = s
	if e.strategy != nil {
		e.strategy.SetStatus(s)
	}
	e.logger.Info("strategy engine status changed", slog.String("status", string(s)))
}

// ProcessMarketData feeds book to the active strategy. It does nothing
// unless the engine is running, and synthetic placeholders never reach the
// strategy window. The returned bool reports whether an actionable signal
// was produced.
func (e *Engine) ProcessMarketData(ctx context.Context, book domain.OrderBook) (domain.Signal, bool) {
	if book.Synthetic {
		return domain.Signal{}, false
	}
	e.mu.Lock()
	if e.status != domain.StrategyRunning || e.strategy == nil {
		e.mu.Unlock()
		return domain.Signal{}, false
	}
	sig, err := e.strategy.OnBookUpdate(ctx, book)
	e.mu.Unlock()

	if err != nil {
		if !errors.Is(err, domain.ErrValidation) {
			e.logger.Warn("strategy processing failed", slog.String("error", err.Error()))
		}
		return domain.Signal{}, false
	}
	if !sig.Actionable() {
		return domain.Signal{}, false
	}
	e.emit(ctx, sig)
	return sig, true
}

// Run blocks until ctx is cancelled, then stops the engine.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("strategy engine started")
	defer e.logger.Info("strategy engine stopped")
	<-ctx.Done()
	e.Stop()
	return ctx.Err()
}

// Close stops the engine and cleans up the active strategy.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStatusLocked(domain.StrategyStopped)
	if e.strategy == nil {
		return nil
	}
	err := e.strategy.Close()
	e.strategy = nil
	return err
}

// emit hands sig to the executor channel without blocking the market data
// path, then publishes it on the bus.
func (e *Engine) emit(ctx context.Context, sig domain.Signal) {
	e.rememberSignal(sig)
	metrics.Signals.WithLabelValues(sig.Source, sig.Type.String()).Inc()

	if e.signalCh != nil {
		select {
		case e.signalCh <- sig:
		case <-ctx.Done():
			return
		default:
			e.logger.Warn("signal channel full, dropping signal",
				slog.String("signal_id", sig.ID),
				slog.String("symbol", sig.Symbol.String()),
			)
		}
	}

	if e.bus != nil {
		payload, err := json.Marshal(sig)
		if err == nil {
			err = e.bus.Publish(ctx, domain.ChannelSignal, payload)
		}
		if err != nil {
			e.logger.Debug("signal publish failed", slog.String("error", err.Error()))
		}
	}
}

// RecentSignals returns up to limit most recent emitted signals, newest
// first.
func (e *Engine) RecentSignals(limit int) []domain.Signal {
	if limit <= 0 {
		limit = 20
	}
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	n := len(e.recentSignals)
	if limit > n {
		limit = n
	}
	out := make([]domain.Signal, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recentSignals[i])
	}
	return out
}

func (e *Engine) rememberSignal(sig domain.Signal) {
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	e.recentSignals = append(e.recentSignals, sig)
	if overflow := len(e.recentSignals) - e.recentLimit; overflow > 0 {
		e.recentSignals = append([]domain.Signal(nil), e.recentSignals[overflow:]...)
	}
}
