package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// decision is what a concrete strategy concludes from a price window.
type decision struct {
	signal     domain.SignalType
	confidence float64
	reason     string
}

// evaluator inspects the window for one symbol. It is called with the
// strategy mutex held and must not retain history.
type evaluator func(history []float64, p domain.StrategyParams) decision

// base holds the machinery shared by the window-driven strategies: run
// status, swap-on-write parameters and per-symbol price windows.
type base struct {
	name     string
	typ      domain.StrategyType
	eval     evaluator
	validate func(domain.StrategyParams) error
	logger   *slog.Logger
	now      func() time.Time

	params atomic.Pointer[domain.StrategyParams]

	mu      sync.Mutex
	status  domain.StrategyStatus
	windows *priceWindows
}

func newBase(typ domain.StrategyType, params domain.StrategyParams, eval evaluator, validate func(domain.StrategyParams) error, logger *slog.Logger) *base {
	b := &base{
		name:     string(typ),
		typ:      typ,
		eval:     eval,
		validate: validate,
		logger:   logger.With(slog.String("strategy", string(typ))),
		now:      time.Now,
		status:   domain.StrategyStopped,
		windows:  newPriceWindows(WindowCapacity),
	}
	params.Type = typ
	b.params.Store(&params)
	return b
}

func (b *base) Name() string              { return b.name }
func (b *base) Type() domain.StrategyType { return b.typ }

// Init resets rolling state and leaves the strategy stopped.
func (b *base) Init(_ context.Context) error {
	if err := b.validate(*b.params.Load()); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windows.reset()
	b.status = domain.StrategyStopped
	b.logger.Info("strategy initialized")
	return nil
}

// Close drops all history.
func (b *base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windows.reset()
	b.status = domain.StrategyStopped
	b.logger.Info("strategy cleaned up")
	return nil
}

func (b *base) Status() domain.StrategyStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *base) SetStatus(status domain.StrategyStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
}

// Params returns the current parameter set.
func (b *base) Params() domain.StrategyParams {
	return *b.params.Load()
}

// SetParams validates p and swaps it in. Evaluations already in flight keep
// the set they loaded.
func (b *base) SetParams(p domain.StrategyParams) error {
	p.Type = b.typ
	if err := b.validate(p); err != nil {
		return err
	}
	b.params.Store(&p)
	b.logger.Info("strategy parameters updated")
	return nil
}

// OnBookUpdate records the mid price and evaluates the window.
func (b *base) OnBookUpdate(_ context.Context, book domain.OrderBook) (domain.Signal, error) {
	none := domain.Signal{Type: domain.SignalNone, Symbol: book.Symbol}

	mid := book.MidPrice()
	if mid <= 0 {
		return none, fmt.Errorf("strategy %s: %w: %s has an empty side", b.name, domain.ErrValidation, book.Symbol)
	}

	p := b.params.Load()

	b.mu.Lock()
	if b.status != domain.StrategyRunning {
		b.mu.Unlock()
		return none, nil
	}
	history := b.windows.push(book.Symbol, mid)
	d := b.eval(history, *p)
	b.mu.Unlock()

	if d.signal == domain.SignalNone {
		return none, nil
	}

	b.logger.Info("strategy signal",
		slog.String("symbol", book.Symbol.String()),
		slog.String("signal", d.signal.String()),
		slog.Float64("mid", mid),
		slog.Float64("confidence", d.confidence),
	)
	return domain.Signal{
		ID:         uuid.NewString(),
		Type:       d.signal,
		Symbol:     book.Symbol,
		Price:      mid,
		Quantity:   positionSize(*p, mid),
		Confidence: d.confidence,
		Reason:     d.reason,
		Source:     b.name,
		Timestamp:  b.now().UTC(),
	}, nil
}

// positionSize risks RiskPerTrade of MaxPositionSize (quote notional) at price.
func positionSize(p domain.StrategyParams, price float64) float64 {
	if price <= 0 || p.RiskPerTrade <= 0 || p.MaxPositionSize <= 0 {
		return 0
	}
	return p.RiskPerTrade * p.MaxPositionSize / price
}

func invalidParams(format string, args ...any) error {
	return fmt.Errorf("strategy: %w: "+format, append([]any{domain.ErrValidation}, args...)...)
}
