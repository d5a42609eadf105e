package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/cryptoquant/internal/crypto"
	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/metrics"
)

// Exchange is the signed trading surface the executor drives.
type Exchange interface {
	SetCredentials(auth *crypto.HMACAuth)
	HasCredentials() bool
	Account(ctx context.Context) (domain.Account, error)
	Depth(ctx context.Context, sym domain.Symbol) (domain.OrderBook, error)
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.ExchangeOrder, error)
	CancelOrder(ctx context.Context, sym domain.Symbol, id uint64) (domain.ExchangeOrder, error)
	QueryOrder(ctx context.Context, sym domain.Symbol, id uint64) (domain.ExchangeOrder, error)
}

// RiskChecker enforces pre-trade limits and consumes fills.
type RiskChecker interface {
	CheckOrderSize(qty float64) error
	PreTradeCheck(ctx context.Context, req domain.OrderRequest) error
	RecordFill(sym domain.Symbol, side domain.OrderSide, qty, price float64)
	Params() domain.RiskParams
	SetParams(p domain.RiskParams) error
}

// ConnState is the executor's connection state.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// MarshalText renders the state name in JSON status payloads.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	probeDiscount = 0.95
	probeQuantity = 0.0001
)

// OrderExecutor risk-checks and submits signed orders and keeps the order
// table keyed by exchange order id.
type OrderExecutor struct {
	exchange Exchange
	risk     RiskChecker
	logger   *slog.Logger
	now      func() time.Time

	stateMu sync.RWMutex
	state   ConnState
	lastErr string

	mu     sync.RWMutex
	orders map[uint64]*domain.Order
}

// NewOrderExecutor creates an idle executor.
func NewOrderExecutor(exchange Exchange, risk RiskChecker, logger *slog.Logger) *OrderExecutor {
	return &OrderExecutor{
		exchange: exchange,
		risk:     risk,
		logger:   logger.With(slog.String("component", "order_executor")),
		now:      time.Now,
		orders:   make(map[uint64]*domain.Order),
	}
}

// State returns the connection state and the last connection error.
func (e *OrderExecutor) State() (ConnState, string) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state, e.lastErr
}

func (e *OrderExecutor) connected() bool {
	s, _ := e.State()
	return s == StateConnected
}

func (e *OrderExecutor) setState(s ConnState, errMsg string) {
	e.stateMu.Lock()
	prev := e.state
	e.state, e.lastErr = s, errMsg
	e.stateMu.Unlock()
	if prev != s {
		e.logger.Info("executor state changed",
			slog.String("from", prev.String()),
			slog.String("to", s.String()),
		)
	}
}

// Connect installs credentials and verifies them with a signed account
// query. Missing credentials fail without a network call.
func (e *OrderExecutor) Connect(ctx context.Context, auth *crypto.HMACAuth) error {
	if !auth.Valid() {
		e.setState(StateError, "missing api key or secret")
		return fmt.Errorf("executor: connect: %w: missing api key or secret", domain.ErrAuth)
	}
	e.exchange.SetCredentials(auth)
	e.setState(StateConnecting, "")

	start := time.Now()
	acct, err := e.exchange.Account(ctx)
	metrics.ExchangeLatency.WithLabelValues("account").Observe(time.Since(start).Seconds())
	if err != nil {
		e.setState(StateError, err.Error())
		return fmt.Errorf("executor: connect: %w", err)
	}
	if !acct.CanTrade {
		e.logger.Warn("account reports trading disabled")
	}
	e.setState(StateConnected, "")
	e.logger.Info("executor connected", slog.String("credentials", auth.String()))
	return nil
}

// Disconnect stops further submissions. The order table is kept.
func (e *OrderExecutor) Disconnect() {
	e.setState(StateDisconnected, "")
}

// RiskParams returns the active limits.
func (e *OrderExecutor) RiskParams() domain.RiskParams {
	return e.risk.Params()
}

// SetRiskParams replaces the active limits.
func (e *OrderExecutor) SetRiskParams(p domain.RiskParams) error {
	return e.risk.SetParams(p)
}

// SubmitOrder places a LIMIT order when price > 0, a MARKET order otherwise.
// Validation and risk failures return a Failed result without touching the
// network.
func (e *OrderExecutor) SubmitOrder(ctx context.Context, sym domain.Symbol, side domain.OrderSide, price, qty float64) domain.ExecutionResult {
	if !e.connected() {
		return e.fail(sym, domain.ErrNotConnected.Error())
	}
	if sym == "" || !side.Valid() || qty <= 0 || price < 0 {
		return e.fail(sym, fmt.Sprintf("%v: invalid order %s %s price=%.8f qty=%.8f", domain.ErrValidation, sym, side, price, qty))
	}
	if err := e.risk.CheckOrderSize(qty); err != nil {
		return e.fail(sym, err.Error())
	}

	req := domain.OrderRequest{Symbol: sym, Side: side, Price: price, Quantity: qty}
	if err := e.risk.PreTradeCheck(ctx, req); err != nil {
		return e.fail(sym, err.Error())
	}

	start := time.Now()
	xo, err := e.exchange.PlaceOrder(ctx, req)
	metrics.ExchangeLatency.WithLabelValues("place_order").Observe(time.Since(start).Seconds())
	if err != nil {
		e.logger.Warn("order submission failed",
			slog.String("symbol", sym.String()),
			slog.String("side", side.String()),
			slog.String("error", err.Error()),
		)
		return e.fail(sym, err.Error())
	}

	now := e.now().UTC()
	order := &domain.Order{
		ID:        xo.ID,
		Symbol:    sym,
		Side:      side,
		Type:      req.Type(),
		Price:     price,
		Quantity:  qty,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	e.mu.Lock()
	e.orders[xo.ID] = order
	e.applyLocked(order, xo)
	snapshot := *order
	e.mu.Unlock()

	metrics.Orders.WithLabelValues(sym.String(), string(snapshot.Status)).Inc()
	e.logger.Info("order submitted",
		slog.Uint64("order_id", snapshot.ID),
		slog.String("symbol", sym.String()),
		slog.String("side", side.String()),
		slog.String("type", string(snapshot.Type)),
		slog.Float64("price", price),
		slog.Float64("quantity", qty),
		slog.String("status", string(snapshot.Status)),
	)
	return resultFor(snapshot)
}

// CancelOrder cancels a known order. It returns false for an unknown id, a
// disconnected executor or an exchange rejection; the table is only
// changed on success.
func (e *OrderExecutor) CancelOrder(ctx context.Context, id uint64) bool {
	e.mu.RLock()
	o, ok := e.orders[id]
	var sym domain.Symbol
	if ok {
		sym = o.Symbol
	}
	e.mu.RUnlock()
	if !ok {
		e.logger.Warn("order not found for cancellation", slog.Uint64("order_id", id))
		return false
	}
	if !e.connected() {
		return false
	}

	start := time.Now()
	xo, err := e.exchange.CancelOrder(ctx, sym, id)
	metrics.ExchangeLatency.WithLabelValues("cancel_order").Observe(time.Since(start).Seconds())
	if err != nil {
		e.logger.Warn("cancel rejected",
			slog.Uint64("order_id", id),
			slog.String("error", err.Error()),
		)
		return false
	}

	e.mu.Lock()
	e.applyLocked(o, xo)
	o.Status = domain.OrderStatusCancelled
	e.mu.Unlock()
	e.logger.Info("order cancelled", slog.Uint64("order_id", id))
	return true
}

// GetOrderStatus returns the order's state, refreshed from the exchange
// when connected and the order is not terminal.
func (e *OrderExecutor) GetOrderStatus(ctx context.Context, id uint64) domain.ExecutionResult {
	o, err := e.RefreshOrder(ctx, id)
	if err != nil && errors.Is(err, domain.ErrNotFound) {
		return domain.Failed("order not found")
	}
	return resultFor(o)
}

// RefreshOrder is GetOrderStatus returning the full order. A failed refresh
// still returns the cached order along with the error.
func (e *OrderExecutor) RefreshOrder(ctx context.Context, id uint64) (domain.Order, error) {
	e.mu.RLock()
	o, ok := e.orders[id]
	var cached domain.Order
	if ok {
		cached = *o
	}
	e.mu.RUnlock()
	if !ok {
		return domain.Order{}, fmt.Errorf("executor: order %d: %w", id, domain.ErrNotFound)
	}
	if !e.connected() || cached.Status.Terminal() {
		return cached, nil
	}

	start := time.Now()
	xo, err := e.exchange.QueryOrder(ctx, cached.Symbol, id)
	metrics.ExchangeLatency.WithLabelValues("query_order").Observe(time.Since(start).Seconds())
	if err != nil {
		e.logger.Debug("order refresh failed", slog.Uint64("order_id", id), slog.String("error", err.Error()))
		return cached, fmt.Errorf("executor: refresh order %d: %w", id, err)
	}

	e.mu.Lock()
	e.applyLocked(o, xo)
	out := *o
	e.mu.Unlock()
	return out, nil
}

// Order returns the cached order without contacting the exchange.
func (e *OrderExecutor) Order(id uint64) (domain.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// GetOrderHistory returns up to maxCount orders, newest first. A
// non-positive maxCount returns all of them.
func (e *OrderExecutor) GetOrderHistory(maxCount int) []domain.Order {
	e.mu.RLock()
	out := make([]domain.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, *o)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if maxCount > 0 && len(out) > maxCount {
		out = out[:maxCount]
	}
	return out
}

// GetBalance returns the free balance of sym's base asset.
func (e *OrderExecutor) GetBalance(ctx context.Context, sym domain.Symbol) (float64, error) {
	if !e.connected() {
		return 0, fmt.Errorf("executor: balance: %w", domain.ErrNotConnected)
	}
	acct, err := e.exchange.Account(ctx)
	if err != nil {
		return 0, fmt.Errorf("executor: balance: %w", err)
	}
	return acct.Free(sym.BaseAsset()), nil
}

// GetPosition is always 0: spot balances carry no position.
func (e *OrderExecutor) GetPosition(domain.Symbol) float64 {
	return 0
}

// TestOrder places a small limit buy well below the best bid, queries it
// and cancels it. It verifies the signed order path end to end.
func (e *OrderExecutor) TestOrder(ctx context.Context, sym domain.Symbol) error {
	book, err := e.exchange.Depth(ctx, sym)
	if err != nil {
		return fmt.Errorf("executor: test order depth: %w", err)
	}
	bid := book.BestBid()
	if bid <= 0 {
		return fmt.Errorf("executor: test order: %w: %s has no bids", domain.ErrValidation, sym)
	}

	res := e.SubmitOrder(ctx, sym, domain.OrderSideBuy, bid*probeDiscount, probeQuantity)
	if res.Status == domain.ExecutionFailed {
		return fmt.Errorf("executor: test order submit: %s", res.Error)
	}
	status := e.GetOrderStatus(ctx, res.OrderID)
	e.logger.Info("test order placed",
		slog.Uint64("order_id", res.OrderID),
		slog.String("status", string(status.OrderStatus)),
	)
	if status.OrderStatus.Terminal() {
		return nil
	}
	if !e.CancelOrder(ctx, res.OrderID) {
		return fmt.Errorf("executor: test order %d: cancel failed", res.OrderID)
	}
	return nil
}

// applyLocked merges an exchange view into o and feeds any new fill to the
// risk accounting. e.mu must be held.
func (e *OrderExecutor) applyLocked(o *domain.Order, xo domain.ExchangeOrder) {
	if delta := xo.ExecutedQty - o.FilledQuantity; delta > 0 {
		price := xo.AveragePrice
		if price <= 0 {
			price = o.Price
		}
		e.risk.RecordFill(o.Symbol, o.Side, delta, price)
		o.FilledQuantity = xo.ExecutedQty
	}
	if xo.AveragePrice > 0 {
		o.AveragePrice = xo.AveragePrice
	}
	if xo.Status != "" {
		o.Status = xo.Status
	}
	o.UpdatedAt = e.now().UTC()
}

func (e *OrderExecutor) fail(sym domain.Symbol, msg string) domain.ExecutionResult {
	metrics.Orders.WithLabelValues(sym.String(), string(domain.ExecutionFailed)).Inc()
	return domain.Failed(msg)
}

func resultFor(o domain.Order) domain.ExecutionResult {
	status := domain.ExecutionSuccess
	if o.Status == domain.OrderStatusPartiallyFilled {
		status = domain.ExecutionPartial
	}
	return domain.ExecutionResult{
		Status:         status,
		OrderID:        o.ID,
		OrderStatus:    o.Status,
		FilledQuantity: o.FilledQuantity,
		AveragePrice:   o.AveragePrice,
		Error:          o.Error,
	}
}
