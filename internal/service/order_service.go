package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/notify"
)

// OrderSubmitter is the part of the order executor the service drives.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, sym domain.Symbol, side domain.OrderSide, price, qty float64) domain.ExecutionResult
	CancelOrder(ctx context.Context, id uint64) bool
	RefreshOrder(ctx context.Context, id uint64) (domain.Order, error)
	Order(id uint64) (domain.Order, bool)
	GetOrderHistory(maxCount int) []domain.Order
}

// Audit event names.
const (
	AuditOrderPlaced    = "order_placed"
	AuditOrderRejected  = "order_rejected"
	AuditOrderCancelled = "order_cancelled"
	AuditOrderUpdated   = "order_updated"
)

// OrderEvent is published on the order channel for every order transition.
type OrderEvent struct {
	Event     string                 `json:"event"`
	OrderID   uint64                 `json:"order_id,omitempty"`
	Symbol    domain.Symbol          `json:"symbol"`
	Side      string                 `json:"side,omitempty"`
	Status    domain.OrderStatus     `json:"status,omitempty"`
	Result    domain.ExecutionStatus `json:"result,omitempty"`
	Filled    float64                `json:"filled_quantity"`
	AvgPrice  float64                `json:"average_price"`
	Strategy  string                 `json:"strategy,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// OrderService handles the order lifecycle from signal to confirmed order:
// submission through the executor, persistence, audit, bus events and
// operator notifications. Stores, bus and notifier are optional.
type OrderService struct {
	exec     OrderSubmitter
	orders   domain.OrderStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrderService creates an OrderService.
func NewOrderService(
	exec OrderSubmitter,
	orders domain.OrderStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		exec:     exec,
		orders:   orders,
		audit:    audit,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "order_service")),
		now:      time.Now,
	}
}

// PlaceOrder submits a sized signal. Rejections come back as a Failed
// result with a nil error; the error is reserved for signals that cannot
// be turned into an order at all.
func (s *OrderService) PlaceOrder(ctx context.Context, sig domain.Signal) (domain.ExecutionResult, error) {
	side, ok := sig.Type.Side()
	if !ok {
		return domain.ExecutionResult{}, fmt.Errorf("order_service: signal %s is %s: %w", sig.ID, sig.Type, domain.ErrValidation)
	}

	res := s.exec.SubmitOrder(ctx, sig.Symbol, side, sig.Price, sig.Quantity)
	if res.Status == domain.ExecutionFailed {
		s.rejected(ctx, sig, side, res)
		return res, nil
	}

	order, found := s.exec.Order(res.OrderID)
	if !found {
		order = domain.Order{
			ID:             res.OrderID,
			Symbol:         sig.Symbol,
			Side:           side,
			Price:          sig.Price,
			Quantity:       sig.Quantity,
			Status:         res.OrderStatus,
			FilledQuantity: res.FilledQuantity,
			AveragePrice:   res.AveragePrice,
			CreatedAt:      s.now().UTC(),
		}
	}
	order.Strategy = sig.Source
	s.persist(ctx, order)

	s.auditLog(ctx, AuditOrderPlaced, map[string]any{
		"order_id":  order.ID,
		"signal_id": sig.ID,
		"symbol":    order.Symbol.String(),
		"side":      side.String(),
		"type":      string(order.Type),
		"price":     order.Price,
		"quantity":  order.Quantity,
		"status":    string(order.Status),
		"strategy":  sig.Source,
	})
	s.publish(ctx, AuditOrderPlaced, order, res.Status, "")
	if order.Status == domain.OrderStatusFilled {
		s.notifyFilled(ctx, order)
	}
	return res, nil
}

// CancelOrder cancels id on the exchange and records the transition.
func (s *OrderService) CancelOrder(ctx context.Context, id uint64) error {
	if !s.exec.CancelOrder(ctx, id) {
		if _, ok := s.exec.Order(id); !ok {
			return fmt.Errorf("order_service: cancel order %d: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("order_service: cancel order %d: rejected", id)
	}
	order, _ := s.exec.Order(id)
	s.updateStored(ctx, order)
	s.auditLog(ctx, AuditOrderCancelled, map[string]any{
		"order_id": id,
		"symbol":   order.Symbol.String(),
		"filled":   order.FilledQuantity,
	})
	s.publish(ctx, AuditOrderCancelled, order, domain.ExecutionSuccess, "")
	return nil
}

// GetOrder refreshes id from the exchange when the executor knows it and
// falls back to the order store otherwise.
func (s *OrderService) GetOrder(ctx context.Context, id uint64) (domain.Order, error) {
	before, known := s.exec.Order(id)
	if known {
		order, err := s.exec.RefreshOrder(ctx, id)
		if err != nil {
			s.logger.DebugContext(ctx, "order refresh failed, serving cached order",
				slog.Uint64("order_id", id),
				slog.String("error", err.Error()),
			)
		}
		s.observe(ctx, before, order)
		return order, nil
	}
	if s.orders == nil {
		return domain.Order{}, fmt.Errorf("order_service: get order %d: %w", id, domain.ErrNotFound)
	}
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get order %d: %w", id, err)
	}
	return order, nil
}

// ListOrders returns the most recent orders, newest first. The store is
// authoritative when configured since it survives restarts.
func (s *OrderService) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	if s.orders == nil {
		return s.exec.GetOrderHistory(limit), nil
	}
	orders, err := s.orders.List(ctx, domain.ListOpts{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("order_service: list orders: %w", err)
	}
	return orders, nil
}

// Reconcile refreshes every open order known to the executor and records
// status changes. It returns the number of orders that changed.
func (s *OrderService) Reconcile(ctx context.Context) int {
	changed := 0
	for _, before := range s.exec.GetOrderHistory(0) {
		if before.Status.Terminal() {
			continue
		}
		after, err := s.exec.RefreshOrder(ctx, before.ID)
		if err != nil {
			continue
		}
		if s.observe(ctx, before, after) {
			changed++
		}
	}
	return changed
}

// RunReconciler calls Reconcile every interval until ctx is cancelled.
func (s *OrderService) RunReconciler(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.Reconcile(ctx); n > 0 {
				s.logger.InfoContext(ctx, "orders reconciled", slog.Int("changed", n))
			}
		}
	}
}

// observe records a status or fill change between two views of an order.
func (s *OrderService) observe(ctx context.Context, before, after domain.Order) bool {
	if before.Status == after.Status && before.FilledQuantity == after.FilledQuantity {
		return false
	}
	s.updateStored(ctx, after)
	s.auditLog(ctx, AuditOrderUpdated, map[string]any{
		"order_id":    after.ID,
		"symbol":      after.Symbol.String(),
		"from_status": string(before.Status),
		"to_status":   string(after.Status),
		"filled":      after.FilledQuantity,
	})
	s.publish(ctx, AuditOrderUpdated, after, domain.ExecutionSuccess, "")
	if after.Status == domain.OrderStatusFilled && before.Status != domain.OrderStatusFilled {
		s.notifyFilled(ctx, after)
	}
	return true
}

func (s *OrderService) rejected(ctx context.Context, sig domain.Signal, side domain.OrderSide, res domain.ExecutionResult) {
	s.auditLog(ctx, AuditOrderRejected, map[string]any{
		"signal_id": sig.ID,
		"symbol":    sig.Symbol.String(),
		"side":      side.String(),
		"price":     sig.Price,
		"quantity":  sig.Quantity,
		"strategy":  sig.Source,
		"error":     res.Error,
	})
	s.publish(ctx, AuditOrderRejected, domain.Order{Symbol: sig.Symbol, Side: side, Strategy: sig.Source}, res.Status, res.Error)

	event, title := notify.EventOrderRejected, "Order rejected"
	if strings.Contains(res.Error, domain.ErrRiskLimit.Error()) {
		event, title = notify.EventRiskLimit, "Risk limit hit"
	}
	msg := fmt.Sprintf("%s %s %.8f @ %.8f (%s): %s", side, sig.Symbol, sig.Quantity, sig.Price, sig.Source, res.Error)
	s.sendNotification(ctx, event, title, msg)
}

func (s *OrderService) notifyFilled(ctx context.Context, o domain.Order) {
	msg := fmt.Sprintf("#%d %s %s %.8f @ %.8f", o.ID, o.Side, o.Symbol, o.FilledQuantity, o.AveragePrice)
	s.sendNotification(ctx, notify.EventOrderFilled, "Order filled", msg)
}

func (s *OrderService) sendNotification(ctx context.Context, event, title, msg string) {
	if err := s.notifier.Notify(ctx, event, title, msg); err != nil {
		s.logger.WarnContext(ctx, "notification failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *OrderService) persist(ctx context.Context, o domain.Order) {
	if s.orders == nil {
		return
	}
	if err := s.orders.Upsert(ctx, o); err != nil {
		s.logger.WarnContext(ctx, "persist order failed",
			slog.Uint64("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OrderService) updateStored(ctx context.Context, o domain.Order) {
	if s.orders == nil {
		return
	}
	err := s.orders.UpdateStatus(ctx, o.ID, o.Status, o.FilledQuantity, o.AveragePrice)
	if errors.Is(err, domain.ErrNotFound) {
		err = s.orders.Upsert(ctx, o)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "update stored order failed",
			slog.Uint64("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OrderService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *OrderService) publish(ctx context.Context, event string, o domain.Order, result domain.ExecutionStatus, errMsg string) {
	if s.bus == nil {
		return
	}
	evt := OrderEvent{
		Event:     event,
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side.String(),
		Status:    o.Status,
		Result:    result,
		Filled:    o.FilledQuantity,
		AvgPrice:  o.AveragePrice,
		Strategy:  o.Strategy,
		Error:     errMsg,
		Timestamp: s.now().UTC(),
	}
	payload, err := json.Marshal(evt)
	if err == nil {
		err = s.bus.Publish(ctx, domain.ChannelOrder, payload)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "publish order event failed",
			slog.Uint64("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}
