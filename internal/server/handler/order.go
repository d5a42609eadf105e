package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// OrderService defines the methods that the order handler requires from the
// service layer.
type OrderService interface {
	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)
	GetOrder(ctx context.Context, id uint64) (domain.Order, error)
	CancelOrder(ctx context.Context, id uint64) error
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
	Limit  int            `json:"limit"`
}

// ListOrders returns the most recent orders, newest first.
// GET /api/orders?limit=50
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	orders, err := h.orders.ListOrders(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed",
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), "failed to list orders")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders, Limit: limit})
}

// GetOrder returns one order, refreshed from the exchange when possible.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get", id, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder cancels an existing order by its ID.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	if err := h.orders.CancelOrder(r.Context(), id); err != nil {
		h.fail(w, r, "cancel", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   domain.OrderStatusCancelled,
		"order_id": id,
	})
}

func (h *OrderHandler) fail(w http.ResponseWriter, r *http.Request, op string, id uint64, err error) {
	code := statusFor(err)
	if code == http.StatusNotFound {
		writeError(w, code, "order not found")
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: "+op+" order failed",
		slog.Uint64("order_id", id),
		slog.String("error", err.Error()),
	)
	writeError(w, code, "failed to "+op+" order")
}

func orderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "order id must be an unsigned integer")
		return 0, false
	}
	return id, true
}
