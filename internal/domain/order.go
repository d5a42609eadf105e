package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderSide indicates whether this is a buy or sell. The numeric values
// match the executor's wire convention (0 buy, 1 sell).
type OrderSide int

const (
	OrderSideBuy  OrderSide = 0
	OrderSideSell OrderSide = 1
)

// String returns the exchange spelling of the side.
func (s OrderSide) String() string {
	if s == OrderSideSell {
		return "SELL"
	}
	return "BUY"
}

// Valid reports whether s is one of the two defined sides.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// ParseOrderSide accepts "buy"/"sell" in any case.
func ParseOrderSide(s string) (OrderSide, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return OrderSideBuy, nil
	case "SELL":
		return OrderSideSell, nil
	}
	return 0, fmt.Errorf("%w: order side %q", ErrValidation, s)
}

// OrderType is the exchange order type.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further transitions are expected.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// ExecutionStatus is the coarse outcome of an executor call.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionPartial ExecutionStatus = "partial"
	ExecutionFailed  ExecutionStatus = "failed"
)

// Order is one row of the executor's order table.
type Order struct {
	ID             uint64      `json:"id"`
	Symbol         Symbol      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Price          float64     `json:"price"`
	Quantity       float64     `json:"quantity"`
	Status         OrderStatus `json:"status"`
	FilledQuantity float64     `json:"filled_quantity"`
	AveragePrice   float64     `json:"average_price"`
	Error          string      `json:"error,omitempty"`
	Strategy       string      `json:"strategy,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// ExecutionResult is returned by every executor operation.
type ExecutionResult struct {
	Status         ExecutionStatus `json:"status"`
	OrderID        uint64          `json:"order_id"`
	OrderStatus    OrderStatus     `json:"order_status,omitempty"`
	FilledQuantity float64         `json:"filled_quantity"`
	AveragePrice   float64         `json:"average_price"`
	Error          string          `json:"error,omitempty"`
}

// Failed builds a failed result carrying msg.
func Failed(msg string) ExecutionResult {
	return ExecutionResult{Status: ExecutionFailed, Error: msg}
}
