package domain

import "time"

// SignalType is the direction a strategy recommends.
type SignalType int

const (
	SignalNone SignalType = iota
	SignalBuy
	SignalSell
	SignalHold
)

func (t SignalType) String() string {
	switch t {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	case SignalHold:
		return "hold"
	default:
		return "none"
	}
}

// Side maps an actionable signal to an order side.
func (t SignalType) Side() (OrderSide, bool) {
	switch t {
	case SignalBuy:
		return OrderSideBuy, true
	case SignalSell:
		return OrderSideSell, true
	}
	return 0, false
}

// Signal is emitted by a strategy for a single snapshot.
type Signal struct {
	ID         string     `json:"id"`
	Type       SignalType `json:"type"`
	Symbol     Symbol     `json:"symbol"`
	Price      float64    `json:"price"`
	Quantity   float64    `json:"quantity"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason"`
	Source     string     `json:"source"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Actionable reports whether the signal asks for an order.
func (s Signal) Actionable() bool {
	_, ok := s.Type.Side()
	return ok
}
