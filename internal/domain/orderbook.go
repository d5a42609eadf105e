package domain

import "fmt"

// MaxDepth is the number of price levels carried per side.
const MaxDepth = 20

// BookSide selects the bid or ask side of a book.
type BookSide int

const (
	Bid BookSide = iota
	Ask
)

func (s BookSide) String() string {
	if s == Ask {
		return "ask"
	}
	return "bid"
}

// PriceLevel is a single aggregated level. Timestamp is in milliseconds.
type PriceLevel struct {
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	Timestamp uint64  `json:"timestamp"`
}

// OrderBook is a point-in-time depth snapshot. Bids are ordered by
// descending price, asks by ascending price, at most MaxDepth each.
type OrderBook struct {
	Symbol    Symbol       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp uint64       `json:"timestamp"`
	// Synthetic marks a placeholder served while every real source is down.
	// It is stored and published but never traded on.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Clone returns a deep copy whose level slices share nothing with b.
func (b OrderBook) Clone() OrderBook {
	out := b
	out.Bids = cloneLevels(b.Bids)
	out.Asks = cloneLevels(b.Asks)
	return out
}

func cloneLevels(src []PriceLevel) []PriceLevel {
	if src == nil {
		return nil
	}
	dst := make([]PriceLevel, len(src))
	copy(dst, src)
	return dst
}

// IsZero reports whether b carries no data at all.
func (b OrderBook) IsZero() bool {
	return b.Symbol == "" && len(b.Bids) == 0 && len(b.Asks) == 0 && b.Timestamp == 0
}

// BestBid returns the highest bid price or 0 when there are no bids.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price or 0 when there are no asks.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// MidPrice is the average of best bid and best ask, 0 if either side is empty.
func (b OrderBook) MidPrice() float64 {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0
	}
	return (b.Bids[0].Price + b.Asks[0].Price) / 2
}

// Spread is best ask minus best bid, 0 if either side is empty.
func (b OrderBook) Spread() float64 {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price - b.Bids[0].Price
}

// Validate checks level counts, non-negative values and that the book is
// not crossed. A crossed book wraps ErrCrossedBook, everything else
// ErrValidation.
func (b OrderBook) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrValidation)
	}
	if len(b.Bids) > MaxDepth || len(b.Asks) > MaxDepth {
		return fmt.Errorf("%w: %s depth %d/%d exceeds %d", ErrValidation, b.Symbol, len(b.Bids), len(b.Asks), MaxDepth)
	}
	for _, lvl := range b.Bids {
		if lvl.Price < 0 || lvl.Quantity < 0 {
			return fmt.Errorf("%w: %s negative bid level", ErrValidation, b.Symbol)
		}
	}
	for _, lvl := range b.Asks {
		if lvl.Price < 0 || lvl.Quantity < 0 {
			return fmt.Errorf("%w: %s negative ask level", ErrValidation, b.Symbol)
		}
	}
	if len(b.Bids) > 0 && len(b.Asks) > 0 && b.Bids[0].Price >= b.Asks[0].Price {
		return fmt.Errorf("%w: %s bid %.8f >= ask %.8f", ErrCrossedBook, b.Symbol, b.Bids[0].Price, b.Asks[0].Price)
	}
	return nil
}
