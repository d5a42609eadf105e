package feed

import "github.com/alanyoungcy/cryptoquant/internal/domain"

const (
	syntheticBase     = 50000.0
	syntheticStep     = 1000.0
	syntheticHalfSpan = 5.0
	syntheticQty      = 1.0
)

// SyntheticBook builds the placeholder snapshot served while every real
// source is failing. The price depends only on the symbol identity.
func SyntheticBook(sym domain.Symbol, ts uint64) domain.OrderBook {
	base := syntheticBase + float64(sym.Ordinal())*syntheticStep
	return domain.OrderBook{
		Symbol:    sym,
		Bids:      []domain.PriceLevel{{Price: base - syntheticHalfSpan, Quantity: syntheticQty, Timestamp: ts}},
		Asks:      []domain.PriceLevel{{Price: base + syntheticHalfSpan, Quantity: syntheticQty, Timestamp: ts}},
		Timestamp: ts,
		Synthetic: true,
	}
}
