package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func book(bids, asks [][2]float64) OrderBook {
	b := OrderBook{Symbol: SymbolBTCUSDT, Timestamp: 1}
	for _, l := range bids {
		b.Bids = append(b.Bids, PriceLevel{Price: l[0], Quantity: l[1]})
	}
	for _, l := range asks {
		b.Asks = append(b.Asks, PriceLevel{Price: l[0], Quantity: l[1]})
	}
	return b
}

func TestOrderBookDerived(t *testing.T) {
	b := book([][2]float64{{100, 1}, {99, 2}}, [][2]float64{{101, 3}})
	assert.Equal(t, 100.0, b.BestBid())
	assert.Equal(t, 101.0, b.BestAsk())
	assert.Equal(t, 100.5, b.MidPrice())
	assert.Equal(t, 1.0, b.Spread())

	oneSided := book([][2]float64{{100, 1}}, nil)
	assert.Zero(t, oneSided.MidPrice())
	assert.Zero(t, oneSided.Spread())
	assert.Zero(t, oneSided.BestAsk())
}

func TestOrderBookValidate(t *testing.T) {
	assert.NoError(t, book([][2]float64{{100, 1}}, [][2]float64{{101, 1}}).Validate())
	assert.NoError(t, book(nil, nil).Validate())

	assert.ErrorIs(t, book([][2]float64{{101, 1}}, [][2]float64{{100, 1}}).Validate(), ErrCrossedBook)
	assert.ErrorIs(t, book([][2]float64{{100, 1}}, [][2]float64{{100, 1}}).Validate(), ErrCrossedBook)
	assert.ErrorIs(t, book([][2]float64{{100, -1}}, nil).Validate(), ErrValidation)

	deep := OrderBook{Symbol: SymbolBTCUSDT, Bids: make([]PriceLevel, MaxDepth+1)}
	assert.ErrorIs(t, deep.Validate(), ErrValidation)
}

func TestOrderBookCloneDoesNotAlias(t *testing.T) {
	b := book([][2]float64{{100, 1}}, [][2]float64{{101, 1}})
	c := b.Clone()
	b.Bids[0].Price = 1
	assert.Equal(t, 100.0, c.Bids[0].Price)
}
