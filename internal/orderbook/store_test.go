package orderbook

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

func levels(start, step float64, n int) []domain.PriceLevel {
	out := make([]domain.PriceLevel, n)
	for i := range out {
		out[i] = domain.PriceLevel{Price: start + step*float64(i), Quantity: float64(i + 1), Timestamp: 1}
	}
	return out
}

func testBook(sym domain.Symbol, ts uint64, nBids, nAsks int) domain.OrderBook {
	return domain.OrderBook{
		Symbol:    sym,
		Timestamp: ts,
		Bids:      levels(100, -1, nBids),
		Asks:      levels(101, 1, nAsks),
	}
}

func TestGetReturnsLastUpdate(t *testing.T) {
	s := NewStore()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		b := testBook(domain.SymbolBTCUSDT, uint64(i+1), rng.Intn(21), rng.Intn(21))
		require.NoError(t, s.Update(b))
		assert.Equal(t, b, s.Get(domain.SymbolBTCUSDT))
	}
}

func TestGetUnknownSymbolIsZero(t *testing.T) {
	s := NewStore()
	assert.True(t, s.Get(domain.SymbolETHUSDT).IsZero())
	assert.Zero(t, s.BestBid(domain.SymbolETHUSDT))
	assert.Zero(t, s.MidPrice(domain.SymbolETHUSDT))
	assert.False(t, s.IsValid(domain.SymbolETHUSDT))
}

func TestStoreDoesNotAliasCaller(t *testing.T) {
	s := NewStore()
	b := testBook(domain.SymbolBTCUSDT, 1, 2, 2)
	require.NoError(t, s.Update(b))
	b.Bids[0].Price = 1

	got := s.Get(domain.SymbolBTCUSDT)
	assert.Equal(t, 100.0, got.Bids[0].Price)
	got.Asks[0].Price = 5
	assert.Equal(t, 101.0, s.BestAsk(domain.SymbolBTCUSDT))
}

func TestDerivedMetrics(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Update(testBook(domain.SymbolBTCUSDT, 1, 3, 3)))

	assert.Equal(t, 100.0, s.BestBid(domain.SymbolBTCUSDT))
	assert.Equal(t, 101.0, s.BestAsk(domain.SymbolBTCUSDT))
	assert.Equal(t, 100.5, s.MidPrice(domain.SymbolBTCUSDT))
	assert.Equal(t, 1.0, s.Spread(domain.SymbolBTCUSDT))
	assert.Equal(t, uint64(1), s.Timestamp(domain.SymbolBTCUSDT))
	assert.True(t, s.IsValid(domain.SymbolBTCUSDT))

	require.NoError(t, s.Update(testBook(domain.SymbolETHUSDT, 1, 2, 0)))
	assert.Zero(t, s.MidPrice(domain.SymbolETHUSDT))
	assert.Zero(t, s.Spread(domain.SymbolETHUSDT))
	assert.False(t, s.IsValid(domain.SymbolETHUSDT))
}

func TestDepthClampsAndSumsPrefix(t *testing.T) {
	s := NewStore()
	b := testBook(domain.SymbolBTCUSDT, 1, 4, 2)
	require.NoError(t, s.Update(b))

	var all float64
	for _, l := range b.Bids {
		all += l.Quantity
	}
	for levels := 1; levels <= 25; levels++ {
		n := levels
		if n > len(b.Bids) {
			n = len(b.Bids)
		}
		var want float64
		for _, l := range b.Bids[:n] {
			want += l.Quantity
		}
		got := s.Depth(domain.SymbolBTCUSDT, domain.Bid, levels)
		assert.Equal(t, want, got, "levels=%d", levels)
		assert.LessOrEqual(t, got, all)
	}
	assert.Equal(t, 3.0, s.Depth(domain.SymbolBTCUSDT, domain.Ask, 10))
	assert.Equal(t, 10.0, s.Depth(domain.SymbolBTCUSDT, domain.Bid, 0))
}

func TestUpdateRejectsCrossedBook(t *testing.T) {
	s := NewStore()
	good := testBook(domain.SymbolBTCUSDT, 1, 1, 1)
	require.NoError(t, s.Update(good))

	crossed := good.Clone()
	crossed.Timestamp = 2
	crossed.Bids[0].Price = 102
	err := s.Update(crossed)
	require.ErrorIs(t, err, domain.ErrCrossedBook)
	assert.Equal(t, good, s.Get(domain.SymbolBTCUSDT))
}

func TestUpdateRejectsStaleSnapshot(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Update(testBook(domain.SymbolBTCUSDT, 10, 1, 1)))
	err := s.Update(testBook(domain.SymbolBTCUSDT, 9, 2, 2))
	require.ErrorIs(t, err, domain.ErrStaleSnapshot)
	assert.Equal(t, uint64(10), s.Timestamp(domain.SymbolBTCUSDT))

	require.NoError(t, s.Update(testBook(domain.SymbolBTCUSDT, 10, 3, 3)))
	assert.Len(t, s.Get(domain.SymbolBTCUSDT).Bids, 3)
}

func TestConcurrentSymbols(t *testing.T) {
	s := NewStore()
	syms := []domain.Symbol{domain.SymbolBTCUSDT, domain.SymbolETHUSDT, domain.SymbolBTCETH, "SOL_USDT"}
	var wg sync.WaitGroup
	for _, sym := range syms {
		wg.Add(2)
		go func(sym domain.Symbol) {
			defer wg.Done()
			for i := 1; i <= 200; i++ {
				_ = s.Update(testBook(sym, uint64(i), 5, 5))
			}
		}(sym)
		go func(sym domain.Symbol) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b := s.Get(sym)
				if !b.IsZero() {
					assert.NoError(t, b.Validate(), fmt.Sprint(sym))
				}
			}
		}(sym)
	}
	wg.Wait()
	assert.Len(t, s.Symbols(), len(syms))
	for _, sym := range syms {
		assert.Equal(t, uint64(200), s.Timestamp(sym))
	}
}
