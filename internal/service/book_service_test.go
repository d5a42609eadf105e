package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoquant/internal/codec"
	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/orderbook"
)

type memBookCache struct {
	books map[domain.Symbol]domain.OrderBook
}

func (m *memBookCache) SetBook(_ context.Context, b domain.OrderBook) error {
	m.books[b.Symbol] = b.Clone()
	return nil
}

func (m *memBookCache) GetBook(_ context.Context, sym domain.Symbol) (domain.OrderBook, error) {
	b, ok := m.books[sym]
	if !ok {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *memBookCache) GetBBO(_ context.Context, sym domain.Symbol) (float64, float64, error) {
	b, ok := m.books[sym]
	if !ok {
		return 0, 0, domain.ErrNotFound
	}
	return b.BestBid(), b.BestAsk(), nil
}

type countingProcessor struct{ books []domain.OrderBook }

func (c *countingProcessor) ProcessMarketData(_ context.Context, b domain.OrderBook) (domain.Signal, bool) {
	c.books = append(c.books, b)
	return domain.Signal{}, false
}

func book(sym domain.Symbol, ts uint64, bid, ask float64) domain.OrderBook {
	return domain.OrderBook{
		Symbol:    sym,
		Bids:      []domain.PriceLevel{{Price: bid, Quantity: 1, Timestamp: ts}},
		Asks:      []domain.PriceLevel{{Price: ask, Quantity: 1, Timestamp: ts}},
		Timestamp: ts,
	}
}

func TestHandleBookFansOut(t *testing.T) {
	cache := &memBookCache{books: map[domain.Symbol]domain.OrderBook{}}
	bus := &memBus{}
	proc := &countingProcessor{}
	svc := NewBookService(orderbook.NewStore(), cache, bus, proc, testLogger())
	ctx := context.Background()

	require.NoError(t, svc.HandleBook(ctx, book(domain.SymbolBTCUSDT, 10, 100, 101)))

	assert.InDelta(t, 100.5, svc.Store().MidPrice(domain.SymbolBTCUSDT), 1e-9)
	assert.Contains(t, cache.books, domain.SymbolBTCUSDT)
	require.Len(t, proc.books, 1)

	msgs := bus.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "book:BTC_USDT", msgs[0].channel)
	decoded, err := codec.DecodeOrderBook(msgs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), decoded.Timestamp)
}

func TestHandleBookRejects(t *testing.T) {
	proc := &countingProcessor{}
	svc := NewBookService(orderbook.NewStore(), nil, nil, proc, testLogger())
	ctx := context.Background()

	require.NoError(t, svc.HandleBook(ctx, book(domain.SymbolETHUSDT, 10, 100, 101)))

	err := svc.HandleBook(ctx, book(domain.SymbolETHUSDT, 11, 102, 101))
	assert.ErrorIs(t, err, domain.ErrCrossedBook)
	assert.Equal(t, "crossed", rejectReason(err))

	err = svc.HandleBook(ctx, book(domain.SymbolETHUSDT, 9, 100, 101))
	assert.ErrorIs(t, err, domain.ErrStaleSnapshot)
	assert.Equal(t, "stale", rejectReason(err))

	assert.Equal(t, "invalid", rejectReason(errors.New("x")))
	assert.Len(t, proc.books, 1, "rejected snapshots never reach the engine")
	assert.Equal(t, uint64(10), svc.Store().Timestamp(domain.SymbolETHUSDT))
}

func TestHandleBookKeepsSyntheticAwayFromEngine(t *testing.T) {
	cache := &memBookCache{books: map[domain.Symbol]domain.OrderBook{}}
	bus := &memBus{}
	proc := &countingProcessor{}
	svc := NewBookService(orderbook.NewStore(), cache, bus, proc, testLogger())
	ctx := context.Background()

	require.NoError(t, svc.HandleBook(ctx, book(domain.SymbolETHUSDT, 10, 2999, 3001)))
	placeholder := book(domain.SymbolETHUSDT, 11, 50995, 51005)
	placeholder.Synthetic = true
	require.NoError(t, svc.HandleBook(ctx, placeholder))

	require.Len(t, proc.books, 1)
	assert.False(t, proc.books[0].Synthetic)

	// Still stored, mirrored and published, with the flag intact.
	assert.True(t, svc.Store().Get(domain.SymbolETHUSDT).Synthetic)
	assert.True(t, cache.books[domain.SymbolETHUSDT].Synthetic)
	msgs := bus.messages()
	require.Len(t, msgs, 2)
	decoded, err := codec.DecodeOrderBook(msgs[1].payload)
	require.NoError(t, err)
	assert.True(t, decoded.Synthetic)
}

func TestBookFallsBackToCache(t *testing.T) {
	cache := &memBookCache{books: map[domain.Symbol]domain.OrderBook{
		domain.SymbolBTCETH: book(domain.SymbolBTCETH, 5, 0.05, 0.051),
	}}
	svc := NewBookService(orderbook.NewStore(), cache, nil, nil, testLogger())

	b, err := svc.Book(context.Background(), domain.SymbolBTCETH)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), b.Timestamp)

	_, err = svc.Book(context.Background(), domain.SymbolBTCUSDT)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
