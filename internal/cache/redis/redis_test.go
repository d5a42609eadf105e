package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// testClient connects to the Redis named by CRYPTOQUANT_TEST_REDIS_ADDR,
// using DB 15, and skips when it is unset.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("CRYPTOQUANT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CRYPTOQUANT_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, DB: 15})
	require.NoError(t, err, "redis should be reachable for integration tests")
	t.Cleanup(func() {
		_ = c.Underlying().FlushDB(context.Background()).Err()
		_ = c.Close()
	})
	return c
}

func sampleBook(sym domain.Symbol) domain.OrderBook {
	return domain.OrderBook{
		Symbol:    sym,
		Bids:      []domain.PriceLevel{{Price: 100.5, Quantity: 2, Timestamp: 7}, {Price: 100, Quantity: 1, Timestamp: 7}},
		Asks:      []domain.PriceLevel{{Price: 101, Quantity: 3, Timestamp: 7}},
		Timestamp: 7,
	}
}

func TestBookEncodingChoosesFormat(t *testing.T) {
	payload, enc, err := encodeBook(sampleBook(domain.SymbolBTCUSDT))
	require.NoError(t, err)
	assert.Equal(t, encBinary, enc)
	got, err := decodeBook(payload, enc)
	require.NoError(t, err)
	assert.Equal(t, sampleBook(domain.SymbolBTCUSDT), got)

	custom := domain.Symbol("SOL_USDT")
	payload, enc, err = encodeBook(sampleBook(custom))
	require.NoError(t, err)
	assert.Equal(t, encJSON, enc)
	got, err = decodeBook(payload, enc)
	require.NoError(t, err)
	assert.Equal(t, custom, got.Symbol)
	assert.Equal(t, 100.5, got.BestBid())

	_, err = decodeBook(payload, "xml")
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestIsPattern(t *testing.T) {
	assert.True(t, isPattern("book:*"))
	assert.False(t, isPattern(domain.ChannelSignal))
}

func TestBookCacheRoundTrip(t *testing.T) {
	c := testClient(t)
	bc := NewBookCache(c, time.Minute)
	ctx := context.Background()

	_, err := bc.GetBook(ctx, domain.SymbolETHUSDT)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, bc.SetBook(ctx, sampleBook(domain.SymbolETHUSDT)))
	got, err := bc.GetBook(ctx, domain.SymbolETHUSDT)
	require.NoError(t, err)
	assert.Equal(t, sampleBook(domain.SymbolETHUSDT), got)

	bid, ask, err := bc.GetBBO(ctx, domain.SymbolETHUSDT)
	require.NoError(t, err)
	assert.Equal(t, 100.5, bid)
	assert.Equal(t, 101.0, ask)

	ttl, err := c.Underlying().TTL(ctx, bookKey(domain.SymbolETHUSDT)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	c := testClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "test-orders", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "test-orders", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Shift the limiter clock past the window.
	rl.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	ok, err = rl.Allow(ctx, "test-orders", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExclusive(t *testing.T) {
	c := testClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "test-executor", 300*time.Millisecond)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "test-executor", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	// Renewal keeps the lock past its initial TTL.
	time.Sleep(500 * time.Millisecond)
	_, err = lm.Acquire(ctx, "test-executor", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "test-executor", time.Second)
	require.NoError(t, err)
	again()
}

func TestSignalBusDelivers(t *testing.T) {
	c := testClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "book:*")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.BookChannel(domain.SymbolBTCUSDT), []byte("x")))

	select {
	case msg := <-ch:
		assert.Equal(t, []byte("x"), msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}

	cancel()
	for range ch {
	}
}

func TestNewFailsOnUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, ClientConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: ping")
}
