package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoquant/internal/bus"
	"github.com/alanyoungcy/cryptoquant/internal/config"
	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/orderbook"
	"github.com/alanyoungcy/cryptoquant/internal/platform/binance"
	"github.com/alanyoungcy/cryptoquant/internal/service"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireWithoutBackends(t *testing.T) {
	cfg := config.Defaults()
	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &bus.Local{}, deps.SignalBus)
	assert.False(t, deps.SharedBus)
	assert.Nil(t, deps.BookCache)
	assert.Nil(t, deps.OrderStore)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.BlobReader)
	assert.NotNil(t, deps.Notifier)
	assert.Empty(t, deps.Health)
}

func TestExchangeEndpoints(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, discard())
	rest, stream := a.exchangeEndpoints()
	assert.Equal(t, binance.MainnetREST, rest)
	assert.Equal(t, binance.MainnetWS, stream)

	cfg.Exchange.Testnet = true
	rest, stream = a.exchangeEndpoints()
	assert.Equal(t, binance.TestnetREST, rest)
	assert.Equal(t, binance.TestnetWS, stream)

	cfg.Exchange.RESTURL = "http://127.0.0.1:9999"
	rest, _ = a.exchangeEndpoints()
	assert.Equal(t, "http://127.0.0.1:9999", rest)
}

func TestStatusSnapshot(t *testing.T) {
	store := orderbook.NewStore()
	require.NoError(t, store.Update(domain.OrderBook{
		Symbol:    domain.SymbolBTCUSDT,
		Bids:      []domain.PriceLevel{{Price: 100, Quantity: 1, Timestamp: 1}},
		Asks:      []domain.PriceLevel{{Price: 102, Quantity: 1, Timestamp: 1}},
		Timestamp: 1,
	}))
	risk := service.NewRiskService(domain.DefaultRiskParams(), nil, discard())

	src := &statusSource{mode: "monitor", started: time.Now().Add(-time.Minute), store: store, risk: risk}
	st := src.snapshot()

	assert.Equal(t, "monitor", st.Mode)
	require.Len(t, st.Books, 1)
	assert.Equal(t, 101.0, st.Books[0].MidPrice)
	assert.Equal(t, 2.0, st.Books[0].Spread)
	require.NotNil(t, st.Risk)
	assert.Nil(t, st.Strategy)
	assert.Nil(t, st.Executor)

	raw, err := json.Marshal(src.Status(context.Background()))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"mode":"monitor"`)
	assert.NotContains(t, string(raw), `"executor"`)
}
