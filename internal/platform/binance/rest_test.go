package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoquant/internal/crypto"
	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, time.Second)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c, srv
}

func TestDepthParsesLevels(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"lastUpdateId":1,"bids":[["50000.10","1.5"],["49999.00","2"]],"asks":[["50001.00","0.25"]]}`))
	})

	book, err := c.Depth(context.Background(), domain.SymbolBTCUSDT)
	require.NoError(t, err)
	assert.Equal(t, domain.SymbolBTCUSDT, book.Symbol)
	assert.Equal(t, uint64(1700000000000), book.Timestamp)
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 1)
	assert.InDelta(t, 50000.10, book.Bids[0].Price, 1e-9)
	assert.InDelta(t, 1.5, book.Bids[0].Quantity, 1e-9)
	assert.InDelta(t, 0.25, book.Asks[0].Quantity, 1e-9)
}

func TestDepthMalformedBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bids":[["abc","1"]],"asks":[]}`))
	})
	_, err := c.Depth(context.Background(), domain.SymbolBTCUSDT)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestSignedRequestWithoutCredentialsMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := c.Account(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuth)
	_, err = c.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: domain.SymbolBTCUSDT, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, int32(0), calls.Load())
	assert.False(t, c.HasCredentials())
}

func TestPlaceLimitOrderIsSigned(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "key-1", Secret: "secret-1"}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get(crypto.APIKeyHeader))

		raw := r.URL.RawQuery
		idx := strings.LastIndex(raw, "&signature=")
		require.Positive(t, idx)
		assert.Equal(t, auth.Sign(raw[:idx]), raw[idx+len("&signature="):])

		q, err := url.ParseQuery(raw)
		require.NoError(t, err)
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "BUY", q.Get("side"))
		assert.Equal(t, "LIMIT", q.Get("type"))
		assert.Equal(t, "GTC", q.Get("timeInForce"))
		assert.Equal(t, "0.01000000", q.Get("quantity"))
		assert.Equal(t, "50000.00000000", q.Get("price"))
		assert.Equal(t, "1700000000000", q.Get("timestamp"))

		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"status":"NEW","executedQty":"0","cummulativeQuoteQty":"0"}`))
	})
	c.SetCredentials(auth)
	require.True(t, c.HasCredentials())

	got, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: domain.SymbolBTCUSDT, Side: domain.OrderSideBuy, Price: 50000, Quantity: 0.01,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.ID)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
}

func TestPlaceMarketOrderAveragesFills(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "MARKET", q.Get("type"))
		assert.Equal(t, "SELL", q.Get("side"))
		assert.Empty(t, q.Get("price"))
		assert.Empty(t, q.Get("timeInForce"))
		_, _ = w.Write([]byte(`{"orderId":7,"status":"PARTIALLY_FILLED","executedQty":"2","fills":[{"price":"10","qty":"1"},{"price":"20","qty":"1"}]}`))
	})
	c.SetCredentials(&crypto.HMACAuth{Key: "k", Secret: "s"})

	got, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: domain.SymbolETHUSDT, Side: domain.OrderSideSell, Quantity: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, got.Status)
	assert.InDelta(t, 2, got.ExecutedQty, 1e-9)
	assert.InDelta(t, 15, got.AveragePrice, 1e-9)
}

func TestCancelAndQueryCarryOrderID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "99", r.URL.Query().Get("orderId"))
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		switch r.Method {
		case http.MethodDelete:
			_, _ = w.Write([]byte(`{"orderId":99,"status":"CANCELED","executedQty":"0"}`))
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"orderId":99,"status":"FILLED","executedQty":"1","cummulativeQuoteQty":"3000"}`))
		}
	})
	c.SetCredentials(&crypto.HMACAuth{Key: "k", Secret: "s"})

	cancelled, err := c.CancelOrder(context.Background(), domain.SymbolETHUSDT, 99)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	queried, err := c.QueryOrder(context.Background(), domain.SymbolETHUSDT, 99)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, queried.Status)
	assert.InDelta(t, 3000, queried.AveragePrice, 1e-9)
}

func TestAPIErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"bad signature", http.StatusBadRequest, `{"code":-1022,"msg":"Signature for this request is not valid."}`, domain.ErrAuth},
		{"unknown order", http.StatusBadRequest, `{"code":-2013,"msg":"Order does not exist."}`, domain.ErrNotFound},
		{"too many requests", http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`, domain.ErrRateLimited},
		{"bad param", http.StatusBadRequest, `{"code":-1100,"msg":"Illegal characters"}`, domain.ErrValidation},
		{"gateway", http.StatusBadGateway, `<html>bad gateway</html>`, domain.ErrConnectivity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			c.SetCredentials(&crypto.HMACAuth{Key: "k", Secret: "s"})

			_, err := c.QueryOrder(context.Background(), domain.SymbolBTCUSDT, 1)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			var apiErr *APIError
			assert.ErrorAs(t, err, &apiErr)
		})
	}
}

func TestUnreachableHostIsConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient(base, 200*time.Millisecond)
	_, err := c.Depth(context.Background(), domain.SymbolBTCUSDT)
	assert.ErrorIs(t, err, domain.ErrConnectivity)
}

func TestAccountBalances(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		_, _ = w.Write([]byte(`{"canTrade":true,"balances":[{"asset":"BTC","free":"0.5","locked":"0.1"},{"asset":"USDT","free":"100","locked":"0"}]}`))
	})
	c.SetCredentials(&crypto.HMACAuth{Key: "k", Secret: "s"})

	acct, err := c.Account(context.Background())
	require.NoError(t, err)
	assert.True(t, acct.CanTrade)
	assert.InDelta(t, 0.5, acct.Free("BTC"), 1e-9)
	assert.InDelta(t, 100, acct.Free("USDT"), 1e-9)
	assert.Zero(t, acct.Free("ETH"))
}
