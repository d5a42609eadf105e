package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoquant/internal/crypto"
	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubExchange records every call and answers from canned responses.
type stubExchange struct {
	mu        sync.Mutex
	calls     []string
	auth      *crypto.HMACAuth
	accErr    error
	placeResp domain.ExchangeOrder
	placeErr  error
	cancelErr error
	queryResp domain.ExchangeOrder
	nextID    uint64
	book      domain.OrderBook
	requests  []domain.OrderRequest
}

func (s *stubExchange) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *stubExchange) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubExchange) SetCredentials(auth *crypto.HMACAuth) { s.auth = auth }
func (s *stubExchange) HasCredentials() bool                 { return s.auth.Valid() }

func (s *stubExchange) Account(context.Context) (domain.Account, error) {
	s.record("account")
	if s.accErr != nil {
		return domain.Account{}, s.accErr
	}
	return domain.Account{CanTrade: true, Balances: []domain.Balance{{Asset: "BTC", Free: 1.25}, {Asset: "USDT", Free: 500}}}, nil
}

func (s *stubExchange) Depth(context.Context, domain.Symbol) (domain.OrderBook, error) {
	s.record("depth")
	return s.book, nil
}

func (s *stubExchange) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.ExchangeOrder, error) {
	s.record("place")
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.placeErr != nil {
		return domain.ExchangeOrder{}, s.placeErr
	}
	resp := s.placeResp
	if resp.ID == 0 {
		s.nextID++
		resp.ID = 1000 + s.nextID
	}
	resp.Symbol = req.Symbol
	if resp.Status == "" {
		resp.Status = domain.OrderStatusPending
	}
	return resp, nil
}

func (s *stubExchange) CancelOrder(_ context.Context, sym domain.Symbol, id uint64) (domain.ExchangeOrder, error) {
	s.record("cancel")
	if s.cancelErr != nil {
		return domain.ExchangeOrder{}, s.cancelErr
	}
	return domain.ExchangeOrder{ID: id, Symbol: sym, Status: domain.OrderStatusCancelled}, nil
}

func (s *stubExchange) QueryOrder(_ context.Context, sym domain.Symbol, id uint64) (domain.ExchangeOrder, error) {
	s.record("query")
	resp := s.queryResp
	resp.ID, resp.Symbol = id, sym
	return resp, nil
}

var testAuth = &crypto.HMACAuth{Key: "key", Secret: "secret"}

func newTestExecutor(t *testing.T, ex *stubExchange, params domain.RiskParams) (*OrderExecutor, *service.RiskService) {
	t.Helper()
	risk := service.NewRiskService(params, nil, testLogger())
	e := NewOrderExecutor(ex, risk, testLogger())
	return e, risk
}

func connected(t *testing.T, ex *stubExchange, params domain.RiskParams) (*OrderExecutor, *service.RiskService) {
	t.Helper()
	e, risk := newTestExecutor(t, ex, params)
	require.NoError(t, e.Connect(context.Background(), testAuth))
	return e, risk
}

func TestConnectRequiresCredentials(t *testing.T) {
	ex := &stubExchange{}
	e, _ := newTestExecutor(t, ex, domain.DefaultRiskParams())

	err := e.Connect(context.Background(), &crypto.HMACAuth{Key: "only-key"})
	assert.ErrorIs(t, err, domain.ErrAuth)
	state, _ := e.State()
	assert.Equal(t, StateError, state)
	assert.Zero(t, ex.callCount())
}

func TestConnectAccountFailureIsError(t *testing.T) {
	ex := &stubExchange{accErr: domain.ErrAuth}
	e, _ := newTestExecutor(t, ex, domain.DefaultRiskParams())

	require.Error(t, e.Connect(context.Background(), testAuth))
	state, msg := e.State()
	assert.Equal(t, StateError, state)
	assert.NotEmpty(t, msg)
}

func TestSubmitOverMaxOrderSizeMakesNoCall(t *testing.T) {
	ex := &stubExchange{}
	e, _ := connected(t, ex, domain.RiskParams{MaxPositionSize: 100, MaxDailyLoss: 100, MaxOrderSize: 1, MaxOrdersPerMinute: 10})
	before := ex.callCount()

	res := e.SubmitOrder(context.Background(), domain.SymbolBTCUSDT, domain.OrderSideBuy, 50000, 2)
	assert.Equal(t, domain.ExecutionFailed, res.Status)
	assert.Contains(t, res.Error, "max order size")
	assert.Equal(t, before, ex.callCount())
	assert.Empty(t, e.GetOrderHistory(0))
}

func TestSubmitWhenDisconnectedFails(t *testing.T) {
	ex := &stubExchange{}
	e, _ := newTestExecutor(t, ex, domain.DefaultRiskParams())
	res := e.SubmitOrder(context.Background(), domain.SymbolBTCUSDT, domain.OrderSideBuy, 1, 1)
	assert.Equal(t, domain.ExecutionFailed, res.Status)
	assert.Zero(t, ex.callCount())
}

func TestSubmitRecordsOrder(t *testing.T) {
	ex := &stubExchange{}
	e, _ := connected(t, ex, domain.DefaultRiskParams())

	res := e.SubmitOrder(context.Background(), domain.SymbolETHUSDT, domain.OrderSideSell, 3000, 0.5)
	require.Equal(t, domain.ExecutionSuccess, res.Status)
	assert.NotZero(t, res.OrderID)

	o, ok := e.Order(res.OrderID)
	require.True(t, ok)
	assert.Equal(t, domain.SymbolETHUSDT, o.Symbol)
	assert.Equal(t, domain.OrderTypeLimit, o.Type)
	assert.Equal(t, domain.OrderStatusPending, o.Status)

	res = e.SubmitOrder(context.Background(), domain.SymbolETHUSDT, domain.OrderSideBuy, 0, 0.1)
	require.Equal(t, domain.ExecutionSuccess, res.Status)
	o, _ = e.Order(res.OrderID)
	assert.Equal(t, domain.OrderTypeMarket, o.Type)
	assert.Len(t, e.GetOrderHistory(0), 2)
	assert.Len(t, e.GetOrderHistory(1), 1)
}

func TestSubmitPartialFill(t *testing.T) {
	ex := &stubExchange{placeResp: domain.ExchangeOrder{Status: domain.OrderStatusPartiallyFilled, ExecutedQty: 0.4, AveragePrice: 100}}
	e, risk := connected(t, ex, domain.DefaultRiskParams())

	res := e.SubmitOrder(context.Background(), domain.SymbolBTCUSDT, domain.OrderSideBuy, 100, 1)
	assert.Equal(t, domain.ExecutionPartial, res.Status)
	assert.InDelta(t, 0.4, res.FilledQuantity, 1e-9)
	assert.InDelta(t, 0.4, risk.Position(domain.SymbolBTCUSDT), 1e-9)
}

func TestSubmitExchangeErrorFails(t *testing.T) {
	ex := &stubExchange{placeErr: errors.New("binance: api error -2010: Account has insufficient balance")}
	e, _ := connected(t, ex, domain.DefaultRiskParams())

	res := e.SubmitOrder(context.Background(), domain.SymbolBTCUSDT, domain.OrderSideBuy, 100, 1)
	assert.Equal(t, domain.ExecutionFailed, res.Status)
	assert.Contains(t, res.Error, "insufficient balance")
	assert.Empty(t, e.GetOrderHistory(0))
}

func TestCancelUnknownOrder(t *testing.T) {
	ex := &stubExchange{}
	e, _ := connected(t, ex, domain.DefaultRiskParams())
	res := e.SubmitOrder(context.Background(), domain.SymbolBTCUSDT, domain.OrderSideBuy, 100, 1)
	require.Equal(t, domain.ExecutionSuccess, res.Status)

	before := e.GetOrderHistory(0)
	calls := ex.callCount()
	assert.False(t, e.CancelOrder(context.Background(), 424242))
	assert.Equal(t, before, e.GetOrderHistory(0))
	assert.Equal(t, calls, ex.callCount())
}

func TestCancelKnownOrder(t *testing.T) {
	ex := &stubExchange{}
	e, _ := connected(t, ex, domain.DefaultRiskParams())
	res := e.SubmitOrder(context.Background(), domain.SymbolBTCETH, domain.OrderSideBuy, 0.05, 1)

	assert.True(t, e.CancelOrder(context.Background(), res.OrderID))
	o, _ := e.Order(res.OrderID)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
}

func TestCancelRejectedByExchange(t *testing.T) {
	ex := &stubExchange{cancelErr: domain.ErrNotFound}
	e, _ := connected(t, ex, domain.DefaultRiskParams())
	res := e.SubmitOrder(context.Background(), domain.SymbolBTCUSDT, domain.OrderSideBuy, 100, 1)

	assert.False(t, e.CancelOrder(context.Background(), res.OrderID))
	o, _ := e.Order(res.OrderID)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
}

func TestGetOrderStatusRefreshes(t *testing.T) {
	ex := &stubExchange{queryResp: domain.ExchangeOrder{Status: domain.OrderStatusFilled, ExecutedQty: 1, AveragePrice: 101}}
	e, risk := connected(t, ex, domain.DefaultRiskParams())
	res := e.SubmitOrder(context.Background(), domain.SymbolBTCUSDT, domain.OrderSideBuy, 100, 1)

	status := e.GetOrderStatus(context.Background(), res.OrderID)
	assert.Equal(t, domain.OrderStatusFilled, status.OrderStatus)
	assert.InDelta(t, 101, status.AveragePrice, 1e-9)
	assert.InDelta(t, 1, risk.Position(domain.SymbolBTCUSDT), 1e-9)

	// Terminal orders are not queried again.
	calls := ex.callCount()
	e.GetOrderStatus(context.Background(), res.OrderID)
	assert.Equal(t, calls, ex.callCount())

	missing := e.GetOrderStatus(context.Background(), 1)
	assert.Equal(t, domain.ExecutionFailed, missing.Status)
}

func TestRateLimitEnforced(t *testing.T) {
	ex := &stubExchange{}
	e, _ := connected(t, ex, domain.RiskParams{MaxPositionSize: 1000, MaxDailyLoss: 1000, MaxOrderSize: 10, MaxOrdersPerMinute: 3})

	for i := 0; i < 3; i++ {
		res := e.SubmitOrder(context.Background(), domain.SymbolBTCUSDT, domain.OrderSideBuy, 100, 1)
		require.Equal(t, domain.ExecutionSuccess, res.Status, "order %d", i)
	}
	res := e.SubmitOrder(context.Background(), domain.SymbolBTCUSDT, domain.OrderSideBuy, 100, 1)
	assert.Equal(t, domain.ExecutionFailed, res.Status)
	assert.Contains(t, res.Error, domain.ErrRiskLimit.Error())
}

func TestBalanceAndPosition(t *testing.T) {
	ex := &stubExchange{}
	e, _ := connected(t, ex, domain.DefaultRiskParams())

	bal, err := e.GetBalance(context.Background(), domain.SymbolBTCUSDT)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, bal, 1e-9)
	assert.Zero(t, e.GetPosition(domain.SymbolBTCUSDT))

	e.Disconnect()
	_, err = e.GetBalance(context.Background(), domain.SymbolBTCUSDT)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestTestOrderProbe(t *testing.T) {
	ex := &stubExchange{book: domain.OrderBook{
		Symbol: domain.SymbolBTCUSDT,
		Bids:   []domain.PriceLevel{{Price: 50000, Quantity: 1}},
		Asks:   []domain.PriceLevel{{Price: 50001, Quantity: 1}},
	}}
	e, _ := connected(t, ex, domain.DefaultRiskParams())

	require.NoError(t, e.TestOrder(context.Background(), domain.SymbolBTCUSDT))
	require.Len(t, ex.requests, 1)
	assert.InDelta(t, 47500, ex.requests[0].Price, 1e-6)
	assert.InDelta(t, 0.0001, ex.requests[0].Quantity, 1e-12)
	assert.Contains(t, ex.calls, "cancel")
}

func TestSetRiskParamsValidates(t *testing.T) {
	e, _ := newTestExecutor(t, &stubExchange{}, domain.DefaultRiskParams())
	assert.ErrorIs(t, e.SetRiskParams(domain.RiskParams{}), domain.ErrValidation)
	p := domain.DefaultRiskParams()
	p.MaxOrderSize = 5
	require.NoError(t, e.SetRiskParams(p))
	assert.Equal(t, 5.0, e.RiskParams().MaxOrderSize)
}
