package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/notify"
)

type fakeSubmitter struct {
	result  domain.ExecutionResult
	orders  map[uint64]domain.Order
	refresh map[uint64]domain.Order
	cancel  bool

	submitted []domain.OrderRequest
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{orders: map[uint64]domain.Order{}, refresh: map[uint64]domain.Order{}}
}

func (f *fakeSubmitter) SubmitOrder(_ context.Context, sym domain.Symbol, side domain.OrderSide, price, qty float64) domain.ExecutionResult {
	f.submitted = append(f.submitted, domain.OrderRequest{Symbol: sym, Side: side, Price: price, Quantity: qty})
	if f.result.Status == domain.ExecutionSuccess {
		f.orders[f.result.OrderID] = domain.Order{
			ID: f.result.OrderID, Symbol: sym, Side: side, Price: price, Quantity: qty,
			Status: f.result.OrderStatus, FilledQuantity: f.result.FilledQuantity, AveragePrice: f.result.AveragePrice,
		}
	}
	return f.result
}

func (f *fakeSubmitter) CancelOrder(_ context.Context, id uint64) bool {
	if !f.cancel {
		return false
	}
	o := f.orders[id]
	o.Status = domain.OrderStatusCancelled
	f.orders[id] = o
	return true
}

func (f *fakeSubmitter) RefreshOrder(_ context.Context, id uint64) (domain.Order, error) {
	if o, ok := f.refresh[id]; ok {
		f.orders[id] = o
		return o, nil
	}
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (f *fakeSubmitter) Order(id uint64) (domain.Order, bool) {
	o, ok := f.orders[id]
	return o, ok
}

func (f *fakeSubmitter) GetOrderHistory(int) []domain.Order {
	out := make([]domain.Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, o)
	}
	return out
}

type orderFixture struct {
	sub    *fakeSubmitter
	store  *memOrderStore
	audit  *memAudit
	bus    *memBus
	sender *recordingNotifier
	svc    *OrderService
}

type recordingNotifier struct{ titles []string }

func (r *recordingNotifier) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingNotifier) Name() string { return "recording" }

func newOrderFixture() *orderFixture {
	f := &orderFixture{
		sub:    newFakeSubmitter(),
		store:  newMemOrderStore(),
		audit:  &memAudit{},
		bus:    &memBus{},
		sender: &recordingNotifier{},
	}
	n := notify.NewNotifier([]notify.Sender{f.sender}, nil, testLogger())
	f.svc = NewOrderService(f.sub, f.store, f.audit, f.bus, n, testLogger())
	return f
}

func buySignal() domain.Signal {
	return domain.Signal{
		ID: "sig-1", Type: domain.SignalBuy, Symbol: domain.SymbolBTCUSDT,
		Price: 50000, Quantity: 0.01, Source: "mean_reversion", Timestamp: time.Now(),
	}
}

func TestPlaceOrderPersistsAndPublishes(t *testing.T) {
	f := newOrderFixture()
	f.sub.result = domain.ExecutionResult{Status: domain.ExecutionSuccess, OrderID: 7, OrderStatus: domain.OrderStatusPending}

	res, err := f.svc.PlaceOrder(context.Background(), buySignal())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res.OrderID)

	require.Len(t, f.sub.submitted, 1)
	assert.Equal(t, domain.OrderRequest{Symbol: domain.SymbolBTCUSDT, Side: domain.OrderSideBuy, Price: 50000, Quantity: 0.01}, f.sub.submitted[0])

	stored, err := f.store.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "mean_reversion", stored.Strategy)
	assert.Equal(t, []string{AuditOrderPlaced}, f.audit.all())

	msgs := f.bus.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.ChannelOrder, msgs[0].channel)
	var evt OrderEvent
	require.NoError(t, json.Unmarshal(msgs[0].payload, &evt))
	assert.Equal(t, AuditOrderPlaced, evt.Event)
	assert.Equal(t, "BUY", evt.Side)
	assert.Empty(t, f.sender.titles, "pending orders do not notify")
}

func TestPlaceOrderFilledNotifies(t *testing.T) {
	f := newOrderFixture()
	f.sub.result = domain.ExecutionResult{Status: domain.ExecutionSuccess, OrderID: 8, OrderStatus: domain.OrderStatusFilled, FilledQuantity: 0.01, AveragePrice: 50001}

	_, err := f.svc.PlaceOrder(context.Background(), buySignal())
	require.NoError(t, err)
	assert.Equal(t, []string{"Order filled"}, f.sender.titles)
}

func TestPlaceOrderRejection(t *testing.T) {
	f := newOrderFixture()
	f.sub.result = domain.Failed("risk_service: " + domain.ErrRiskLimit.Error() + ": 61 orders in the last minute")

	res, err := f.svc.PlaceOrder(context.Background(), buySignal())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, res.Status)
	assert.Equal(t, []string{AuditOrderRejected}, f.audit.all())
	assert.Equal(t, []string{"Risk limit hit"}, f.sender.titles)

	orders, err := f.store.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPlaceOrderNonActionable(t *testing.T) {
	f := newOrderFixture()
	sig := buySignal()
	sig.Type = domain.SignalHold
	_, err := f.svc.PlaceOrder(context.Background(), sig)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, f.sub.submitted)
}

func TestCancelOrder(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.CancelOrder(ctx, 99), domain.ErrNotFound)

	f.sub.result = domain.ExecutionResult{Status: domain.ExecutionSuccess, OrderID: 9, OrderStatus: domain.OrderStatusPending}
	_, err := f.svc.PlaceOrder(ctx, buySignal())
	require.NoError(t, err)

	assert.Error(t, f.svc.CancelOrder(ctx, 9), "exchange refused")
	f.sub.cancel = true
	require.NoError(t, f.svc.CancelOrder(ctx, 9))

	stored, err := f.store.GetByID(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
	assert.Contains(t, f.audit.all(), AuditOrderCancelled)
}

func TestReconcileRecordsFills(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	f.sub.result = domain.ExecutionResult{Status: domain.ExecutionSuccess, OrderID: 10, OrderStatus: domain.OrderStatusPending}
	_, err := f.svc.PlaceOrder(ctx, buySignal())
	require.NoError(t, err)

	assert.Zero(t, f.svc.Reconcile(ctx))

	filled := f.sub.orders[10]
	filled.Status, filled.FilledQuantity, filled.AveragePrice = domain.OrderStatusFilled, 0.01, 49990
	f.sub.refresh[10] = filled

	assert.Equal(t, 1, f.svc.Reconcile(ctx))
	stored, err := f.store.GetByID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, stored.Status)
	assert.InDelta(t, 49990, stored.AveragePrice, 1e-9)
	assert.Equal(t, []string{"Order filled"}, f.sender.titles)

	// Terminal orders are not refreshed again.
	assert.Zero(t, f.svc.Reconcile(ctx))
}

func TestGetOrderFallsBackToStore(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	require.NoError(t, f.store.Upsert(ctx, domain.Order{ID: 11, Symbol: domain.SymbolETHUSDT, Status: domain.OrderStatusFilled}))

	o, err := f.svc.GetOrder(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, domain.SymbolETHUSDT, o.Symbol)

	_, err = f.svc.GetOrder(ctx, 12)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListOrdersWithoutStore(t *testing.T) {
	sub := newFakeSubmitter()
	sub.orders[1] = domain.Order{ID: 1}
	svc := NewOrderService(sub, nil, nil, nil, nil, testLogger())

	orders, err := svc.ListOrders(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}
