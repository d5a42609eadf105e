package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/cq?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "cq", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := listQuery("SELECT id FROM t WHERE symbol = $1", []any{"BTC_USDT"},
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20})
	assert.Equal(t, "SELECT id FROM t WHERE symbol = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{"BTC_USDT", since, 10, 20}, args)

	q, args = listQuery("SELECT id FROM t WHERE 1=1", nil, domain.ListOpts{})
	assert.Equal(t, "SELECT id FROM t WHERE 1=1 ORDER BY created_at DESC", q)
	assert.Empty(t, args)
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql"}, names)
}

// testClient connects to CRYPTOQUANT_TEST_POSTGRES_DSN and skips when unset.
func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("CRYPTOQUANT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CRYPTOQUANT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations are idempotent")
	_, err = c.Pool().Exec(ctx, `TRUNCATE orders, audit_log, strategy_configs`)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestOrderStoreLifecycle(t *testing.T) {
	c := testClient(t)
	s := NewOrderStore(c.Pool())
	ctx := context.Background()
	created := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Microsecond)

	o := domain.Order{
		ID: 1 << 40, Symbol: domain.SymbolBTCUSDT, Side: domain.OrderSideSell, Type: domain.OrderTypeLimit,
		Price: 50000.12345678, Quantity: 0.01, Status: domain.OrderStatusPending,
		Strategy: "rsi", CreatedAt: created,
	}
	require.NoError(t, s.Upsert(ctx, o))

	require.NoError(t, s.UpdateStatus(ctx, o.ID, domain.OrderStatusFilled, 0.01, 50001))
	assert.ErrorIs(t, s.UpdateStatus(ctx, 42, domain.OrderStatusFilled, 0, 0), domain.ErrNotFound)

	got, err := s.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSideSell, got.Side)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
	assert.InDelta(t, 50000.12345678, got.Price, 1e-8)
	assert.Equal(t, "rsi", got.Strategy)

	_, err = s.GetByID(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cutoff := time.Now().Add(-24 * time.Hour)
	old, err := s.List(ctx, domain.ListOpts{Until: &cutoff, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, old, 1)

	n, err := s.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAuditAndStrategyConfig(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	audit := NewAuditStore(c.Pool())
	require.NoError(t, audit.Log(ctx, "order_placed", map[string]any{"order_id": 7}))
	entries, err := audit.List(ctx, domain.ListOpts{Limit: 5})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "order_placed", entries[0].Event)
	assert.EqualValues(t, 7, entries[0].Detail["order_id"])

	require.NoError(t, audit.Log(ctx, "risk_rejected", nil))
	entries, err = audit.List(ctx, domain.ListOpts{Event: "risk_rejected"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Detail)
	assert.ErrorIs(t, audit.Log(ctx, "", nil), domain.ErrValidation)

	cfgs := NewStrategyConfigStore(c.Pool())
	_, err = cfgs.Get(ctx, domain.StrategyRSI)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	p := domain.DefaultStrategyParams()
	p.Type, p.RSIPeriod = domain.StrategyRSI, 9
	require.NoError(t, cfgs.Upsert(ctx, domain.StrategyConfig{Type: domain.StrategyRSI, Params: p}))
	got, err := cfgs.Get(ctx, domain.StrategyRSI)
	require.NoError(t, err)
	assert.Equal(t, p, got.Params)
}
