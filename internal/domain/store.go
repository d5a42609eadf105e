package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	// Event narrows audit listings to one event name. Order listings
	// ignore it.
	Event string
}

// OrderStore persists the executor's orders.
type OrderStore interface {
	Upsert(ctx context.Context, order Order) error
	UpdateStatus(ctx context.Context, id uint64, status OrderStatus, filledQty, avgPrice float64) error
	GetByID(ctx context.Context, id uint64) (Order, error)
	List(ctx context.Context, opts ListOpts) ([]Order, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// StrategyConfig is a persisted parameter set for one strategy type.
type StrategyConfig struct {
	Type      StrategyType   `json:"type"`
	Params    StrategyParams `json:"params"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StrategyConfigStore persists strategy parameters across restarts.
type StrategyConfigStore interface {
	Get(ctx context.Context, typ StrategyType) (StrategyConfig, error)
	Upsert(ctx context.Context, cfg StrategyConfig) error
}
