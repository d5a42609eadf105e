package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// OrderStore implements domain.OrderStore. Rows are keyed by the exchange
// order id.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore on pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, symbol, side, order_type, price, quantity, status,
	filled_quantity, average_price, error, strategy, created_at, updated_at`

// Upsert inserts o or overwrites its mutable columns.
func (s *OrderStore) Upsert(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, symbol, side, order_type, price, quantity, status,
			filled_quantity, average_price, error, strategy, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status          = EXCLUDED.status,
			filled_quantity = EXCLUDED.filled_quantity,
			average_price   = EXCLUDED.average_price,
			error           = EXCLUDED.error,
			strategy        = COALESCE(NULLIF(EXCLUDED.strategy, ''), orders.strategy),
			updated_at      = NOW()`

	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, query,
		int64(o.ID), o.Symbol.String(), o.Side.String(), string(o.Type),
		o.Price, o.Quantity, string(o.Status),
		o.FilledQuantity, o.AveragePrice, o.Error, o.Strategy, created,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %d: %w", o.ID, err)
	}
	return nil
}

// UpdateStatus records a status and fill change.
func (s *OrderStore) UpdateStatus(ctx context.Context, id uint64, status domain.OrderStatus, filledQty, avgPrice float64) error {
	const query = `
		UPDATE orders
		SET status = $1, filled_quantity = $2, average_price = $3, updated_at = NOW()
		WHERE id = $4`
	tag, err := s.pool.Exec(ctx, query, string(status), filledQty, avgPrice, int64(id))
	if err != nil {
		return fmt.Errorf("postgres: update order status %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order status %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns one order or domain.ErrNotFound.
func (s *OrderStore) GetByID(ctx context.Context, id uint64) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, int64(id))
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("postgres: get order %d: %w", id, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %d: %w", id, err)
	}
	return o, nil
}

// List returns orders newest first.
func (s *OrderStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	query, args := listQuery(`SELECT `+orderSelectCols+` FROM orders WHERE 1=1`, nil, opts)
	return s.query(ctx, "list orders", query, args...)
}

// DeleteBefore removes orders created before the cutoff.
func (s *OrderStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete orders before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *OrderStore) query(ctx context.Context, op, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: rows: %w", op, err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                    domain.Order
		id                   int64
		sym, side, typ, stat string
	)
	err := row.Scan(
		&id, &sym, &side, &typ,
		&o.Price, &o.Quantity, &stat,
		&o.FilledQuantity, &o.AveragePrice, &o.Error, &o.Strategy,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.ID = uint64(id)
	o.Symbol = domain.Symbol(sym)
	if o.Side, err = domain.ParseOrderSide(side); err != nil {
		return domain.Order{}, err
	}
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(stat)
	return o, nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
