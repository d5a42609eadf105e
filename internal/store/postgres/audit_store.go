package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// AuditStore implements domain.AuditStore on the append-only audit_log
// table. Detail maps round-trip through the JSONB column via pgx's JSON
// codec.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one entry. A nil detail is stored as SQL NULL.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	if event == "" {
		return fmt.Errorf("postgres: %w: audit event is required", domain.ErrValidation)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, detail,
	); err != nil {
		return fmt.Errorf("postgres: append audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first, optionally narrowed to opts.Event.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	base, args := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`, []any(nil)
	if opts.Event != "" {
		args = append(args, opts.Event)
		base += fmt.Sprintf(" AND event = $%d", len(args))
	}
	query, args := listQuery(base, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query audit: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: collect audit: %w", err)
	}
	return entries, nil
}

// DeleteBefore removes entries older than the cutoff.
func (s *AuditStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune audit before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanAuditEntry(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	err := row.Scan(&e.ID, &e.Event, &e.Detail, &e.CreatedAt)
	return e, err
}

var _ domain.AuditStore = (*AuditStore)(nil)
