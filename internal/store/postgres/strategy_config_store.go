package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// StrategyConfigStore keeps the last parameters applied per strategy type
// so a restart resumes with them.
type StrategyConfigStore struct {
	pool *pgxpool.Pool
}

// NewStrategyConfigStore creates a StrategyConfigStore on pool.
func NewStrategyConfigStore(pool *pgxpool.Pool) *StrategyConfigStore {
	return &StrategyConfigStore{pool: pool}
}

// Get returns the saved parameters for typ or domain.ErrNotFound.
func (s *StrategyConfigStore) Get(ctx context.Context, typ domain.StrategyType) (domain.StrategyConfig, error) {
	var (
		cfg    = domain.StrategyConfig{Type: typ}
		params []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT params, updated_at FROM strategy_configs WHERE strategy_type = $1`, string(typ),
	).Scan(&params, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StrategyConfig{}, fmt.Errorf("postgres: strategy config %s: %w", typ, domain.ErrNotFound)
		}
		return domain.StrategyConfig{}, fmt.Errorf("postgres: get strategy config %s: %w", typ, err)
	}
	if err := json.Unmarshal(params, &cfg.Params); err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("postgres: unmarshal strategy config %s: %w", typ, err)
	}
	return cfg, nil
}

// Upsert saves cfg.Params under cfg.Type.
func (s *StrategyConfigStore) Upsert(ctx context.Context, cfg domain.StrategyConfig) error {
	params, err := json.Marshal(cfg.Params)
	if err != nil {
		return fmt.Errorf("postgres: marshal strategy config %s: %w", cfg.Type, err)
	}
	const query = `
		INSERT INTO strategy_configs (strategy_type, params, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (strategy_type) DO UPDATE SET
			params     = EXCLUDED.params,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, string(cfg.Type), params); err != nil {
		return fmt.Errorf("postgres: upsert strategy config %s: %w", cfg.Type, err)
	}
	return nil
}

var _ domain.StrategyConfigStore = (*StrategyConfigStore)(nil)
