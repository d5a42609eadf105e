package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// Factory builds a fresh strategy instance from a parameter set.
type Factory func(params domain.StrategyParams, logger *slog.Logger) Strategy

// Registry maps strategy types to factories. It is safe for concurrent use.
type Registry struct {
	factories map[domain.StrategyType]Factory
	logger    *slog.Logger
	mu        sync.RWMutex
}

// NewRegistry returns a Registry with the built-in strategies registered.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		factories: make(map[domain.StrategyType]Factory),
		logger:    logger,
	}
	r.Register(domain.StrategyMeanReversion, func(p domain.StrategyParams, l *slog.Logger) Strategy {
		return NewMeanReversion(p, l)
	})
	r.Register(domain.StrategyMomentum, func(p domain.StrategyParams, l *slog.Logger) Strategy {
		return NewMomentum(p, l)
	})
	r.Register(domain.StrategyRSI, func(p domain.StrategyParams, l *slog.Logger) Strategy {
		return NewRSI(p, l)
	})
	return r
}

// Register adds a factory under typ, replacing any existing one.
func (r *Registry) Register(typ domain.StrategyType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Build creates a strategy of params.Type. The parameters are validated.
func (r *Registry) Build(params domain.StrategyParams) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[params.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w: not registered", params.Type, domain.ErrValidation)
	}
	s := f(params, r.logger)
	if err := s.SetParams(params); err != nil {
		return nil, err
	}
	return s, nil
}

// List returns the registered strategy types in sorted order.
func (r *Registry) List() []domain.StrategyType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.StrategyType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
