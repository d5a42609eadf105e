// Package strategy turns order book snapshots into trading signals.
package strategy

import (
	"context"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// Strategy defines the contract for trading strategies. Implementations
// keep independent rolling state per symbol and are safe for concurrent use.
type Strategy interface {
	Name() string
	Type() domain.StrategyType
	Init(ctx context.Context) error
	// OnBookUpdate returns a signal of type SignalNone when there is nothing
	// to do, including while the strategy is not running.
	OnBookUpdate(ctx context.Context, book domain.OrderBook) (domain.Signal, error)
	Status() domain.StrategyStatus
	SetStatus(status domain.StrategyStatus)
	Params() domain.StrategyParams
	SetParams(params domain.StrategyParams) error
	Close() error
}
