package domain

import (
	"context"
	"time"
)

// BookCache mirrors the latest order book per symbol outside the process.
type BookCache interface {
	SetBook(ctx context.Context, book OrderBook) error
	GetBook(ctx context.Context, symbol Symbol) (OrderBook, error)
	GetBBO(ctx context.Context, symbol Symbol) (bestBid, bestAsk float64, err error)
}

// RateLimiter provides sliding-window rate limiting shared across processes.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus is a fire-and-forget pub/sub transport.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Bus channel names.
const (
	ChannelBookPrefix = "book:"
	ChannelSignal     = "signal"
	ChannelOrder      = "order"
	ChannelStatus     = "status"
)

// BookChannel returns the pub/sub channel carrying snapshots for symbol.
func BookChannel(symbol Symbol) string {
	return ChannelBookPrefix + string(symbol)
}
