// Package feed turns exchange market-data sources into a continuous,
// per-symbol stream of order book snapshots.
package feed

import (
	"context"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/platform/binance"
)

// StreamSource pushes snapshots until the connection fails or ctx ends.
// Stream always returns a non-nil error.
type StreamSource interface {
	Name() string
	Stream(ctx context.Context, sym domain.Symbol, handler func(domain.OrderBook)) error
}

// SnapshotSource pulls a single snapshot on demand.
type SnapshotSource interface {
	Name() string
	Snapshot(ctx context.Context, sym domain.Symbol) (domain.OrderBook, error)
}

// Source names reported in Status and metrics.
const (
	SourceWebSocket = "websocket"
	SourceREST      = "rest"
	SourceSynthetic = "synthetic"
)

type depthStream struct {
	ds *binance.DepthStream
}

// NewBinanceStream adapts the exchange depth stream.
func NewBinanceStream(ds *binance.DepthStream) StreamSource {
	return depthStream{ds: ds}
}

func (s depthStream) Name() string { return SourceWebSocket }

func (s depthStream) Stream(ctx context.Context, sym domain.Symbol, handler func(domain.OrderBook)) error {
	return s.ds.Stream(ctx, sym, handler)
}

type depthSnapshot struct {
	client *binance.Client
}

// NewBinanceSnapshots adapts the REST depth endpoint.
func NewBinanceSnapshots(client *binance.Client) SnapshotSource {
	return depthSnapshot{client: client}
}

func (s depthSnapshot) Name() string { return SourceREST }

func (s depthSnapshot) Snapshot(ctx context.Context, sym domain.Symbol) (domain.OrderBook, error) {
	return s.client.Depth(ctx, sym)
}
