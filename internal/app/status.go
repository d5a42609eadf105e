package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/executor"
	"github.com/alanyoungcy/cryptoquant/internal/feed"
	"github.com/alanyoungcy/cryptoquant/internal/orderbook"
	"github.com/alanyoungcy/cryptoquant/internal/service"
	"github.com/alanyoungcy/cryptoquant/internal/strategy"
)

// statusInterval is how often the snapshot is pushed on the status channel.
const statusInterval = 5 * time.Second

// Status is the runtime snapshot served on /api/status and pushed to
// dashboard clients.
type Status struct {
	Mode      string             `json:"mode"`
	StartedAt time.Time          `json:"started_at"`
	Uptime    string             `json:"uptime"`
	Degraded  bool               `json:"degraded"`
	Feeds     []feed.Status      `json:"feeds,omitempty"`
	Books     []BookSummary      `json:"books,omitempty"`
	Strategy  *StrategyStatus    `json:"strategy,omitempty"`
	Executor  *ExecutorStatus    `json:"executor,omitempty"`
	Risk      *service.RiskState `json:"risk,omitempty"`
}

// BookSummary is the top of one stored book.
type BookSummary struct {
	Symbol    domain.Symbol `json:"symbol"`
	BestBid   float64       `json:"best_bid"`
	BestAsk   float64       `json:"best_ask"`
	MidPrice  float64       `json:"mid_price"`
	Spread    float64       `json:"spread"`
	Timestamp uint64        `json:"timestamp"`
}

// StrategyStatus describes the engine.
type StrategyStatus struct {
	Name   string                `json:"name"`
	Status domain.StrategyStatus `json:"status"`
}

// ExecutorStatus describes the exchange connection.
type ExecutorStatus struct {
	State     executor.ConnState `json:"state"`
	LastError string             `json:"last_error,omitempty"`
}

// statusSource assembles Status from whichever components the mode built.
// Every component is optional.
type statusSource struct {
	mode    string
	started time.Time

	fetcher *feed.Fetcher
	store   *orderbook.Store
	engine  *strategy.Engine
	exec    *executor.OrderExecutor
	risk    *service.RiskService
}

// Status implements handler.StatusProvider.
func (s *statusSource) Status(context.Context) any {
	return s.snapshot()
}

func (s *statusSource) snapshot() Status {
	st := Status{
		Mode:      s.mode,
		StartedAt: s.started,
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
	}
	if s.fetcher != nil {
		st.Feeds = s.fetcher.Statuses()
		st.Degraded = s.fetcher.Degraded()
	}
	if s.store != nil {
		for _, sym := range s.store.Symbols() {
			st.Books = append(st.Books, BookSummary{
				Symbol:    sym,
				BestBid:   s.store.BestBid(sym),
				BestAsk:   s.store.BestAsk(sym),
				MidPrice:  s.store.MidPrice(sym),
				Spread:    s.store.Spread(sym),
				Timestamp: s.store.Timestamp(sym),
			})
		}
	}
	if s.engine != nil {
		st.Strategy = &StrategyStatus{Name: s.engine.ActiveName(), Status: s.engine.Status()}
	}
	if s.exec != nil {
		state, lastErr := s.exec.State()
		st.Executor = &ExecutorStatus{State: state, LastError: lastErr}
	}
	if s.risk != nil {
		rs := s.risk.State()
		st.Risk = &rs
	}
	return st
}

// publish pushes the snapshot on the status channel until ctx ends.
func (s *statusSource) publish(ctx context.Context, bus domain.SignalBus, logger *slog.Logger) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			payload, err := json.Marshal(s.snapshot())
			if err != nil {
				continue
			}
			if err := bus.Publish(ctx, domain.ChannelStatus, payload); err != nil {
				logger.DebugContext(ctx, "status publish failed", slog.String("error", err.Error()))
			}
		}
	}
}
