package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
	"github.com/alanyoungcy/cryptoquant/internal/metrics"
)

const (
	orderRateWindow = time.Minute
	orderRateKey    = "orders"
)

// Risk rejection reasons, used in errors and metrics.
const (
	RiskReasonOrderSize = "order_size"
	RiskReasonDailyLoss = "daily_loss"
	RiskReasonPosition  = "position"
	RiskReasonRate      = "rate"
)

// RiskState is a snapshot of the running risk counters.
type RiskState struct {
	Params           domain.RiskParams         `json:"params"`
	Day              string                    `json:"day"`
	RealizedPnL      float64                   `json:"realized_pnl"`
	OrdersLastMinute int                       `json:"orders_last_minute"`
	Positions        map[domain.Symbol]float64 `json:"positions"`
}

type holding struct {
	qty     float64 // signed, positive long
	avgCost float64
}

// RiskService enforces RiskParams before every submission. It keeps a
// sliding one-minute order window, realized PnL for the current UTC day,
// and the net filled quantity per symbol.
type RiskService struct {
	limiter domain.RateLimiter
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	params   domain.RiskParams
	recent   []time.Time
	day      time.Time
	realized float64
	holdings map[domain.Symbol]*holding
}

// NewRiskService creates a RiskService. limiter may be nil; when set, the
// order rate is also enforced across processes sharing it.
func NewRiskService(params domain.RiskParams, limiter domain.RateLimiter, logger *slog.Logger) *RiskService {
	return &RiskService{
		limiter:  limiter,
		logger:   logger.With(slog.String("component", "risk_service")),
		now:      time.Now,
		params:   params,
		holdings: make(map[domain.Symbol]*holding),
	}
}

// Params returns the current limits.
func (s *RiskService) Params() domain.RiskParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// SetParams replaces the limits. Running counters are kept.
func (s *RiskService) SetParams(p domain.RiskParams) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("risk_service: %w", err)
	}
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()
	s.logger.Info("risk parameters updated",
		slog.Float64("max_order_size", p.MaxOrderSize),
		slog.Float64("max_position_size", p.MaxPositionSize),
		slog.Float64("max_daily_loss", p.MaxDailyLoss),
		slog.Int("max_orders_per_minute", p.MaxOrdersPerMinute),
	)
	return nil
}

// CheckOrderSize is the network-free size check.
func (s *RiskService) CheckOrderSize(qty float64) error {
	s.mu.Lock()
	limit := s.params.MaxOrderSize
	s.mu.Unlock()
	if qty > limit {
		return s.reject(RiskReasonOrderSize, "quantity %.8f exceeds max order size %.8f", qty, limit)
	}
	return nil
}

// PreTradeCheck validates req against every limit. A passing check consumes
// one slot of the order rate window.
func (s *RiskService) PreTradeCheck(ctx context.Context, req domain.OrderRequest) error {
	if err := s.CheckOrderSize(req.Quantity); err != nil {
		return err
	}

	s.mu.Lock()
	now := s.now()
	s.rolloverLocked(now)
	p := s.params

	if -s.realized >= p.MaxDailyLoss {
		loss := -s.realized
		s.mu.Unlock()
		return s.reject(RiskReasonDailyLoss, "daily realized loss %.2f reached limit %.2f", loss, p.MaxDailyLoss)
	}

	projected := s.netLocked(req.Symbol)
	if req.Side == domain.OrderSideBuy {
		projected += req.Quantity
	} else {
		projected -= req.Quantity
	}
	if math.Abs(projected) > p.MaxPositionSize {
		s.mu.Unlock()
		return s.reject(RiskReasonPosition, "%s position would reach %.8f, limit %.8f", req.Symbol, projected, p.MaxPositionSize)
	}

	s.pruneLocked(now)
	if len(s.recent) >= p.MaxOrdersPerMinute {
		n := len(s.recent)
		s.mu.Unlock()
		return s.reject(RiskReasonRate, "%d orders in the last minute, limit %d", n, p.MaxOrdersPerMinute)
	}
	s.recent = append(s.recent, now)
	s.mu.Unlock()

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, orderRateKey, p.MaxOrdersPerMinute, orderRateWindow)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "shared rate limiter unavailable, using local window",
				slog.String("error", err.Error()))
		case !ok:
			s.release(now)
			return s.reject(RiskReasonRate, "shared order rate limit %d/min reached", p.MaxOrdersPerMinute)
		}
	}
	return nil
}

// RecordFill applies a newly filled quantity to the position and realizes
// PnL on the part that reduces it, at average cost.
func (s *RiskService) RecordFill(sym domain.Symbol, side domain.OrderSide, qty, price float64) {
	if qty <= 0 || price <= 0 {
		return
	}
	signed := qty
	if side == domain.OrderSideSell {
		signed = -qty
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(s.now())

	h := s.holdings[sym]
	if h == nil {
		h = &holding{}
		s.holdings[sym] = h
	}

	switch {
	case h.qty == 0 || (h.qty > 0) == (signed > 0):
		total := math.Abs(h.qty) + qty
		h.avgCost = (math.Abs(h.qty)*h.avgCost + qty*price) / total
		h.qty += signed
	default:
		closing := math.Min(qty, math.Abs(h.qty))
		if h.qty > 0 {
			s.realized += (price - h.avgCost) * closing
		} else {
			s.realized += (h.avgCost - price) * closing
		}
		h.qty += signed
		switch {
		case math.Abs(h.qty) < 1e-12:
			h.qty, h.avgCost = 0, 0
		case (h.qty > 0) == (signed > 0):
			// Flipped through zero; the remainder opens at this price.
			h.avgCost = price
		}
	}
}

// Position returns the net filled quantity for sym.
func (s *RiskService) Position(sym domain.Symbol) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.netLocked(sym)
}

// State returns a copy of the running counters.
func (s *RiskService) State() RiskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.rolloverLocked(now)
	s.pruneLocked(now)

	positions := make(map[domain.Symbol]float64, len(s.holdings))
	for sym, h := range s.holdings {
		positions[sym] = h.qty
	}
	return RiskState{
		Params:           s.params,
		Day:              s.day.Format(time.DateOnly),
		RealizedPnL:      s.realized,
		OrdersLastMinute: len(s.recent),
		Positions:        positions,
	}
}

func (s *RiskService) netLocked(sym domain.Symbol) float64 {
	if h := s.holdings[sym]; h != nil {
		return h.qty
	}
	return 0
}

// rolloverLocked resets the daily PnL when the UTC date changes.
func (s *RiskService) rolloverLocked(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if day.Equal(s.day) {
		return
	}
	if !s.day.IsZero() {
		s.logger.Info("risk day rolled over",
			slog.String("previous_day", s.day.Format(time.DateOnly)),
			slog.Float64("realized_pnl", s.realized),
		)
	}
	s.day = day
	s.realized = 0
}

func (s *RiskService) pruneLocked(now time.Time) {
	cutoff := now.Add(-orderRateWindow)
	i := 0
	for i < len(s.recent) && !s.recent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.recent = append(s.recent[:0], s.recent[i:]...)
	}
}

// release gives back a slot taken by a check that failed later.
func (s *RiskService) release(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.recent) - 1; i >= 0; i-- {
		if s.recent[i].Equal(at) {
			s.recent = append(s.recent[:i], s.recent[i+1:]...)
			return
		}
	}
}

func (s *RiskService) reject(reason, format string, args ...any) error {
	metrics.RiskRejections.WithLabelValues(reason).Inc()
	err := fmt.Errorf("risk_service: %w: "+format, append([]any{domain.ErrRiskLimit}, args...)...)
	s.logger.Warn("order rejected by risk check", slog.String("reason", reason), slog.String("error", err.Error()))
	return err
}
