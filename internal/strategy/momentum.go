package strategy

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// Momentum compares a short and a long simple moving average of mid prices.
type Momentum struct {
	*base
}

// NewMomentum creates a Momentum strategy. It reads ShortPeriod, LongPeriod
// and MomentumThreshold from params.
func NewMomentum(params domain.StrategyParams, logger *slog.Logger) *Momentum {
	return &Momentum{
		base: newBase(domain.StrategyMomentum, params, evalMomentum, validateMomentum, logger),
	}
}

func evalMomentum(history []float64, p domain.StrategyParams) decision {
	if len(history) < p.LongPeriod {
		return decision{}
	}
	shortMA := mean(tail(history, p.ShortPeriod))
	longMA := mean(tail(history, p.LongPeriod))
	if longMA == 0 {
		return decision{}
	}

	m := (shortMA - longMA) / longMA
	conf := clamp01(math.Abs(m) / (2 * p.MomentumThreshold))
	switch {
	case m > p.MomentumThreshold:
		return decision{domain.SignalBuy, conf, fmt.Sprintf("momentum %.6f above %.6f", m, p.MomentumThreshold)}
	case m < -p.MomentumThreshold:
		return decision{domain.SignalSell, conf, fmt.Sprintf("momentum %.6f below -%.6f", m, p.MomentumThreshold)}
	}
	return decision{}
}

func validateMomentum(p domain.StrategyParams) error {
	if p.ShortPeriod <= 0 || p.LongPeriod <= 0 {
		return invalidParams("short_period and long_period must be positive")
	}
	if p.ShortPeriod >= p.LongPeriod {
		return invalidParams("short_period %d must be below long_period %d", p.ShortPeriod, p.LongPeriod)
	}
	if p.LongPeriod > WindowCapacity {
		return invalidParams("long_period %d exceeds window capacity %d", p.LongPeriod, WindowCapacity)
	}
	if p.MomentumThreshold <= 0 {
		return invalidParams("momentum_threshold must be positive")
	}
	return nil
}
