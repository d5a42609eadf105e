package strategy

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// MeanReversion buys when the latest mid price sits far below the recent
// mean and sells when it sits far above. Distance is the z-score over the
// last LookbackPeriod points using the population standard deviation.
type MeanReversion struct {
	*base
}

// NewMeanReversion creates a MeanReversion strategy. It reads LookbackPeriod
// and ZScoreThreshold from params.
func NewMeanReversion(params domain.StrategyParams, logger *slog.Logger) *MeanReversion {
	return &MeanReversion{
		base: newBase(domain.StrategyMeanReversion, params, evalMeanReversion, validateMeanReversion, logger),
	}
}

func evalMeanReversion(history []float64, p domain.StrategyParams) decision {
	if len(history) < p.LookbackPeriod {
		return decision{}
	}
	window := tail(history, p.LookbackPeriod)
	m := mean(window)
	sd := populationStdDev(window, m)
	if sd == 0 || math.IsNaN(sd) {
		return decision{}
	}

	last := window[len(window)-1]
	z := (last - m) / sd
	conf := clamp01(math.Abs(z) / (2 * p.ZScoreThreshold))
	switch {
	case z > p.ZScoreThreshold:
		return decision{domain.SignalSell, conf, fmt.Sprintf("z-score %.2f above %.2f (mean %.8f, sd %.8f)", z, p.ZScoreThreshold, m, sd)}
	case z < -p.ZScoreThreshold:
		return decision{domain.SignalBuy, conf, fmt.Sprintf("z-score %.2f below -%.2f (mean %.8f, sd %.8f)", z, p.ZScoreThreshold, m, sd)}
	}
	return decision{}
}

func validateMeanReversion(p domain.StrategyParams) error {
	if p.LookbackPeriod < 2 || p.LookbackPeriod > WindowCapacity {
		return invalidParams("lookback_period %d outside [2, %d]", p.LookbackPeriod, WindowCapacity)
	}
	if p.ZScoreThreshold <= 0 {
		return invalidParams("z_score_threshold must be positive")
	}
	return nil
}
