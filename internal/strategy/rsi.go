package strategy

import (
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

// neutralRSI is reported while there is not enough history.
const neutralRSI = 50.0

// RSI signals on the relative strength index of mid prices. Gains and losses
// are plain means over the last RSIPeriod deltas, not Wilder smoothed.
type RSI struct {
	*base
}

// NewRSI creates an RSI strategy. It reads RSIPeriod, RSIOversold and
// RSIOverbought from params.
func NewRSI(params domain.StrategyParams, logger *slog.Logger) *RSI {
	return &RSI{
		base: newBase(domain.StrategyRSI, params, evalRSI, validateRSI, logger),
	}
}

// computeRSI returns the index over the last period deltas of prices, or
// neutralRSI when fewer than period+1 prices are available.
func computeRSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return neutralRSI
	}
	window := tail(prices, period+1)
	var gain, loss float64
	for i := 1; i < len(window); i++ {
		d := window[i] - window[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func evalRSI(history []float64, p domain.StrategyParams) decision {
	if len(history) < p.RSIPeriod+1 {
		return decision{}
	}
	rsi := computeRSI(history, p.RSIPeriod)
	switch {
	case rsi < p.RSIOversold:
		conf := clamp01((p.RSIOversold - rsi) / p.RSIOversold)
		return decision{domain.SignalBuy, conf, fmt.Sprintf("rsi %.2f below %.2f", rsi, p.RSIOversold)}
	case rsi > p.RSIOverbought:
		conf := 1.0
		if span := 100 - p.RSIOverbought; span > 0 {
			conf = clamp01((rsi - p.RSIOverbought) / span)
		}
		return decision{domain.SignalSell, conf, fmt.Sprintf("rsi %.2f above %.2f", rsi, p.RSIOverbought)}
	}
	return decision{}
}

func validateRSI(p domain.StrategyParams) error {
	if p.RSIPeriod <= 0 || p.RSIPeriod+1 > WindowCapacity {
		return invalidParams("rsi_period %d outside [1, %d]", p.RSIPeriod, WindowCapacity-1)
	}
	if p.RSIOversold <= 0 || p.RSIOverbought >= 100 || p.RSIOversold >= p.RSIOverbought {
		return invalidParams("rsi bands %.2f/%.2f must satisfy 0 < oversold < overbought < 100", p.RSIOversold, p.RSIOverbought)
	}
	return nil
}
