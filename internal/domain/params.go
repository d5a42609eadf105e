package domain

import "fmt"

// StrategyType names a strategy implementation.
type StrategyType string

const (
	StrategyMeanReversion StrategyType = "mean_reversion"
	StrategyMomentum      StrategyType = "momentum"
	StrategyRSI           StrategyType = "rsi"
)

// StrategyStatus is the run state of a strategy or of the engine.
type StrategyStatus string

const (
	StrategyStopped StrategyStatus = "stopped"
	StrategyRunning StrategyStatus = "running"
	StrategyPaused  StrategyStatus = "paused"
)

// StrategyParams bundles the tunables of every strategy type. Holders treat
// a value as immutable and replace it wholesale.
type StrategyParams struct {
	Type              StrategyType `json:"strategy_type" toml:"type"`
	RiskPerTrade      float64      `json:"risk_per_trade" toml:"risk_per_trade"`
	MaxPositionSize   float64      `json:"max_position_size" toml:"max_position_size"`
	LookbackPeriod    int          `json:"lookback_period" toml:"lookback_period"`
	ZScoreThreshold   float64      `json:"z_score_threshold" toml:"z_score_threshold"`
	ShortPeriod       int          `json:"short_period" toml:"short_period"`
	LongPeriod        int          `json:"long_period" toml:"long_period"`
	MomentumThreshold float64      `json:"momentum_threshold" toml:"momentum_threshold"`
	RSIPeriod         int          `json:"rsi_period" toml:"rsi_period"`
	RSIOversold       float64      `json:"rsi_oversold" toml:"rsi_oversold"`
	RSIOverbought     float64      `json:"rsi_overbought" toml:"rsi_overbought"`
}

// DefaultStrategyParams returns the stock parameter set.
func DefaultStrategyParams() StrategyParams {
	return StrategyParams{
		Type:              StrategyMeanReversion,
		RiskPerTrade:      0.02,
		MaxPositionSize:   1000,
		LookbackPeriod:    20,
		ZScoreThreshold:   2.0,
		ShortPeriod:       12,
		LongPeriod:        26,
		MomentumThreshold: 0.01,
		RSIPeriod:         14,
		RSIOversold:       30,
		RSIOverbought:     70,
	}
}

// RiskParams are the limits the executor enforces before every submission.
type RiskParams struct {
	MaxPositionSize    float64 `json:"max_position_size" toml:"max_position_size"`
	MaxDailyLoss       float64 `json:"max_daily_loss" toml:"max_daily_loss"`
	MaxOrderSize       float64 `json:"max_order_size" toml:"max_order_size"`
	MaxOrdersPerMinute int     `json:"max_orders_per_minute" toml:"max_orders_per_minute"`
}

// DefaultRiskParams returns the stock limits.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		MaxPositionSize:    10000,
		MaxDailyLoss:       1000,
		MaxOrderSize:       1000,
		MaxOrdersPerMinute: 60,
	}
}

// Validate rejects non-positive limits.
func (r RiskParams) Validate() error {
	if r.MaxOrderSize <= 0 || r.MaxPositionSize <= 0 || r.MaxDailyLoss <= 0 || r.MaxOrdersPerMinute <= 0 {
		return fmt.Errorf("%w: risk limits must be positive: %+v", ErrValidation, r)
	}
	return nil
}
