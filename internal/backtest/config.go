// Package backtest replays candle history day by day through a
// strategy and scores the resulting equity curve.
package backtest

import (
	"fmt"
	"time"
)

// Config is the parameter snapshot for one run.
type Config struct {
	InitialCapital      float64 `mapstructure:"initial_capital" json:"initial_capital"`
	CommissionRate      float64 `mapstructure:"commission_rate" json:"commission_rate"`
	SlippageRate        float64 `mapstructure:"slippage_rate" json:"slippage_rate"`
	LotStep             float64 `mapstructure:"lot_step" json:"lot_step"`
	AllowShort          bool    `mapstructure:"allow_short" json:"allow_short"`
	MaxPositionFraction float64 `mapstructure:"max_position_fraction" json:"max_position_fraction"`
	Benchmark           string  `mapstructure:"benchmark" json:"benchmark,omitempty"`
	RiskFreeRate        float64 `mapstructure:"risk_free_rate" json:"risk_free_rate"`
	MaxConcurrent       int     `mapstructure:"max_concurrent" json:"max_concurrent"`
}

// DefaultConfig returns the standard friction assumptions: 0.1%
// commission, 0.05% slippage, 2% annual risk-free rate, one quarter
// of the book per symbol, SPY as the comparison benchmark.
func DefaultConfig() Config {
	return Config{
		InitialCapital:      100000,
		CommissionRate:      0.001,
		SlippageRate:        0.0005,
		LotStep:             1,
		MaxPositionFraction: 0.25,
		Benchmark:           "SPY",
		RiskFreeRate:        0.02,
		MaxConcurrent:       1,
	}
}

func (c Config) validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %.2f", c.InitialCapital)
	}
	if c.CommissionRate < 0 || c.SlippageRate < 0 {
		return fmt.Errorf("commission and slippage rates must be non-negative")
	}
	if c.MaxPositionFraction < 0 || c.MaxPositionFraction > 1 {
		return fmt.Errorf("max position fraction must be within [0, 1], got %.4f", c.MaxPositionFraction)
	}
	return nil
}

// Result is the scored outcome of one run. Percent-valued fields
// (returns, volatility, drawdown, win rate) are in percent.
type Result struct {
	ID           string    `json:"id"`
	StrategyName string    `json:"strategy_name"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`

	InitialCapital  float64 `json:"initial_capital"`
	FinalValue      float64 `json:"final_value"`
	TotalReturn     float64 `json:"total_return"`
	AnnualReturn    float64 `json:"annual_return"`
	Volatility      float64 `json:"volatility"`
	SharpeRatio     float64 `json:"sharpe_ratio"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	CalmarRatio     float64 `json:"calmar_ratio"`
	WinRate         float64 `json:"win_rate"`
	ProfitFactor    float64 `json:"profit_factor"`
	Alpha           float64 `json:"alpha"`
	Beta            float64 `json:"beta"`
	TotalTrades     int     `json:"total_trades"`
	AvgDurationDay  float64 `json:"avg_trade_duration_days"`
	TotalCommission float64 `json:"total_commission"`

	History []DayRecord `json:"-"`
	Trades  []TradeView `json:"-"`
}

// DayRecord is one day of the equity curve.
type DayRecord struct {
	Date           time.Time `json:"date"`
	PortfolioValue float64   `json:"portfolio_value"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	NumPositions   int       `json:"num_positions"`
}

// TradeView is the persisted projection of an executed fill.
type TradeView struct {
	Date       time.Time `json:"date"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Value      float64   `json:"value"`
	Commission float64   `json:"commission"`
	Strategy   string    `json:"strategy"`
	Reason     string    `json:"reason"`
}
