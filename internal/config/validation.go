package config

import (
	"fmt"
	"strings"

	"quantra/internal/optimize"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.validateBacktest(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Live.validate(); err != nil {
		return err
	}
	return c.Optimizer.validate()
}

func (a *AppConfig) validate() error {
	switch a.Mode {
	case ModeBacktest, ModeLive, ModeOptimize:
	default:
		return fmt.Errorf("app.mode must be %q, %q or %q, got %q", ModeBacktest, ModeLive, ModeOptimize, a.Mode)
	}
	return nil
}

func (d *DataConfig) validate() error {
	if len(d.Symbols) == 0 {
		return fmt.Errorf("data.symbols requires at least one symbol")
	}
	for _, sym := range d.Symbols {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("data.symbols contains an empty symbol")
		}
	}
	if strings.TrimSpace(d.Interval) == "" {
		return fmt.Errorf("data.interval cannot be empty")
	}
	if _, _, err := d.Window(); err != nil {
		return fmt.Errorf("data.start_date/end_date must be YYYY-MM-DD: %w", err)
	}
	start, end, _ := d.Window()
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("data.end_date is before data.start_date")
	}
	return nil
}

func (c *Config) validateBacktest() error {
	bt := c.Backtest
	if bt.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be positive")
	}
	if bt.CommissionRate < 0 || bt.SlippageRate < 0 {
		return fmt.Errorf("backtest commission/slippage rates must be non-negative")
	}
	if bt.MaxPositionFraction < 0 || bt.MaxPositionFraction > 1 {
		return fmt.Errorf("backtest.max_position_fraction must be in [0,1]")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.Limits.MaxDrawdown <= 0 || r.Limits.MaxDrawdown > 1 {
		return fmt.Errorf("risk.limits.max_drawdown must be in (0,1]")
	}
	if r.Limits.MaxDailyLoss <= 0 || r.Limits.MaxDailyLoss > 1 {
		return fmt.Errorf("risk.limits.max_daily_loss must be in (0,1]")
	}
	if r.Sizer.MaxPositionFraction <= 0 || r.Sizer.MaxPositionFraction > 1 {
		return fmt.Errorf("risk.sizer.max_position_fraction must be in (0,1]")
	}
	if r.StopLossPct <= 0 || r.StopLossPct >= 1 {
		return fmt.Errorf("risk.stop_loss_pct must be in (0,1)")
	}
	if r.TakeProfitPct <= 0 {
		return fmt.Errorf("risk.take_profit_pct must be positive")
	}
	return nil
}

func (l *LiveConfig) validate() error {
	if l.InitialCash <= 0 {
		return fmt.Errorf("live.initial_cash must be positive")
	}
	if l.CommissionRate < 0 || l.SlippageRate < 0 {
		return fmt.Errorf("live commission/slippage rates must be non-negative")
	}
	return nil
}

func (o *OptimizerConfig) validate() error {
	switch optimize.Metric(o.Metric) {
	case optimize.MetricSharpe, optimize.MetricTotalReturn, optimize.MetricAnnualReturn,
		optimize.MetricCalmar, optimize.MetricProfitFactor, optimize.MetricWinRate,
		optimize.MetricMaxDrawdown:
	default:
		return fmt.Errorf("optimizer.metric %q is not a known metric", o.Metric)
	}
	if o.MonteCarlo.NoiseLevel < 0 {
		return fmt.Errorf("optimizer.monte_carlo.noise_level must be non-negative")
	}
	return nil
}
