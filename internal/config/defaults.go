package config

import (
	"strings"

	"quantra/internal/backtest"
	"quantra/internal/optimize"
	"quantra/internal/risk"
	"quantra/internal/stream"
)

const (
	defaultAppEnv         = "dev"
	defaultAppMode        = ModeBacktest
	defaultAppLogLevel    = "info"
	defaultAppHTTPAddr    = ":9880"
	defaultDataInterval   = "1d"
	defaultCandleDBPath   = "data/db/candles.db"
	defaultResultDBPath   = "data/db/results.db"
	defaultProfilesPath   = "configs/strategies.yaml"
	defaultDataMaxCached  = 1000
	defaultPollSeconds    = 5
	defaultStreamBuffer   = 1000
	defaultStatusSeconds  = 60
	defaultRefreshSeconds = 15
	defaultRolloverSpec   = "@midnight"
	defaultStopLossPct    = 0.05
	defaultTakeProfitPct  = 0.10
	defaultOptWorkers     = 4
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.applyBacktestDefaults(keys)
	c.Stream.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Live.applyDefaults(keys, c.Backtest)
	c.Optimizer.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.mode", &a.Mode, defaultAppMode),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
	a.Mode = strings.ToLower(strings.TrimSpace(a.Mode))
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.interval", &d.Interval, defaultDataInterval),
		stringFieldDefault("data.candle_db_path", &d.CandleDBPath, defaultCandleDBPath),
		stringFieldDefault("data.result_db_path", &d.ResultDBPath, defaultResultDBPath),
		stringFieldDefault("data.profiles_path", &d.ProfilesPath, defaultProfilesPath),
		fieldDefault{
			key:   "data.max_cached",
			need:  func() bool { return d.MaxCached <= 0 },
			apply: func() { d.MaxCached = defaultDataMaxCached },
		},
	)
}

func (c *Config) applyBacktestDefaults(keys keySet) {
	def := backtest.DefaultConfig()
	bt := &c.Backtest
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.initial_capital",
			need:  func() bool { return bt.InitialCapital <= 0 },
			apply: func() { bt.InitialCapital = def.InitialCapital },
		},
		fieldDefault{
			key:   "backtest.commission_rate",
			need:  func() bool { return bt.CommissionRate == 0 },
			apply: func() { bt.CommissionRate = def.CommissionRate },
		},
		fieldDefault{
			key:   "backtest.slippage_rate",
			need:  func() bool { return bt.SlippageRate == 0 },
			apply: func() { bt.SlippageRate = def.SlippageRate },
		},
		fieldDefault{
			key:   "backtest.lot_step",
			need:  func() bool { return bt.LotStep == 0 },
			apply: func() { bt.LotStep = def.LotStep },
		},
		fieldDefault{
			key:   "backtest.risk_free_rate",
			need:  func() bool { return bt.RiskFreeRate == 0 },
			apply: func() { bt.RiskFreeRate = def.RiskFreeRate },
		},
		fieldDefault{
			key:   "backtest.max_concurrent",
			need:  func() bool { return bt.MaxConcurrent <= 0 },
			apply: func() { bt.MaxConcurrent = def.MaxConcurrent },
		},
		fieldDefault{
			key:   "backtest.max_position_fraction",
			need:  func() bool { return bt.MaxPositionFraction == 0 },
			apply: func() { bt.MaxPositionFraction = def.MaxPositionFraction },
		},
		stringFieldDefault("backtest.benchmark", &bt.Benchmark, def.Benchmark),
	)
}

func (s *StreamConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	def := stream.DefaultQueueConfig()
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "stream.poll_interval_seconds",
			need:  func() bool { return s.PollIntervalSeconds <= 0 },
			apply: func() { s.PollIntervalSeconds = defaultPollSeconds },
		},
		fieldDefault{
			key:   "stream.buffer_size",
			need:  func() bool { return s.BufferSize <= 0 },
			apply: func() { s.BufferSize = defaultStreamBuffer },
		},
		fieldDefault{
			key:   "stream.queue.normal_capacity",
			need:  func() bool { return s.Queue.NormalCapacity <= 0 },
			apply: func() { s.Queue.NormalCapacity = def.NormalCapacity },
		},
		fieldDefault{
			key:   "stream.queue.high_capacity",
			need:  func() bool { return s.Queue.HighCapacity <= 0 },
			apply: func() { s.Queue.HighCapacity = def.HighCapacity },
		},
		fieldDefault{
			key:   "stream.queue.max_age",
			need:  func() bool { return s.Queue.MaxAge <= 0 },
			apply: func() { s.Queue.MaxAge = def.MaxAge },
		},
		fieldDefault{
			key:   "stream.queue.max_retries",
			need:  func() bool { return s.Queue.MaxRetries <= 0 },
			apply: func() { s.Queue.MaxRetries = def.MaxRetries },
		},
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	limits := risk.DefaultManagerConfig()
	sizer := risk.DefaultSizerConfig()
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.limits.max_drawdown",
			need:  func() bool { return r.Limits.MaxDrawdown <= 0 },
			apply: func() { r.Limits.MaxDrawdown = limits.MaxDrawdown },
		},
		fieldDefault{
			key:   "risk.limits.max_daily_loss",
			need:  func() bool { return r.Limits.MaxDailyLoss <= 0 },
			apply: func() { r.Limits.MaxDailyLoss = limits.MaxDailyLoss },
		},
		fieldDefault{
			key:   "risk.limits.max_position_count",
			need:  func() bool { return r.Limits.MaxPositionCount <= 0 },
			apply: func() { r.Limits.MaxPositionCount = limits.MaxPositionCount },
		},
		fieldDefault{
			key:   "risk.limits.daily_volatility",
			need:  func() bool { return r.Limits.DailyVolatility <= 0 },
			apply: func() { r.Limits.DailyVolatility = limits.DailyVolatility },
		},
		fieldDefault{
			key:   "risk.sizer.max_position_fraction",
			need:  func() bool { return r.Sizer.MaxPositionFraction <= 0 },
			apply: func() { r.Sizer.MaxPositionFraction = sizer.MaxPositionFraction },
		},
		fieldDefault{
			key:   "risk.sizer.kelly_multiplier",
			need:  func() bool { return r.Sizer.KellyMultiplier <= 0 },
			apply: func() { r.Sizer.KellyMultiplier = sizer.KellyMultiplier },
		},
		fieldDefault{
			key:   "risk.sizer.win_rate",
			need:  func() bool { return r.Sizer.WinRate <= 0 },
			apply: func() { r.Sizer.WinRate = sizer.WinRate },
		},
		fieldDefault{
			key:   "risk.sizer.avg_win",
			need:  func() bool { return r.Sizer.AvgWin <= 0 },
			apply: func() { r.Sizer.AvgWin = sizer.AvgWin },
		},
		fieldDefault{
			key:   "risk.sizer.avg_loss",
			need:  func() bool { return r.Sizer.AvgLoss <= 0 },
			apply: func() { r.Sizer.AvgLoss = sizer.AvgLoss },
		},
		fieldDefault{
			key:   "risk.stop_loss_pct",
			need:  func() bool { return r.StopLossPct <= 0 },
			apply: func() { r.StopLossPct = defaultStopLossPct },
		},
		fieldDefault{
			key:   "risk.take_profit_pct",
			need:  func() bool { return r.TakeProfitPct <= 0 },
			apply: func() { r.TakeProfitPct = defaultTakeProfitPct },
		},
	)
}

func (l *LiveConfig) applyDefaults(keys keySet, bt backtest.Config) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "live.initial_cash",
			need:  func() bool { return l.InitialCash <= 0 },
			apply: func() { l.InitialCash = bt.InitialCapital },
		},
		fieldDefault{
			key:   "live.commission_rate",
			need:  func() bool { return l.CommissionRate == 0 },
			apply: func() { l.CommissionRate = bt.CommissionRate },
		},
		fieldDefault{
			key:   "live.slippage_rate",
			need:  func() bool { return l.SlippageRate == 0 },
			apply: func() { l.SlippageRate = bt.SlippageRate },
		},
		fieldDefault{
			key:   "live.lot_step",
			need:  func() bool { return l.LotStep == 0 },
			apply: func() { l.LotStep = bt.LotStep },
		},
		fieldDefault{
			key:   "live.status_interval_seconds",
			need:  func() bool { return l.StatusIntervalSeconds <= 0 },
			apply: func() { l.StatusIntervalSeconds = defaultStatusSeconds },
		},
		fieldDefault{
			key:   "live.price_refresh_seconds",
			need:  func() bool { return l.PriceRefreshSeconds <= 0 },
			apply: func() { l.PriceRefreshSeconds = defaultRefreshSeconds },
		},
		stringFieldDefault("live.rollover_spec", &l.RolloverSpec, defaultRolloverSpec),
	)
}

func (o *OptimizerConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	wf := optimize.DefaultWalkForwardConfig()
	mc := optimize.DefaultMonteCarloConfig()
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "optimizer.workers",
			need:  func() bool { return o.Workers <= 0 },
			apply: func() { o.Workers = defaultOptWorkers },
		},
		stringFieldDefault("optimizer.metric", &o.Metric, string(optimize.MetricSharpe)),
		fieldDefault{
			key:   "optimizer.walk_forward.train_days",
			need:  func() bool { return o.WalkForward.TrainDays <= 0 },
			apply: func() { o.WalkForward.TrainDays = wf.TrainDays },
		},
		fieldDefault{
			key:   "optimizer.walk_forward.test_days",
			need:  func() bool { return o.WalkForward.TestDays <= 0 },
			apply: func() { o.WalkForward.TestDays = wf.TestDays },
		},
		fieldDefault{
			key:   "optimizer.walk_forward.step_days",
			need:  func() bool { return o.WalkForward.StepDays <= 0 },
			apply: func() { o.WalkForward.StepDays = wf.StepDays },
		},
		fieldDefault{
			key:   "optimizer.monte_carlo.simulations",
			need:  func() bool { return o.MonteCarlo.Simulations <= 0 },
			apply: func() { o.MonteCarlo.Simulations = mc.Simulations },
		},
		fieldDefault{
			key:   "optimizer.monte_carlo.noise_level",
			need:  func() bool { return o.MonteCarlo.NoiseLevel == 0 },
			apply: func() { o.MonteCarlo.NoiseLevel = mc.NoiseLevel },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
