package risk

import (
	"math"
	"sync"
	"time"

	"quantra/internal/logger"
	"quantra/internal/portfolio"
)

// Level is the discrete portfolio risk classification.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Metrics is one portfolio risk evaluation.
type Metrics struct {
	Drawdown      float64   `json:"drawdown"`
	DailyPnLPct   float64   `json:"daily_pnl_pct"`
	Concentration float64   `json:"concentration"`
	PortfolioRisk float64   `json:"portfolio_risk"`
	VaR1Day       float64   `json:"var_1day"`
	Level         Level     `json:"level"`
	Timestamp     time.Time `json:"timestamp"`
}

// Handler receives metrics when a configured limit is breached.
type Handler func(Metrics)

// ManagerConfig tunes the portfolio limit checks.
type ManagerConfig struct {
	MaxDrawdown      float64 `mapstructure:"max_drawdown"`
	MaxDailyLoss     float64 `mapstructure:"max_daily_loss"`
	MaxPositionCount int     `mapstructure:"max_position_count"`
	DailyVolatility  float64 `mapstructure:"daily_volatility"`
}

// DefaultManagerConfig returns the standard limits.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxDrawdown:      0.15,
		MaxDailyLoss:     0.05,
		MaxPositionCount: 10,
		DailyVolatility:  0.02,
	}
}

// zScore95 is the one-sided 95% normal quantile used for the 1-day VaR
// estimate.
const zScore95 = 1.65

// Manager recomputes portfolio-level risk on every ledger mutation and
// decides whether new signals should be halted.
type Manager struct {
	cfg ManagerConfig

	mu            sync.Mutex
	highWaterMark float64
	dailyStart    float64
	last          Metrics
	handlers      []Handler
}

// NewManager builds a Manager; zero limits fall back to defaults.
func NewManager(cfg ManagerConfig) *Manager {
	def := DefaultManagerConfig()
	if cfg.MaxDrawdown <= 0 {
		cfg.MaxDrawdown = def.MaxDrawdown
	}
	if cfg.MaxDailyLoss <= 0 {
		cfg.MaxDailyLoss = def.MaxDailyLoss
	}
	if cfg.MaxPositionCount <= 0 {
		cfg.MaxPositionCount = def.MaxPositionCount
	}
	if cfg.DailyVolatility <= 0 {
		cfg.DailyVolatility = def.DailyVolatility
	}
	return &Manager{cfg: cfg}
}

// AddHandler registers a limit-breach handler.
func (m *Manager) AddHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// ResetDaily sets the daily loss baseline, typically at midnight.
func (m *Manager) ResetDaily(value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyStart = value
	logger.Infof("daily risk baseline reset to %.2f", value)
}

// Check evaluates the portfolio and returns fresh metrics. Handlers
// fire when the drawdown or daily-loss limit is breached.
func (m *Manager) Check(pf *portfolio.Portfolio, ts time.Time) Metrics {
	value := pf.TotalValue()
	positions := pf.Positions()

	m.mu.Lock()
	if value > m.highWaterMark {
		m.highWaterMark = value
	}
	var drawdown float64
	if m.highWaterMark > 0 {
		drawdown = (m.highWaterMark - value) / m.highWaterMark
	}
	var dailyPct float64
	if m.dailyStart > 0 {
		dailyPct = (value - m.dailyStart) / m.dailyStart
	}

	var concentration float64
	if value > 0 {
		for _, pos := range positions {
			if frac := math.Abs(pos.MarketValue()) / value; frac > concentration {
				concentration = frac
			}
		}
	}

	risk := math.Max(drawdown, math.Max(math.Abs(dailyPct), concentration))
	metrics := Metrics{
		Drawdown:      drawdown,
		DailyPnLPct:   dailyPct,
		Concentration: concentration,
		PortfolioRisk: risk,
		VaR1Day:       value * m.cfg.DailyVolatility * zScore95,
		Level:         classify(risk, drawdown),
		Timestamp:     ts,
	}
	m.last = metrics
	handlers := append([]Handler(nil), m.handlers...)
	maxDD, maxDaily := m.cfg.MaxDrawdown, m.cfg.MaxDailyLoss
	maxCount := m.cfg.MaxPositionCount
	m.mu.Unlock()

	breach := false
	if drawdown > maxDD {
		logger.Warnf("portfolio drawdown limit breached: %.2f%% > %.2f%%", drawdown*100, maxDD*100)
		breach = true
	}
	if dailyPct < -maxDaily {
		logger.Warnf("daily loss limit breached: %.2f%% > %.2f%%", -dailyPct*100, maxDaily*100)
		breach = true
	}
	if len(positions) > maxCount {
		logger.Warnf("position count above limit: %d > %d", len(positions), maxCount)
	}
	if breach {
		for _, h := range handlers {
			h(metrics)
		}
	}
	return metrics
}

// Last returns the most recent metrics.
func (m *Manager) Last() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// ShouldHalt reports whether new signal acceptance should stop. Open
// positions stay managed by the stop machine regardless.
func (m *Manager) ShouldHalt(metrics Metrics) bool {
	return metrics.Level == LevelCritical ||
		metrics.Drawdown > m.cfg.MaxDrawdown ||
		metrics.DailyPnLPct < -m.cfg.MaxDailyLoss
}

func classify(risk, drawdown float64) Level {
	switch {
	case risk > 0.10 || drawdown > 0.10:
		return LevelCritical
	case risk > 0.05 || drawdown > 0.05:
		return LevelHigh
	case risk > 0.025:
		return LevelMedium
	default:
		return LevelLow
	}
}
