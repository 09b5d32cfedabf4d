// Package risk sizes positions, manages stop-loss/take-profit state
// and watches portfolio-level limits.
package risk

import (
	"math"

	"quantra/internal/logger"
	"quantra/internal/portfolio"
	"quantra/internal/strategy"
)

// SizerConfig tunes position sizing.
type SizerConfig struct {
	MaxPositionFraction float64 `mapstructure:"max_position_fraction"`
	KellyMultiplier     float64 `mapstructure:"kelly_multiplier"`
	WinRate             float64 `mapstructure:"win_rate"`
	AvgWin              float64 `mapstructure:"avg_win"`
	AvgLoss             float64 `mapstructure:"avg_loss"`
}

// DefaultSizerConfig mirrors a conservative quarter-Kelly setup.
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		MaxPositionFraction: 0.25,
		KellyMultiplier:     0.25,
		WinRate:             0.55,
		AvgWin:              0.02,
		AvgLoss:             0.015,
	}
}

// Sizer turns a signal into a quantity: base fraction of portfolio
// value, scaled by confidence, damped by volatility and existing
// concentration, then Kelly-scaled. Result never drops below one unit.
type Sizer struct {
	cfg SizerConfig
}

// NewSizer builds a Sizer; zero-valued config fields fall back to the
// defaults.
func NewSizer(cfg SizerConfig) *Sizer {
	def := DefaultSizerConfig()
	if cfg.MaxPositionFraction <= 0 {
		cfg.MaxPositionFraction = def.MaxPositionFraction
	}
	if cfg.KellyMultiplier <= 0 {
		cfg.KellyMultiplier = def.KellyMultiplier
	}
	if cfg.WinRate <= 0 {
		cfg.WinRate = def.WinRate
	}
	if cfg.AvgWin <= 0 {
		cfg.AvgWin = def.AvgWin
	}
	if cfg.AvgLoss <= 0 {
		cfg.AvgLoss = def.AvgLoss
	}
	return &Sizer{cfg: cfg}
}

// Size computes the quantity for sig given the current ledger and an
// estimated volatility (daily return fraction, e.g. 0.02).
func (s *Sizer) Size(sig strategy.Signal, pf *portfolio.Portfolio, volatility float64) float64 {
	if sig.Price <= 0 {
		return 0
	}
	value := pf.TotalValue()
	maxFrac := s.cfg.MaxPositionFraction
	if sig.SizeFraction > 0 && sig.SizeFraction < maxFrac {
		maxFrac = sig.SizeFraction
	}

	size := value * maxFrac / sig.Price
	size *= sig.Confidence
	size *= math.Max(0.1, 1-volatility*10)

	if exposure := symbolExposure(sig.Symbol, pf, value); exposure > s.cfg.MaxPositionFraction {
		size *= math.Max(0.1, (s.cfg.MaxPositionFraction*2-exposure)/s.cfg.MaxPositionFraction)
	}

	kelly := (s.cfg.WinRate*s.cfg.AvgWin - (1-s.cfg.WinRate)*s.cfg.AvgLoss) / s.cfg.AvgWin
	size *= kelly * s.cfg.KellyMultiplier

	qty := math.Max(1, math.Floor(size))
	logger.Debugf("sized %s: value=%.2f confidence=%.2f volatility=%.4f qty=%.0f",
		sig.Symbol, value, sig.Confidence, volatility, qty)
	return qty
}

func symbolExposure(symbol string, pf *portfolio.Portfolio, value float64) float64 {
	if value <= 0 {
		return 0
	}
	pos, ok := pf.Position(symbol)
	if !ok {
		return 0
	}
	return math.Abs(pos.MarketValue()) / value
}
