package strategy

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"quantra/internal/market"
	"quantra/internal/portfolio"
)

// Momentum buys sustained upward moves and sells sustained downward
// ones. Threshold is the minimum percent change over the lookback
// window; confidence rises with the move and falls with volatility.
type Momentum struct {
	*tracker
	Lookback     int
	Threshold    float64
	SizeFraction float64
}

const momentumMinPoints = 10

// NewMomentum builds the momentum strategy. Threshold is in percent,
// e.g. 2.0 requires a 2% move across the lookback window.
func NewMomentum(lookback int, threshold, sizeFraction float64) *Momentum {
	return &Momentum{tracker: newTracker(), Lookback: lookback, Threshold: threshold, SizeFraction: sizeFraction}
}

func (s *Momentum) Name() string { return "momentum" }

func (s *Momentum) RequiredIndicators() []string {
	return []string{fmt.Sprintf("roc_%d", s.Lookback)}
}

func (s *Momentum) ValidateParams() error {
	if s.Lookback < momentumMinPoints {
		return fmt.Errorf("lookback must be at least %d points, got %d", momentumMinPoints, s.Lookback)
	}
	if s.Threshold <= 0 {
		return fmt.Errorf("momentum threshold must be positive, got %.4f", s.Threshold)
	}
	if s.SizeFraction <= 0 || s.SizeFraction > 1 {
		return fmt.Errorf("size fraction must be in (0,1], got %.4f", s.SizeFraction)
	}
	return nil
}

// GenerateSignals evaluates the momentum rule against each symbol's
// trailing closes.
func (s *Momentum) GenerateSignals(frame *market.Frame, pf *portfolio.Portfolio) ([]Signal, error) {
	if err := s.ValidateParams(); err != nil {
		return nil, err
	}
	var signals []Signal
	for _, symbol := range frame.Symbols() {
		series, ok := frame.Series(symbol)
		if !ok {
			continue
		}
		closes := series.Closes()
		if len(closes) < s.Lookback {
			continue
		}
		window := closes[len(closes)-s.Lookback:]
		last := series.Candles[len(series.Candles)-1]

		sig := s.evaluate(symbol, window, last.Close, last.Timestamp)
		if sig == nil {
			continue
		}
		switch sig.Type {
		case TypeBuy:
			if pf.HasPosition(symbol) {
				continue
			}
			qty := math.Floor(pf.TotalValue() * s.SizeFraction / last.Close)
			if qty < 1 || pf.CanAfford(symbol, qty, last.Close, 0) != nil {
				continue
			}
			sig.Quantity = qty
		case TypeSell:
			pos, ok := pf.Position(symbol)
			if !ok || !pos.IsLong() {
				continue
			}
			sig.Quantity = pos.Quantity
		}
		signals = append(signals, *sig)
	}
	return signals, nil
}

// Analyze buffers the streamed price and applies the momentum rule to
// the trailing lookback window.
func (s *Momentum) Analyze(msg market.Message) (*Signal, error) {
	if err := s.ValidateParams(); err != nil {
		return nil, err
	}
	prices := s.observe(msg)
	if len(prices) < s.Lookback {
		return nil, nil
	}
	window := prices[len(prices)-s.Lookback:]
	sig := s.evaluate(msg.Symbol, window, msg.Price, msg.Timestamp)
	if sig != nil {
		sig.SizeFraction = s.SizeFraction
	}
	return s.admit(sig), nil
}

// evaluate applies the momentum rule to one lookback window.
func (s *Momentum) evaluate(symbol string, window []float64, price float64, ts time.Time) *Signal {
	start := window[0]
	if start == 0 {
		return nil
	}
	momentumPct := (price - start) / start * 100
	if math.Abs(momentumPct) < s.Threshold {
		return nil
	}

	changes := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1] != 0 {
			changes = append(changes, (window[i]-window[i-1])/window[i-1]*100)
		}
	}
	volatility := 0.0
	if len(changes) > 1 {
		volatility = stat.StdDev(changes, nil)
	}

	confidence := clampConfidence(math.Abs(momentumPct)/10, 0.9)
	if volatility > 0 {
		confidence *= math.Max(0.1, 1-volatility/5)
	}

	sig := &Signal{
		Symbol:     symbol,
		Type:       TypeBuy,
		Price:      price,
		Confidence: confidence,
		Timestamp:  ts,
		Strategy:   s.Name(),
		Metadata: map[string]float64{
			"momentum_pct": momentumPct,
			"volatility":   volatility,
		},
	}
	if momentumPct > 0 {
		sig.Reason = fmt.Sprintf("upward momentum %.2f%% over %d points", momentumPct, s.Lookback)
	} else {
		sig.Type = TypeSell
		sig.Reason = fmt.Sprintf("downward momentum %.2f%% over %d points", momentumPct, s.Lookback)
	}
	return sig
}
