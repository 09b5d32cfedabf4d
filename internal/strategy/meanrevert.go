package strategy

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"quantra/internal/market"
	"quantra/internal/portfolio"
)

// MeanRevert fades extremes: buy when price sits far below its rolling
// mean, sell when far above. Threshold is in standard deviations.
type MeanRevert struct {
	*tracker
	Window       int
	Threshold    float64
	SizeFraction float64
}

const meanRevertMinPoints = 20

// NewMeanRevert builds the mean-reversion strategy.
func NewMeanRevert(window int, threshold, sizeFraction float64) *MeanRevert {
	return &MeanRevert{tracker: newTracker(), Window: window, Threshold: threshold, SizeFraction: sizeFraction}
}

func (s *MeanRevert) Name() string { return "mean_revert" }

func (s *MeanRevert) RequiredIndicators() []string {
	return []string{fmt.Sprintf("sma_%d", s.Window), fmt.Sprintf("stddev_%d", s.Window)}
}

func (s *MeanRevert) ValidateParams() error {
	if s.Window < meanRevertMinPoints {
		return fmt.Errorf("window must be at least %d points, got %d", meanRevertMinPoints, s.Window)
	}
	if s.Threshold <= 0 {
		return fmt.Errorf("deviation threshold must be positive, got %.4f", s.Threshold)
	}
	if s.SizeFraction <= 0 || s.SizeFraction > 1 {
		return fmt.Errorf("size fraction must be in (0,1], got %.4f", s.SizeFraction)
	}
	return nil
}

// GenerateSignals applies the z-score rule to each symbol's trailing
// closes.
func (s *MeanRevert) GenerateSignals(frame *market.Frame, pf *portfolio.Portfolio) ([]Signal, error) {
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
		if len(closes) < s.Window {
			continue
		}
		window := closes[len(closes)-s.Window:]
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

// Analyze buffers the streamed price and checks the z-score of the
// latest quote against the rolling window.
func (s *MeanRevert) Analyze(msg market.Message) (*Signal, error) {
	if err := s.ValidateParams(); err != nil {
		return nil, err
	}
	prices := s.observe(msg)
	if len(prices) < s.Window {
		return nil, nil
	}
	window := prices[len(prices)-s.Window:]
	sig := s.evaluate(msg.Symbol, window, msg.Price, msg.Timestamp)
	if sig != nil {
		sig.SizeFraction = s.SizeFraction
	}
	return s.admit(sig), nil
}

func (s *MeanRevert) evaluate(symbol string, window []float64, price float64, ts time.Time) *Signal {
	mean := stat.Mean(window, nil)
	std := stat.StdDev(window, nil)
	if std == 0 || math.IsNaN(std) {
		return nil
	}
	z := (price - mean) / std
	if math.Abs(z) < s.Threshold {
		return nil
	}

	sig := &Signal{
		Symbol:     symbol,
		Type:       TypeBuy,
		Price:      price,
		Confidence: clampConfidence(math.Abs(z)/3, 0.8),
		Timestamp:  ts,
		Strategy:   s.Name(),
		Metadata: map[string]float64{
			"z_score":    z,
			"mean_price": mean,
			"std_dev":    std,
		},
	}
	if z < 0 {
		sig.Reason = fmt.Sprintf("oversold: %.2f std devs below mean %.2f", -z, mean)
	} else {
		sig.Type = TypeSell
		sig.Reason = fmt.Sprintf("overbought: %.2f std devs above mean %.2f", z, mean)
	}
	return sig
}
