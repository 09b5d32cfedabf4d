package strategy

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"quantra/internal/market"
	"quantra/internal/portfolio"
)

// MACross trades simple moving-average crossovers: buy when the short
// average crosses above the long one, exit on the opposite cross.
type MACross struct {
	*tracker
	Short        int
	Long         int
	SizeFraction float64
}

// NewMACross builds the crossover strategy. Typical windows are 10/20.
func NewMACross(short, long int, sizeFraction float64) *MACross {
	return &MACross{tracker: newTracker(), Short: short, Long: long, SizeFraction: sizeFraction}
}

func (s *MACross) Name() string { return "ma_cross" }

func (s *MACross) RequiredIndicators() []string {
	return []string{fmt.Sprintf("sma_%d", s.Short), fmt.Sprintf("sma_%d", s.Long)}
}

func (s *MACross) ValidateParams() error {
	if s.Short <= 0 {
		return fmt.Errorf("short window must be positive, got %d", s.Short)
	}
	if s.Long <= 0 {
		return fmt.Errorf("long window must be positive, got %d", s.Long)
	}
	if s.Short >= s.Long {
		return fmt.Errorf("short window (%d) must be less than long window (%d)", s.Short, s.Long)
	}
	if s.SizeFraction <= 0 || s.SizeFraction > 1 {
		return fmt.Errorf("size fraction must be in (0,1], got %.4f", s.SizeFraction)
	}
	return nil
}

// GenerateSignals scans each symbol's close history for a crossover on
// the latest bar. Buys open a position sized to SizeFraction of total
// value; bearish crosses close an existing long.
func (s *MACross) GenerateSignals(frame *market.Frame, pf *portfolio.Portfolio) ([]Signal, error) {
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
		if len(closes) < s.Long {
			continue
		}
		cross, fast, slow := s.detect(closes)
		if cross == 0 {
			continue
		}
		last := series.Candles[len(series.Candles)-1]
		price := last.Close

		if cross > 0 && !pf.HasPosition(symbol) {
			qty := math.Floor(pf.TotalValue() * s.SizeFraction / price)
			if qty < 1 {
				continue
			}
			if err := pf.CanAfford(symbol, qty, price, 0); err != nil {
				continue
			}
			signals = append(signals, Signal{
				Symbol:     symbol,
				Type:       TypeBuy,
				Quantity:   qty,
				Price:      price,
				Confidence: 0.7,
				Timestamp:  last.Timestamp,
				Strategy:   s.Name(),
				Reason:     fmt.Sprintf("bullish MA crossover: SMA(%d) crossed above SMA(%d)", s.Short, s.Long),
				Metadata:   map[string]float64{"fast_ma": fast, "slow_ma": slow},
			})
		}
		if cross < 0 {
			if pos, ok := pf.Position(symbol); ok && pos.IsLong() {
				signals = append(signals, Signal{
					Symbol:     symbol,
					Type:       TypeSell,
					Quantity:   pos.Quantity,
					Price:      price,
					Confidence: 0.7,
					Timestamp:  last.Timestamp,
					Strategy:   s.Name(),
					Reason:     fmt.Sprintf("bearish MA crossover: SMA(%d) crossed below SMA(%d)", s.Short, s.Long),
					Metadata:   map[string]float64{"fast_ma": fast, "slow_ma": slow},
				})
			}
		}
	}
	return signals, nil
}

// Analyze buffers the streamed price and emits on a fresh crossover,
// subject to the confidence and cooldown gates.
func (s *MACross) Analyze(msg market.Message) (*Signal, error) {
	if err := s.ValidateParams(); err != nil {
		return nil, err
	}
	prices := s.observe(msg)
	if len(prices) < s.Long {
		return nil, nil
	}
	cross, fast, slow := s.detect(prices)
	if cross == 0 {
		return nil, nil
	}

	confidence := clampConfidence(math.Abs(fast-slow)/slow*10, 0.8)
	sig := &Signal{
		Symbol:       msg.Symbol,
		Type:         TypeBuy,
		SizeFraction: s.SizeFraction,
		Price:        msg.Price,
		Confidence:   confidence,
		Timestamp:    msg.Timestamp,
		Strategy:     s.Name(),
		Metadata:     map[string]float64{"fast_ma": fast, "slow_ma": slow},
	}
	if cross > 0 {
		sig.Reason = fmt.Sprintf("bullish MA crossover: fast %.2f > slow %.2f", fast, slow)
	} else {
		sig.Type = TypeSell
		sig.Reason = fmt.Sprintf("bearish MA crossover: fast %.2f < slow %.2f", fast, slow)
	}
	return s.admit(sig), nil
}

// detect compares the latest and previous short/long averages and
// returns +1 for a bullish cross, -1 for bearish, 0 for none, plus the
// current averages.
func (s *MACross) detect(prices []float64) (int, float64, float64) {
	fastArr := talib.Sma(prices, s.Short)
	slowArr := talib.Sma(prices, s.Long)
	n := len(prices)
	fast, slow := fastArr[n-1], slowArr[n-1]
	prevFast, prevSlow := fastArr[n-2], slowArr[n-2]
	if slow == 0 {
		return 0, fast, slow
	}
	// First bar where both averages exist: the side the short average
	// lands on counts as the cross.
	if prevSlow == 0 || prevFast == 0 {
		switch {
		case fast > slow:
			return 1, fast, slow
		case fast < slow:
			return -1, fast, slow
		}
		return 0, fast, slow
	}
	switch {
	case prevFast <= prevSlow && fast > slow:
		return 1, fast, slow
	case prevFast >= prevSlow && fast < slow:
		return -1, fast, slow
	}
	return 0, fast, slow
}
