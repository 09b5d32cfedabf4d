package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantra/internal/market"
	"quantra/internal/portfolio"
)

func msgSeries(symbol string, prices []float64, step time.Duration) []market.Message {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	out := make([]market.Message, len(prices))
	for i, p := range prices {
		out[i] = market.Message{
			Symbol:    symbol,
			Price:     p,
			Volume:    1000,
			Timestamp: start.Add(time.Duration(i) * step),
			Provider:  "test",
		}
	}
	return out
}

func risingPrices(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestMACrossValidateParams(t *testing.T) {
	assert.NoError(t, NewMACross(10, 20, 0.1).ValidateParams())
	// Short window must stay below the long one.
	assert.Error(t, NewMACross(20, 10, 0.1).ValidateParams())
	assert.Error(t, NewMACross(10, 10, 0.1).ValidateParams())
	assert.Error(t, NewMACross(0, 20, 0.1).ValidateParams())
	assert.Error(t, NewMACross(10, 20, 0).ValidateParams())
	assert.Error(t, NewMACross(10, 20, 1.5).ValidateParams())
}

func TestMACrossRisingSeriesEmitsExactlyOneBuy(t *testing.T) {
	s := NewMACross(10, 20, 0.1)
	msgs := msgSeries("AAPL", risingPrices(60, 100, 3), 2*time.Minute)

	var signals []Signal
	for _, msg := range msgs {
		sig, err := s.Analyze(msg)
		require.NoError(t, err)
		if sig != nil {
			signals = append(signals, *sig)
		}
	}
	require.Len(t, signals, 1)
	assert.Equal(t, TypeBuy, signals[0].Type)
	assert.Equal(t, "ma_cross", signals[0].Strategy)
	assert.Greater(t, signals[0].Confidence, 0.5)
}

func TestMACrossCooldownSuppressesRepeats(t *testing.T) {
	s := NewMACross(2, 3, 0.1)
	s.SetMinConfidence(0)
	s.SetCooldown(time.Hour)

	// Oscillating prices produce repeated crossovers; spacing below
	// the cooldown keeps all but the first suppressed.
	prices := []float64{100, 100, 100, 120, 80, 120, 80, 120, 80}
	var count int
	for _, msg := range msgSeries("AAPL", prices, time.Minute) {
		sig, err := s.Analyze(msg)
		require.NoError(t, err)
		if sig != nil {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestMACrossGenerateSignalsReplay(t *testing.T) {
	pf := portfolio.New(100000)
	s := NewMACross(3, 5, 0.1)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	prices := risingPrices(5, 100, 5)
	candles := make([]market.Candle, len(prices))
	for i, p := range prices {
		candles[i] = market.Candle{
			Symbol: "AAPL", Timestamp: start.AddDate(0, 0, i),
			Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1000,
		}
	}
	frame := market.NewFrame(market.Series{Symbol: "AAPL", Candles: candles})

	signals, err := s.GenerateSignals(frame, pf)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, TypeBuy, signals[0].Type)
	assert.Greater(t, signals[0].Quantity, 0.0)
}

func TestMomentumSignals(t *testing.T) {
	s := NewMomentum(10, 2.0, 0.1)
	s.SetCooldown(0)

	// Flat series, then a sharp move up.
	prices := append(risingPrices(10, 100, 0), risingPrices(5, 101, 1.5)...)
	var last *Signal
	for _, msg := range msgSeries("TSLA", prices, time.Minute) {
		sig, err := s.Analyze(msg)
		require.NoError(t, err)
		if sig != nil {
			last = sig
		}
	}
	require.NotNil(t, last)
	assert.Equal(t, TypeBuy, last.Type)
	assert.Equal(t, "momentum", last.Strategy)
	assert.Greater(t, last.Metadata["momentum_pct"], 2.0)
}

func TestMomentumBelowThresholdStaysQuiet(t *testing.T) {
	s := NewMomentum(10, 2.0, 0.1)
	s.SetMinConfidence(0)
	s.SetCooldown(0)

	for _, msg := range msgSeries("TSLA", risingPrices(30, 100, 0.01), time.Minute) {
		sig, err := s.Analyze(msg)
		require.NoError(t, err)
		assert.Nil(t, sig)
	}
}

func TestMeanRevertBuysOversold(t *testing.T) {
	s := NewMeanRevert(20, 1.5, 0.1)
	s.SetMinConfidence(0)
	s.SetCooldown(0)

	prices := risingPrices(20, 100, 0.1)
	// Sudden drop well below the rolling mean.
	prices = append(prices, 90)
	var last *Signal
	for _, msg := range msgSeries("NVDA", prices, time.Minute) {
		sig, err := s.Analyze(msg)
		require.NoError(t, err)
		if sig != nil {
			last = sig
		}
	}
	require.NotNil(t, last)
	assert.Equal(t, TypeBuy, last.Type)
	assert.Less(t, last.Metadata["z_score"], -1.5)
}

func TestMeanRevertConstantSeriesStaysQuiet(t *testing.T) {
	s := NewMeanRevert(20, 1.5, 0.1)
	s.SetMinConfidence(0)
	s.SetCooldown(0)

	for _, msg := range msgSeries("NVDA", risingPrices(40, 100, 0), time.Minute) {
		sig, err := s.Analyze(msg)
		require.NoError(t, err)
		assert.Nil(t, sig)
	}
}

func TestConfidenceGateFiltersWeakSignals(t *testing.T) {
	s := NewMeanRevert(20, 1.5, 0.1)
	s.SetMinConfidence(0.99)
	s.SetCooldown(0)

	prices := append(risingPrices(20, 100, 0.1), 90)
	for _, msg := range msgSeries("NVDA", prices, time.Minute) {
		sig, err := s.Analyze(msg)
		require.NoError(t, err)
		assert.Nil(t, sig)
	}
}
