package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantra/internal/portfolio"
)

func curve(values ...float64) []DayRecord {
	out := make([]DayRecord, len(values))
	for i, v := range values {
		out[i] = DayRecord{Date: day0.AddDate(0, 0, i), PortfolioValue: v, Cash: v}
	}
	return out
}

func TestFlatCurveHasZeroRiskMetrics(t *testing.T) {
	cfg := DefaultConfig()
	res := computeResult("flat", cfg, curve(100000, 100000, 100000, 100000), nil)

	assert.Zero(t, res.TotalReturn)
	assert.Zero(t, res.Volatility)
	assert.Zero(t, res.SharpeRatio)
	assert.Zero(t, res.MaxDrawdown)
}

func TestMaxDrawdownOnKnownCurve(t *testing.T) {
	cfg := DefaultConfig()
	// Peak 120000, trough 90000: drawdown 25%.
	res := computeResult("dd", cfg, curve(100000, 120000, 90000, 110000), nil)
	assert.InDelta(t, -25, res.MaxDrawdown, 1e-9)
	assert.Less(t, res.CalmarRatio, math.Inf(1))
}

func TestAnnualReturnCompounds(t *testing.T) {
	cfg := DefaultConfig()
	history := []DayRecord{
		{Date: day0, PortfolioValue: 100000},
		{Date: day0.AddDate(1, 0, 0), PortfolioValue: 121000},
	}
	res := computeResult("yr", cfg, history, nil)
	assert.InDelta(t, 21, res.TotalReturn, 1e-9)
	// One year and change of 21% compounds to just under 21% annualized.
	assert.InDelta(t, 20.95, res.AnnualReturn, 0.2)
}

func TestRoundTripMatchingIsFIFO(t *testing.T) {
	ts := func(d int) time.Time { return day0.AddDate(0, 0, d) }
	trades := []portfolio.Trade{
		{Symbol: "AAPL", Side: portfolio.SideBuy, Quantity: 10, Price: 100, Timestamp: ts(0)},
		{Symbol: "AAPL", Side: portfolio.SideBuy, Quantity: 10, Price: 110, Timestamp: ts(1)},
		// Sells 15: 10 matched against the first lot, 5 against the second.
		{Symbol: "AAPL", Side: portfolio.SideSell, Quantity: 15, Price: 120, Timestamp: ts(5)},
	}
	rounds := matchRoundTrips(trades)
	require.Len(t, rounds, 2)
	assert.InDelta(t, 10*(120-100), rounds[0].pnl, 1e-9)
	assert.InDelta(t, 5, rounds[0].durationDays, 1e-9)
	assert.InDelta(t, 5*(120-110), rounds[1].pnl, 1e-9)
	assert.InDelta(t, 4, rounds[1].durationDays, 1e-9)
}

func TestWinRateAndProfitFactor(t *testing.T) {
	ts := func(d int) time.Time { return day0.AddDate(0, 0, d) }
	trades := []portfolio.Trade{
		{Symbol: "AAPL", Side: portfolio.SideBuy, Quantity: 10, Price: 100, Timestamp: ts(0)},
		{Symbol: "AAPL", Side: portfolio.SideSell, Quantity: 10, Price: 110, Timestamp: ts(1)},
		{Symbol: "MSFT", Side: portfolio.SideBuy, Quantity: 10, Price: 100, Timestamp: ts(0)},
		{Symbol: "MSFT", Side: portfolio.SideSell, Quantity: 10, Price: 95, Timestamp: ts(2)},
	}
	res := computeResult("pf", DefaultConfig(), curve(100000, 100050, 100100), trades)

	assert.InDelta(t, 50, res.WinRate, 1e-9)
	// Average win 100 vs average loss 50.
	assert.InDelta(t, 2, res.ProfitFactor, 1e-9)
	assert.InDelta(t, 1.5, res.AvgDurationDay, 1e-9)
	assert.Equal(t, 4, res.TotalTrades)
}

func TestAllWinnersProfitFactorInfinite(t *testing.T) {
	ts := func(d int) time.Time { return day0.AddDate(0, 0, d) }
	trades := []portfolio.Trade{
		{Symbol: "AAPL", Side: portfolio.SideBuy, Quantity: 10, Price: 100, Timestamp: ts(0)},
		{Symbol: "AAPL", Side: portfolio.SideSell, Quantity: 10, Price: 120, Timestamp: ts(1)},
	}
	res := computeResult("win", DefaultConfig(), curve(100000, 100200), trades)
	assert.True(t, math.IsInf(res.ProfitFactor, 1))
	assert.InDelta(t, 100, res.WinRate, 1e-9)
}

func TestBenchmarkBetaOnLeveredCurve(t *testing.T) {
	// Portfolio returns are exactly twice the benchmark's each day.
	history := curve(100000, 120000, 96000, 115200)
	bench := []float64{100, 110, 99, 108.9}

	alpha, beta := benchmarkMetrics(history, bench)
	assert.InDelta(t, 2.0, beta, 1e-9)
	assert.InDelta(t, 0.0, alpha, 1e-6)
}

func TestBenchmarkMetricsDegenerateInputs(t *testing.T) {
	history := curve(100000, 101000, 102000, 103000)

	// A flat benchmark has no variance to regress against.
	alpha, beta := benchmarkMetrics(history, []float64{100, 100, 100, 100})
	assert.Zero(t, alpha)
	assert.Zero(t, beta)

	// Series of mismatched length.
	alpha, beta = benchmarkMetrics(history, []float64{100, 101})
	assert.Zero(t, alpha)
	assert.Zero(t, beta)
}
