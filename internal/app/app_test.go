package app

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantra/internal/backtest"
	"quantra/internal/config"
	"quantra/internal/market"
	"quantra/internal/store"
	"quantra/internal/strategy"
)

const optimizeProfiles = `
strategies:
  ma_cross:
    enabled: true
    params:
      short_window: 10
      long_window: 30
      position_size: 0.2
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// seedCandles writes a year of oscillating daily closes so moving
// average strategies cross repeatedly.
func seedCandles(t *testing.T, path, symbol string) {
	t.Helper()
	s, err := store.NewCandleStore(path)
	require.NoError(t, err)
	defer s.Close()

	day0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, 0, 200)
	for i := 0; i < 200; i++ {
		px := 100 + 20*math.Sin(float64(i)/12)
		candles = append(candles, market.Candle{
			Symbol: symbol, Timestamp: day0.AddDate(0, 0, i),
			Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 10000,
		})
	}
	require.NoError(t, s.SaveCandles(context.Background(), symbol, "1d", candles))
}

func optimizeConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	profiles := filepath.Join(dir, "strategies.yaml")
	writeFile(t, profiles, optimizeProfiles)

	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, fmt.Sprintf(`
app:
  mode: optimize
  log_level: error
data:
  symbols: [AAPL]
  candle_db_path: %s
  result_db_path: %s
  profiles_path: %s
  start_date: "2024-01-01"
  end_date: "2024-12-31"
backtest:
  commission_rate: 0
  slippage_rate: 0
optimizer:
  workers: 2
  metric: total_return
  walk_forward:
    train_days: 40
    test_days: 20
    step_days: 20
  monte_carlo:
    simulations: 8
    noise_level: 0
`,
		filepath.Join(dir, "candles.db"),
		filepath.Join(dir, "results.db"),
		profiles))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	return cfg
}

func TestRunOptimizeEndToEnd(t *testing.T) {
	dir := t.TempDir()
	seedCandles(t, filepath.Join(dir, "candles.db"), "AAPL")
	cfg := optimizeConfig(t, dir)

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.Run(context.Background()))
}

func TestRunOptimizeFailsWithoutStrategies(t *testing.T) {
	dir := t.TempDir()
	seedCandles(t, filepath.Join(dir, "candles.db"), "AAPL")
	cfg := optimizeConfig(t, dir)
	writeFile(t, cfg.Data.ProfilesPath, "strategies: {}\n")

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no enabled strategies")
}

func TestSearchSpacesCoverBuiltins(t *testing.T) {
	for _, name := range []string{"ma_cross", "momentum", "mean_revert"} {
		space, ok := searchSpace(name)
		require.True(t, ok, name)
		assert.Greater(t, space.Dim(), 0, name)
	}
	_, ok := searchSpace("unknown")
	assert.False(t, ok)
}

func TestBridgeFactoryConvertsParams(t *testing.T) {
	var got map[string]any
	f := bridgeFactory(func(params map[string]any) (strategy.Strategy, error) {
		got = params
		return strategy.NewMACross(5, 20, 0.1), nil
	})

	s, err := f(map[string]float64{"short_window": 10, "long_window": 30})
	require.NoError(t, err)
	assert.Equal(t, "ma_cross", s.Name())
	assert.Equal(t, float64(10), got["short_window"])
	assert.Equal(t, float64(30), got["long_window"])
}

func TestRunSummaryReportsPercentValuesOnce(t *testing.T) {
	line := runSummary(backtest.Result{
		StrategyName: "ma_cross",
		TotalReturn:  8.5,
		AnnualReturn: 12.25,
		SharpeRatio:  1.3,
		MaxDrawdown:  -4.2,
		WinRate:      62.5,
		TotalTrades:  12,
	})
	assert.Contains(t, line, "return=   8.50%")
	assert.Contains(t, line, "annual=  12.25%")
	assert.Contains(t, line, "maxdd= -4.20%")
	assert.Contains(t, line, "win= 62.5%")
}
