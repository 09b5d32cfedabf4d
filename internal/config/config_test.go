package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
app:
  mode: backtest
data:
  symbols: [aapl, msft]
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeBacktest, cfg.App.Mode)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "1d", cfg.Data.Interval)
	assert.Equal(t, 100000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, 0.001, cfg.Backtest.CommissionRate)
	assert.Equal(t, 0.25, cfg.Backtest.MaxPositionFraction)
	assert.Equal(t, "SPY", cfg.Backtest.Benchmark)
	assert.Equal(t, 10000, cfg.Stream.Queue.NormalCapacity)
	assert.Equal(t, 5*time.Minute, cfg.Stream.Queue.MaxAge)
	assert.Equal(t, 0.15, cfg.Risk.Limits.MaxDrawdown)
	assert.Equal(t, 0.05, cfg.Risk.StopLossPct)
	assert.Equal(t, 100000.0, cfg.Live.InitialCash)
	assert.Equal(t, "@midnight", cfg.Live.RolloverSpec)
	assert.Equal(t, 252, cfg.Optimizer.WalkForward.TrainDays)
	assert.Equal(t, "sharpe_ratio", cfg.Optimizer.Metric)
}

func TestLoadRespectsExplicitZero(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
app:
  mode: backtest
data:
  symbols: [aapl]
backtest:
  commission_rate: 0
  slippage_rate: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Backtest.CommissionRate)
	assert.Zero(t, cfg.Backtest.SlippageRate)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
backtest:
  initial_capital: 50000
live:
  initial_cash: 25000
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
app:
  mode: live
data:
  symbols: [btcusdt]
live:
  initial_cash: 30000
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, 30000.0, cfg.Live.InitialCash)
	assert.Equal(t, ModeLive, cfg.App.Mode)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeConfig(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLoadRejectsBadMode(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
app:
  mode: paper
data:
  symbols: [aapl]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.mode")
}

func TestLoadRequiresSymbols(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "app:\n  mode: backtest\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.symbols")
}

func TestLoadRejectsUnknownMetric(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig+`
optimizer:
  metric: luck
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "optimizer.metric")
}

func TestDataWindowParsing(t *testing.T) {
	d := DataConfig{StartDate: "2024-01-02", EndDate: "2024-06-30"}
	start, end, err := d.Window()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), end)

	_, _, err = DataConfig{StartDate: "02/01/2024"}.Window()
	assert.Error(t, err)
}

func TestLoadRejectsInvertedWindow(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig+`
  start_date: "2024-06-01"
  end_date: "2024-01-01"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "end_date")
}
