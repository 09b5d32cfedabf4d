package optimize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantra/internal/backtest"
	"quantra/internal/market"
)

func newHoldOptimizer(t *testing.T) *Optimizer {
	t.Helper()
	engine, err := backtest.NewEngine(backtest.DefaultConfig())
	require.NoError(t, err)
	o, err := NewOptimizer(engine, holdFactory)
	require.NoError(t, err)
	return o
}

func flatFrame(days int) *market.Frame {
	closes := make([]float64, days)
	for i := range closes {
		closes[i] = 100
	}
	return frameOf("AAPL", closes)
}

func TestWalkForwardRollingPartitions(t *testing.T) {
	o := newHoldOptimizer(t)
	cfg := WalkForwardConfig{TrainDays: 10, TestDays: 5, StepDays: 5}

	rep, err := o.WalkForward(context.Background(), nil, flatFrame(30), cfg)
	require.NoError(t, err)

	require.Len(t, rep.Windows, 4)
	first := rep.Windows[0]
	assert.Equal(t, day0, first.TrainStart)
	assert.Equal(t, day0.AddDate(0, 0, 9), first.TrainEnd)
	assert.Equal(t, day0.AddDate(0, 0, 10), first.TestStart)
	assert.Equal(t, day0.AddDate(0, 0, 14), first.TestEnd)

	second := rep.Windows[1]
	assert.Equal(t, day0.AddDate(0, 0, 5), second.TrainStart)
	assert.Equal(t, day0.AddDate(0, 0, 14), second.TrainEnd)

	last := rep.Windows[3]
	assert.Equal(t, day0.AddDate(0, 0, 29), last.TestEnd)
}

func TestWalkForwardAnchoredGrowsTrainWindow(t *testing.T) {
	o := newHoldOptimizer(t)
	cfg := WalkForwardConfig{TrainDays: 10, TestDays: 5, StepDays: 5, Anchored: true}

	rep, err := o.WalkForward(context.Background(), nil, flatFrame(30), cfg)
	require.NoError(t, err)

	require.Len(t, rep.Windows, 4)
	for _, w := range rep.Windows {
		assert.Equal(t, day0, w.TrainStart)
	}
	assert.Equal(t, day0.AddDate(0, 0, 19), rep.Windows[2].TrainEnd)
}

func TestWalkForwardNeedsEnoughHistory(t *testing.T) {
	o := newHoldOptimizer(t)
	cfg := WalkForwardConfig{TrainDays: 20, TestDays: 20, StepDays: 5}

	_, err := o.WalkForward(context.Background(), nil, flatFrame(30), cfg)
	assert.ErrorIs(t, err, ErrShortHistory)
}

func TestWalkForwardRejectsBadWindows(t *testing.T) {
	o := newHoldOptimizer(t)

	_, err := o.WalkForward(context.Background(), nil, flatFrame(30), WalkForwardConfig{TrainDays: 10, TestDays: 5})
	assert.Error(t, err)
}

func TestSharpeDegradationTiers(t *testing.T) {
	assert.InDelta(t, 0.10, sharpeDegradation(2.0, 1.8), 1e-9)
	assert.InDelta(t, 0.25, sharpeDegradation(2.0, 1.5), 1e-9)
	assert.InDelta(t, 0.40, sharpeDegradation(2.0, 1.2), 1e-9)
	assert.Zero(t, sharpeDegradation(-0.5, -1.0))
	assert.Zero(t, sharpeDegradation(1.0, 1.5))

	assert.Equal(t, TierLow, classifyDegradation(0.10))
	assert.Equal(t, TierModerate, classifyDegradation(0.25))
	assert.Equal(t, TierHigh, classifyDegradation(0.40))
}

func TestWalkForwardConsistencyOnFlatSeries(t *testing.T) {
	o := newHoldOptimizer(t)
	cfg := WalkForwardConfig{TrainDays: 10, TestDays: 5, StepDays: 10}

	rep, err := o.WalkForward(context.Background(), nil, flatFrame(30), cfg)
	require.NoError(t, err)

	// No trades on a flat series: every window has zero Sharpe.
	assert.Zero(t, rep.ConsistencyRatio)
	assert.Zero(t, rep.MeanTestSharpe)
	assert.Equal(t, TierLow, rep.Tier)
}
