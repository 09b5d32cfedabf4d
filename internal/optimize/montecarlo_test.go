package optimize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func maParams() map[string]float64 {
	return map[string]float64{"short_window": 3, "long_window": 8, "position_size": 0.2}
}

func TestMonteCarloZeroNoiseIsDeterministic(t *testing.T) {
	o := newTestOptimizer(t)
	cfg := MonteCarloConfig{Simulations: 5, NoiseLevel: 0}

	rep, err := o.MonteCarlo(context.Background(), maParams(), trendFrame(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 5, rep.Simulations)
	assert.InDelta(t, 0, rep.Returns.Std, 1e-12)
	assert.InDelta(t, 0, rep.Sharpe.Std, 1e-12)
	assert.Equal(t, rep.Returns.Min, rep.Returns.Max)
	assert.Contains(t, []float64{0, 1}, rep.ProbPositive)
	if rep.Returns.Mean > 0 {
		assert.Equal(t, 1.0, rep.ProbPositive)
	} else {
		assert.Equal(t, 0.0, rep.ProbPositive)
	}
}

func TestMonteCarloNoiseProducesSpread(t *testing.T) {
	o := newTestOptimizer(t)
	cfg := MonteCarloConfig{Simulations: 8, NoiseLevel: 0.01}

	rep, err := o.MonteCarlo(context.Background(), maParams(), trendFrame(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 8, rep.Simulations)
	assert.Greater(t, rep.Returns.Std, 0.0)
	assert.GreaterOrEqual(t, rep.Returns.Max, rep.Returns.P95)
	assert.LessOrEqual(t, rep.Returns.Min, rep.Returns.P5)
	assert.LessOrEqual(t, rep.Drawdown.Max, 0.0)
}

func TestMonteCarloDoesNotMutateInput(t *testing.T) {
	o := newTestOptimizer(t)
	frame := trendFrame()
	series, _ := frame.Series("AAPL")
	before := append([]float64(nil), series.Closes()...)

	_, err := o.MonteCarlo(context.Background(), maParams(), frame, MonteCarloConfig{Simulations: 3, NoiseLevel: 0.05})
	require.NoError(t, err)

	series, _ = frame.Series("AAPL")
	assert.Equal(t, before, series.Closes())
}

func TestMonteCarloRejectsBadConfig(t *testing.T) {
	o := newTestOptimizer(t)

	_, err := o.MonteCarlo(context.Background(), maParams(), trendFrame(), MonteCarloConfig{Simulations: 0})
	assert.Error(t, err)

	_, err = o.MonteCarlo(context.Background(), maParams(), trendFrame(), MonteCarloConfig{Simulations: 5, NoiseLevel: -0.1})
	assert.Error(t, err)
}
