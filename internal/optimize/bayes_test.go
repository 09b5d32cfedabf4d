package optimize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBayesianSearchEvaluatesRequestedCalls(t *testing.T) {
	o := newTestOptimizer(t, WithSeed(7))
	space := NewSpace().
		Integer("short_window", 2, 5).
		Integer("long_window", 6, 10).
		Real("position_size", 0.1, 0.5)

	rep, err := o.BayesianSearch(context.Background(), space, trendFrame(), 20)
	require.NoError(t, err)

	assert.Len(t, rep.Evaluations, 20)
	require.NoError(t, rep.Best.Err)
	assert.Less(t, rep.Best.Params["short_window"], rep.Best.Params["long_window"])
}

func TestBayesianSearchRejectsZeroCalls(t *testing.T) {
	o := newTestOptimizer(t)
	space := NewSpace().Integer("short_window", 2, 5)

	_, err := o.BayesianSearch(context.Background(), space, trendFrame(), 0)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestFitSurrogateNeedsEnoughPoints(t *testing.T) {
	space := NewSpace().Real("x", 0, 1)

	evals := []Evaluation{
		{Params: map[string]float64{"x": 0.1}, Score: 1},
		{Params: map[string]float64{"x": 0.5}, Score: 2},
	}
	_, ok := fitSurrogate(space, evals)
	assert.False(t, ok)
}

func TestFitSurrogateSingularOnDuplicatePoints(t *testing.T) {
	space := NewSpace().Real("x", 0, 1)

	var evals []Evaluation
	for i := 0; i < 6; i++ {
		evals = append(evals, Evaluation{Params: map[string]float64{"x": 0.5}, Score: 1})
	}
	_, ok := fitSurrogate(space, evals)
	assert.False(t, ok)
}

func TestSurrogateRecoversQuadratic(t *testing.T) {
	space := NewSpace().Real("x", 0, 4)

	// Objective -(x-2)^2 peaks at x=2; the fitted surrogate of the
	// negated objective should predict its minimum there.
	var evals []Evaluation
	for _, x := range []float64{0, 0.5, 1, 2, 3, 3.5, 4} {
		evals = append(evals, Evaluation{
			Params: map[string]float64{"x": x},
			Score:  -(x - 2) * (x - 2),
		})
	}
	fit, ok := fitSurrogate(space, evals)
	require.True(t, ok)

	assert.InDelta(t, 0, fit.predict(map[string]float64{"x": 2}), 1e-6)
	assert.Less(t, fit.predict(map[string]float64{"x": 2}), fit.predict(map[string]float64{"x": 0}))
	assert.Less(t, fit.predict(map[string]float64{"x": 2}), fit.predict(map[string]float64{"x": 4}))
}
