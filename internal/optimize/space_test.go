package optimize

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridIsCartesianProduct(t *testing.T) {
	space := NewSpace().
		Integer("short_window", 2, 4).
		Choice("position_size", 0.1, 0.2)

	combos := space.Grid()
	require.Len(t, combos, 6)
	assert.Equal(t, map[string]float64{"short_window": 2, "position_size": 0.1}, combos[0])
	assert.Equal(t, map[string]float64{"short_window": 4, "position_size": 0.2}, combos[5])
}

func TestGridRangeIncludesEnd(t *testing.T) {
	combos := NewSpace().Range("threshold", 1, 2, 0.5).Grid()
	require.Len(t, combos, 3)
	assert.InDelta(t, 1.0, combos[0]["threshold"], 1e-9)
	assert.InDelta(t, 1.5, combos[1]["threshold"], 1e-9)
	assert.InDelta(t, 2.0, combos[2]["threshold"], 1e-9)
}

func TestGridRealUsesFixedSampling(t *testing.T) {
	combos := NewSpace().Real("size", 0.1, 1.0).Grid()
	require.Len(t, combos, realGridPoints)
	assert.InDelta(t, 0.1, combos[0]["size"], 1e-9)
	assert.InDelta(t, 1.0, combos[len(combos)-1]["size"], 1e-9)
}

func TestSampleRespectsBounds(t *testing.T) {
	space := NewSpace().
		Integer("lookback", 5, 20).
		Real("threshold", 0.5, 3.0).
		Choice("size", 0.1, 0.25)

	rng := rand.New(rand.NewSource(7))
	for _, combo := range space.Sample(rng, 200) {
		lb := combo["lookback"]
		assert.GreaterOrEqual(t, lb, 5.0)
		assert.LessOrEqual(t, lb, 20.0)
		assert.Equal(t, math.Trunc(lb), lb)
		assert.GreaterOrEqual(t, combo["threshold"], 0.5)
		assert.LessOrEqual(t, combo["threshold"], 3.0)
		assert.Contains(t, []float64{0.1, 0.25}, combo["size"])
	}
}

func TestSampleDeterministicBySeed(t *testing.T) {
	space := NewSpace().Real("x", 0, 1).Integer("n", 1, 100)

	a := space.Sample(rand.New(rand.NewSource(42)), 20)
	b := space.Sample(rand.New(rand.NewSource(42)), 20)
	assert.Equal(t, a, b)
}

func TestValidateRejectsBadSpaces(t *testing.T) {
	assert.Error(t, NewSpace().validate())
	assert.Error(t, NewSpace().Range("x", 0, 1, 0).validate())
	assert.Error(t, NewSpace().Integer("x", 5, 2).validate())
	assert.Error(t, NewSpace().Choice("x").validate())
	assert.Error(t, NewSpace().Real("x", 0, 1).Real("x", 0, 1).validate())
	assert.NoError(t, NewSpace().Integer("x", 1, 3).validate())
}
