package optimization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// (x0-3)^2 + (x1+1)^2，约束 [0,2] x [0,2]，最优点在 (2, 0).
func shiftedBowl() (Objective, Gradient, Box) {
	f := func(x []float64) float64 {
		return (x[0]-3)*(x[0]-3) + (x[1]+1)*(x[1]+1)
	}
	g := func(x, grad []float64) {
		grad[0] = 2 * (x[0] - 3)
		grad[1] = 2 * (x[1] + 1)
	}
	box := Box{Lower: []float64{0, 0}, Upper: []float64{2, 2}}
	return f, g, box
}

func TestSPGRespectsBox(t *testing.T) {
	f, g, box := shiftedBowl()
	res := MinimizeSPG(f, g, []float64{1, 1}, box, DefaultSPGOptions())

	assert.True(t, res.Converged)
	assert.InDelta(t, 2.0, res.X[0], 1e-6)
	assert.InDelta(t, 0.0, res.X[1], 1e-6)
	assert.InDelta(t, 2.0, res.F, 1e-6)
}

func TestSPGInteriorMinimum(t *testing.T) {
	f := func(x []float64) float64 { return (x[0]-0.3)*(x[0]-0.3) + 4*(x[1]+0.2)*(x[1]+0.2) }
	g := func(x, grad []float64) {
		grad[0] = 2 * (x[0] - 0.3)
		grad[1] = 8 * (x[1] + 0.2)
	}
	box := Box{Lower: []float64{-1, -1}, Upper: []float64{1, 1}}
	res := MinimizeSPG(f, g, []float64{-0.9, 0.9}, box, DefaultSPGOptions())

	assert.InDelta(t, 0.3, res.X[0], 1e-5)
	assert.InDelta(t, -0.2, res.X[1], 1e-5)
}

func TestSPGProjectsInfeasibleStart(t *testing.T) {
	f, g, box := shiftedBowl()
	res := MinimizeSPG(f, g, []float64{10, -10}, box, SPGOptions{MaxIter: 0, Tol: 1e-8, Gamma: 1e-4, AlphaMin: 1e-10, AlphaMax: 1e10})
	assert.Equal(t, []float64{2, 0}, res.X)
}

func TestDifferentialEvolutionFindsBoxMinimum(t *testing.T) {
	f, _, box := shiftedBowl()
	opts := DefaultDEOptions()
	res, err := DifferentialEvolution(context.Background(), f, box, opts)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, res.X[0], 1e-3)
	assert.InDelta(t, 0.0, res.X[1], 1e-3)
	for i, v := range res.X {
		assert.GreaterOrEqual(t, v, box.Lower[i])
		assert.LessOrEqual(t, v, box.Upper[i])
	}
}

func TestDifferentialEvolutionIsDeterministic(t *testing.T) {
	f, _, box := shiftedBowl()
	opts := DefaultDEOptions()
	opts.Generations = 5
	a, err := DifferentialEvolution(context.Background(), f, box, opts)
	require.NoError(t, err)
	b, err := DifferentialEvolution(context.Background(), f, box, opts)
	require.NoError(t, err)
	assert.Equal(t, a.X, b.X)
}

func TestDifferentialEvolutionUsesSeeds(t *testing.T) {
	f, _, box := shiftedBowl()
	opts := DefaultDEOptions()
	opts.Generations = 0
	res, err := DifferentialEvolution(context.Background(), f, box, opts, []float64{2, 0})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0}, res.X)
}

func TestDifferentialEvolutionHonoursCancel(t *testing.T) {
	f, _, box := shiftedBowl()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DifferentialEvolution(ctx, f, box, DefaultDEOptions())
	assert.ErrorIs(t, err, context.Canceled)
}
