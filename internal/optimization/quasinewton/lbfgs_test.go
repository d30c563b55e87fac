package quasinewton

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/QNEWT/internal/optimization"
	"github.com/copyleftdev/QNEWT/internal/optimization/testfunctions"
)

func TestLBFGSRejectsBounds(t *testing.T) {
	l := NewLBFGS()
	ev := &optimization.Evaluator{Obj: testfunctions.Sphere{}, Status: optimization.NewStatus([]float64{0})}
	err := l.Initialize(ev, optimization.Bounds{{Lower: 0, Upper: 1}}, []float64{0.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use LBFGSB")
}

func TestLBFGSHistoryMustBePositive(t *testing.T) {
	for _, history := range []int{0, -3} {
		m := optimization.NewMinimizer(&LBFGS{History: history})
		st, err := m.Minimize(testfunctions.Sphere{}, []float64{0, 0}, nil, nil)
		require.Error(t, err)
		assert.Nil(t, st)
		assert.Contains(t, err.Error(), "history length must be positive")
	}
}

func TestLBFGSRosenbrock(t *testing.T) {
	// The standard hard start (-1.2, 1) with a short history.
	alg := NewLBFGS()
	alg.History = 5
	m := optimization.NewMinimizer(alg)

	st, err := m.Minimize(testfunctions.Rosenbrock{}, []float64{-1.2, 1}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, optimization.VerdictConverged, st.Verdict, "message: %s", st.Message)
	assert.InDelta(t, 1, st.X[0], 1e-5)
	assert.InDelta(t, 1, st.X[1], 1e-5)
	assert.InDelta(t, 0, st.Fx, 1e-9)
}

func TestLBFGSShiftedParaboloid(t *testing.T) {
	m := optimization.NewMinimizer(NewLBFGS())

	st, err := m.Minimize(testfunctions.Sphere{Center: []float64{1, 2}}, []float64{0, 0}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, optimization.VerdictConverged, st.Verdict, "message: %s", st.Message)
	assert.Less(t, st.Iterations, 100)
	assert.InDelta(t, 1, st.X[0], 1e-6)
	assert.InDelta(t, 2, st.X[1], 1e-6)
}

func TestLBFGSHistoryOneStillConverges(t *testing.T) {
	// m=1 degrades the direction quality but never the convergence guarantee
	// on a convex quadratic.
	alg := NewLBFGS()
	alg.History = 1
	m := optimization.NewMinimizer(alg)

	st, err := m.Minimize(testfunctions.Sphere{Center: []float64{-2, 4}}, []float64{0, 0}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, optimization.VerdictConverged, st.Verdict, "message: %s", st.Message)
	assert.InDelta(t, -2, st.X[0], 1e-6)
	assert.InDelta(t, 4, st.X[1], 1e-6)
}

func TestLBFGSDeterministicAcrossInitialize(t *testing.T) {
	alg := NewLBFGS()
	m := optimization.NewMinimizer(alg)

	first, err := m.Minimize(testfunctions.Rosenbrock{}, []float64{-1.2, 1}, nil, nil)
	require.NoError(t, err)
	second, err := m.Minimize(testfunctions.Rosenbrock{}, []float64{-1.2, 1}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Iterations, second.Iterations)
	assert.Equal(t, first.FuncEvals, second.FuncEvals)
	assert.Equal(t, first.X, second.X)
}

func TestLBFGSZeroGradientConvergesImmediately(t *testing.T) {
	obj := optimization.ObjectiveFunc(func(x []float64) (float64, error) { return -2.5, nil })

	m := optimization.NewMinimizer(NewLBFGS())
	st, err := m.Minimize(obj, []float64{1, 2, 3}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, optimization.VerdictConverged, st.Verdict)
	assert.Equal(t, 1, st.Iterations)
	assert.Equal(t, -2.5, st.Fx)
}
