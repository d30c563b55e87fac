package optimization

import (
	"math"
	"runtime"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/mat"
)

// Objective is a scalar function over a real vector space. Implementations
// must be deterministic and side-effect free; the solvers rely on both. An
// Objective may be shared read-only across concurrent evaluations.
type Objective interface {
	// Evaluate returns f(x).
	Evaluate(x []float64) (float64, error)
}

// GradientObjective is an Objective that also provides an analytic gradient.
// Objectives without one fall back to central finite differences.
type GradientObjective interface {
	Objective

	// Gradient returns ∇f(x).
	Gradient(x []float64) ([]float64, error)
}

// HessianObjective is an Objective that also provides an analytic Hessian.
type HessianObjective interface {
	Objective

	// Hessian returns the matrix of second derivatives at x.
	Hessian(x []float64) (*mat.SymDense, error)
}

// ObjectiveFunc adapts a plain function to the Objective interface.
type ObjectiveFunc func(x []float64) (float64, error)

// Evaluate implements Objective.
func (f ObjectiveFunc) Evaluate(x []float64) (float64, error) { return f(x) }

// machEps is the double-precision machine epsilon.
const machEps = 2.220446049250313e-16

// FiniteDifferences configures the numerical fallbacks used when an Objective
// does not supply its own derivatives.
type FiniteDifferences struct {
	// Step is the relative perturbation size. Zero means sqrt(machine epsilon),
	// scaled per coordinate by max(1, |x_i|).
	Step float64

	// Concurrent evaluates the per-coordinate probes on a goroutine pool.
	// The Objective must tolerate concurrent read-only use. Results are merged
	// by coordinate index, so the gradient is deterministic either way.
	Concurrent bool

	// MaxProcs bounds the pool size when Concurrent is set. Zero means
	// GOMAXPROCS.
	MaxProcs int
}

func (fd FiniteDifferences) baseStep() float64 {
	if fd.Step > 0 {
		return fd.Step
	}
	return math.Sqrt(machEps)
}

func (fd FiniteDifferences) procs() int {
	if fd.MaxProcs > 0 {
		return fd.MaxProcs
	}
	return runtime.GOMAXPROCS(0)
}

// Gradient computes ∇f(x) by central differences,
// (f(x+h·e_i) - f(x-h·e_i)) / 2h with h = Step·max(1, |x_i|) per coordinate.
func (fd FiniteDifferences) Gradient(obj Objective, x []float64) ([]float64, error) {
	grad := make([]float64, len(x))

	probe := func(i int) error {
		h := fd.baseStep() * math.Max(1, math.Abs(x[i]))
		xp := append([]float64(nil), x...)
		xm := append([]float64(nil), x...)
		xp[i] += h
		xm[i] -= h

		fp, err := obj.Evaluate(xp)
		if err != nil {
			return err
		}
		fm, err := obj.Evaluate(xm)
		if err != nil {
			return err
		}
		grad[i] = (fp - fm) / (2 * h)
		return nil
	}

	if fd.Concurrent {
		p := pool.New().WithErrors().WithMaxGoroutines(fd.procs())
		for i := range x {
			p.Go(func() error { return probe(i) })
		}
		if err := p.Wait(); err != nil {
			return nil, err
		}
		return grad, nil
	}

	for i := range x {
		if err := probe(i); err != nil {
			return nil, err
		}
	}
	return grad, nil
}

// Hessian computes the matrix of second derivatives by central differences of
// the gradient, symmetrized. The gradient itself is analytic when the
// Objective provides one.
func (fd FiniteDifferences) Hessian(obj Objective, x []float64) (*mat.SymDense, error) {
	if h, ok := obj.(HessianObjective); ok {
		return h.Hessian(x)
	}

	n := len(x)
	rows := make([][]float64, n)

	probe := func(i int) error {
		h := fd.baseStep() * math.Max(1, math.Abs(x[i]))
		xp := append([]float64(nil), x...)
		xm := append([]float64(nil), x...)
		xp[i] += h
		xm[i] -= h

		gp, err := fd.gradientOf(obj, xp)
		if err != nil {
			return err
		}
		gm, err := fd.gradientOf(obj, xm)
		if err != nil {
			return err
		}
		row := make([]float64, n)
		for j := 0; j < n; j++ {
			row[j] = (gp[j] - gm[j]) / (2 * h)
		}
		rows[i] = row
		return nil
	}

	if fd.Concurrent {
		p := pool.New().WithErrors().WithMaxGoroutines(fd.procs())
		for i := 0; i < n; i++ {
			p.Go(func() error { return probe(i) })
		}
		if err := p.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := 0; i < n; i++ {
			if err := probe(i); err != nil {
				return nil, err
			}
		}
	}

	hess := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			hess.SetSym(i, j, 0.5*(rows[i][j]+rows[j][i]))
		}
	}
	return hess, nil
}

// gradientOf prefers the analytic gradient and falls back to finite
// differences. The fallback runs sequentially here; Hessian probes already
// parallelize one level up.
func (fd FiniteDifferences) gradientOf(obj Objective, x []float64) ([]float64, error) {
	if g, ok := obj.(GradientObjective); ok {
		return g.Gradient(x)
	}
	seq := fd
	seq.Concurrent = false
	return seq.Gradient(obj, x)
}

// Evaluator couples an Objective with the run's Status so that every function,
// gradient and Hessian call is counted. All solver evaluations go through it.
type Evaluator struct {
	Obj    Objective
	FD     FiniteDifferences
	Status *Status
}

// Value returns f(x) and increments the function evaluation counter.
func (e *Evaluator) Value(x []float64) (float64, error) {
	e.Status.FuncEvals++
	return e.Obj.Evaluate(x)
}

// Gradient returns ∇f(x), analytic when available, and increments the
// gradient evaluation counter.
func (e *Evaluator) Gradient(x []float64) ([]float64, error) {
	e.Status.GradEvals++
	if g, ok := e.Obj.(GradientObjective); ok {
		return g.Gradient(x)
	}
	return e.FD.Gradient(e.Obj, x)
}

// Hessian returns the second-derivative matrix at x and increments the
// Hessian evaluation counter.
func (e *Evaluator) Hessian(x []float64) (*mat.SymDense, error) {
	e.Status.HessEvals++
	return e.FD.Hessian(e.Obj, x)
}

// allFinite reports whether every element of v is a normal number.
func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
