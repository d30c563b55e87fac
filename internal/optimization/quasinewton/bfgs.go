package quasinewton

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/QNEWT/internal/optimization"
)

// BFGS is the dense quasi-Newton solver. It maintains an explicit approximate
// inverse Hessian, initialized to the identity, and applies the rank-2 BFGS
// update whenever the curvature condition s·y > 0 holds. Updates that would
// destroy positive-definiteness are skipped, never applied blindly.
//
// BFGS works in unconstrained space only; pass bounds to LBFGSB instead.
type BFGS struct {
	// LineSearch is the strong Wolfe search used for every step.
	LineSearch StrongWolfe
	// ScaleInitial scales the identity by 1/‖∇f(x0)‖ before the first step to
	// avoid an oversized initial trial.
	ScaleInitial bool

	dim       int
	x         []float64
	fx        float64
	grad      []float64
	invHess   *mat.Dense
	firstStep bool
}

// NewBFGS returns a BFGS solver with default settings.
func NewBFGS() *BFGS {
	return &BFGS{ScaleInitial: true}
}

// Initialize implements optimization.Algorithm. It evaluates the starting
// point and resets the inverse Hessian; calling it on a used instance starts
// a completely fresh run.
func (b *BFGS) Initialize(ev *optimization.Evaluator, bounds optimization.Bounds, x0 []float64) error {
	if bounds != nil {
		return optimization.NewError("bounds are not supported; use LBFGSB").
			WithOperation("initialize").WithComponent("bfgs")
	}

	b.dim = len(x0)
	b.x = append([]float64(nil), x0...)
	b.Reset()

	fx, err := ev.Value(b.x)
	if err != nil {
		return err
	}
	grad, err := ev.Gradient(b.x)
	if err != nil {
		return err
	}
	b.fx = fx
	b.grad = grad
	ev.Status.Update(b.x, b.fx, b.grad)
	return nil
}

// Reset implements optimization.Algorithm, restoring the identity inverse
// Hessian.
func (b *BFGS) Reset() {
	b.invHess = identity(b.dim)
	b.firstStep = true
}

// Step implements optimization.Algorithm: one direction, one line search, one
// secant update.
func (b *BFGS) Step(ev *optimization.Evaluator) error {
	if b.firstStep && b.ScaleInitial {
		if norm := floats.Norm(b.grad, 2); norm > 0 && !math.IsInf(norm, 1) {
			b.invHess.Scale(1/norm, b.invHess)
		}
	}
	b.firstStep = false

	dir := b.direction()

	res, err := searchWithFallback(ev, b.LineSearch, b.x, b.fx, b.grad, dir, b.Reset)
	if err != nil {
		return err
	}

	if !allFinite(res.Grad) || math.IsNaN(res.Fx) {
		return optimization.ErrDegenerate
	}

	s := make([]float64, b.dim)
	y := make([]float64, b.dim)
	floats.SubTo(s, res.X, b.x)
	floats.SubTo(y, res.Grad, b.grad)

	if sy := floats.Dot(s, y); sy > 0 {
		b.applyUpdate(s, y, sy)
	}
	// s·y ≤ 0: curvature condition failed, keep the current estimate.

	b.x = append(b.x[:0], res.X...)
	b.fx = res.Fx
	b.grad = append(b.grad[:0], res.Grad...)
	ev.Status.Update(b.x, b.fx, b.grad)
	return nil
}

// direction computes -H·∇f.
func (b *BFGS) direction() []float64 {
	dir := make([]float64, b.dim)
	dv := mat.NewVecDense(b.dim, dir)
	dv.MulVec(b.invHess, mat.NewVecDense(b.dim, b.grad))
	floats.Scale(-1, dir)
	return dir
}

// applyUpdate performs the inverse-Hessian update
//
//	H' = (I - ρ·s·yᵀ) H (I - ρ·y·sᵀ) + ρ·s·sᵀ,  ρ = 1/(s·y),
//
// which preserves positive-definiteness whenever s·y > 0.
func (b *BFGS) applyUpdate(s, y []float64, sy float64) {
	n := b.dim
	rho := 1 / sy

	left := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := -rho * s[i] * y[j]
			if i == j {
				v++
			}
			left.Set(i, j, v)
		}
	}

	var tmp, updated mat.Dense
	tmp.Mul(left, b.invHess)
	updated.Mul(&tmp, left.T())
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			updated.Set(i, j, updated.At(i, j)+rho*s[i]*s[j])
		}
	}
	b.invHess.Copy(&updated)
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// searchWithFallback runs the line search along dir and, when it fails,
// resets the caller's curvature state and retries once along the steepest
// descent direction. Both attempts failing is a stall.
func searchWithFallback(ev *optimization.Evaluator, ls StrongWolfe, x []float64, fx float64, grad, dir []float64, reset func()) (LineSearchResult, error) {
	res, err := ls.Search(ev, x, fx, grad, dir, 0)
	if err == nil && res.Valid {
		return res, nil
	}
	if _, ok := optimization.IsOptimizationError(err); err != nil && !ok {
		// Objective failure, not a search failure.
		return LineSearchResult{}, err
	}

	reset()
	fallback := make([]float64, len(grad))
	floats.ScaleTo(fallback, -1, grad)

	res, err = ls.Search(ev, x, fx, grad, fallback, 0)
	if err != nil {
		if _, ok := optimization.IsOptimizationError(err); ok {
			// Even -∇f is not a descent direction: the gradient is zero or
			// non-finite. Let the terminator decide whether this is
			// convergence or a stall.
			return LineSearchResult{}, optimization.ErrStalled
		}
		return LineSearchResult{}, err
	}
	if !res.Valid {
		return LineSearchResult{}, optimization.ErrStalled
	}
	return res, nil
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
