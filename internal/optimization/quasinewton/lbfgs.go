package quasinewton

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/QNEWT/internal/optimization"
)

// DefaultHistory is the default number of secant pairs retained by the
// limited-memory solvers.
const DefaultHistory = 10

// LBFGS is the limited-memory BFGS solver. The inverse Hessian is never
// materialized; the search direction is rebuilt each step from the last
// History secant pairs via the two-loop recursion, seeded with the
// γ = (s·y)/(y·y) scaling of the most recent pair.
type LBFGS struct {
	// LineSearch is the strong Wolfe search used for every step.
	LineSearch StrongWolfe
	// History is the number of secant pairs retained (m). Must be positive.
	History int

	dim  int
	x    []float64
	fx   float64
	grad []float64
	ring *pairRing
}

// NewLBFGS returns an LBFGS solver with the default history length.
func NewLBFGS() *LBFGS {
	return &LBFGS{History: DefaultHistory}
}

// Initialize implements optimization.Algorithm.
func (l *LBFGS) Initialize(ev *optimization.Evaluator, bounds optimization.Bounds, x0 []float64) error {
	if bounds != nil {
		return optimization.NewError("bounds are not supported; use LBFGSB").
			WithOperation("initialize").WithComponent("lbfgs")
	}
	if l.History <= 0 {
		return optimization.NewErrorf("history length must be positive, got %d", l.History).
			WithOperation("initialize").WithComponent("lbfgs")
	}

	l.dim = len(x0)
	l.x = append([]float64(nil), x0...)
	l.ring = newPairRing(l.History)

	fx, err := ev.Value(l.x)
	if err != nil {
		return err
	}
	grad, err := ev.Gradient(l.x)
	if err != nil {
		return err
	}
	l.fx = fx
	l.grad = grad
	ev.Status.Update(l.x, l.fx, l.grad)
	return nil
}

// Reset implements optimization.Algorithm by discarding the secant history.
func (l *LBFGS) Reset() {
	if l.ring != nil {
		l.ring.clear()
	}
}

// Step implements optimization.Algorithm.
func (l *LBFGS) Step(ev *optimization.Evaluator) error {
	dir := twoLoopDirection(l.ring, l.grad)

	res, err := searchWithFallback(ev, l.LineSearch, l.x, l.fx, l.grad, dir, l.Reset)
	if err != nil {
		return err
	}
	if !allFinite(res.Grad) || math.IsNaN(res.Fx) {
		return optimization.ErrDegenerate
	}

	s := make([]float64, l.dim)
	y := make([]float64, l.dim)
	floats.SubTo(s, res.X, l.x)
	floats.SubTo(y, res.Grad, l.grad)
	pushPairIfCurved(l.ring, s, y)

	l.x = append(l.x[:0], res.X...)
	l.fx = res.Fx
	l.grad = append(l.grad[:0], res.Grad...)
	ev.Status.Update(l.x, l.fx, l.grad)
	return nil
}

// pushPairIfCurved records a secant pair unless the curvature condition
// s·y > 0 fails, matching the dense BFGS update-skip rule.
func pushPairIfCurved(ring *pairRing, s, y []float64) {
	if sy := floats.Dot(s, y); sy > 0 {
		ring.push(s, y, 1/sy)
	}
}

// twoLoopDirection reconstructs -H·grad from the stored secant pairs.
func twoLoopDirection(ring *pairRing, grad []float64) []float64 {
	q := append([]float64(nil), grad...)
	k := ring.len()
	alphas := make([]float64, k)

	for i := 0; i < k; i++ { // newest to oldest
		p := ring.at(i)
		alphas[i] = p.rho * floats.Dot(p.s, q)
		floats.AddScaled(q, -alphas[i], p.y)
	}

	if k > 0 {
		newest := ring.at(0)
		gamma := floats.Dot(newest.s, newest.y) / floats.Dot(newest.y, newest.y)
		floats.Scale(gamma, q)
	}

	for i := k - 1; i >= 0; i-- { // oldest to newest
		p := ring.at(i)
		beta := p.rho * floats.Dot(p.y, q)
		floats.AddScaled(q, alphas[i]-beta, p.s)
	}

	floats.Scale(-1, q)
	return q
}
