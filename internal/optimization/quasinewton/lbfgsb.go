package quasinewton

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/QNEWT/internal/optimization"
)

// DefaultRebootThreshold is how many consecutive invalid line searches the
// bounded solver tolerates before discarding its secant history. Curvature
// collected in a transform-distorted region is worse than none, so two
// failures in a row trigger a reboot.
const DefaultRebootThreshold = 2

// LBFGSB is the bounded limited-memory BFGS solver. It runs the L-BFGS
// iteration entirely in internal (unconstrained) coordinates obtained from
// the bounds transform, so every iterate is bound-feasible by construction,
// and maps points back to external coordinates for reporting.
//
// The gradient recorded on Status is the internal-coordinate one; it is the
// quantity the termination criteria watch, and it vanishes at a constrained
// optimum where the external gradient does not.
type LBFGSB struct {
	// LineSearch is the strong Wolfe search used for every step.
	LineSearch StrongWolfe
	// History is the number of secant pairs retained (m). Must be positive.
	History int
	// RebootThreshold is the consecutive-invalid-line-search count that
	// clears the history. Zero means DefaultRebootThreshold.
	RebootThreshold int

	dim    int
	bounds optimization.Bounds
	inner  *optimization.Evaluator

	xInt    []float64
	fx      float64
	gradInt []float64
	ring    *pairRing

	invalidRuns int
}

// NewLBFGSB returns an LBFGSB solver with default settings.
func NewLBFGSB() *LBFGSB {
	return &LBFGSB{History: DefaultHistory}
}

func (l *LBFGSB) rebootThreshold() int {
	if l.RebootThreshold > 0 {
		return l.RebootThreshold
	}
	return DefaultRebootThreshold
}

// Initialize implements optimization.Algorithm. A nil bounds slice is
// accepted and degenerates to plain L-BFGS through the identity transform.
func (l *LBFGSB) Initialize(ev *optimization.Evaluator, bounds optimization.Bounds, x0 []float64) error {
	if l.History <= 0 {
		return optimization.NewErrorf("history length must be positive, got %d", l.History).
			WithOperation("initialize").WithComponent("lbfgsb")
	}

	l.dim = len(x0)
	l.bounds = bounds
	l.ring = newPairRing(l.History)
	l.invalidRuns = 0

	// Shadow evaluator over the internal-coordinate view of the objective.
	// It shares the run's Status, so evaluation counters stay exact.
	l.inner = &optimization.Evaluator{
		Obj:    newInternalObjective(ev.Obj, bounds, ev.FD),
		FD:     ev.FD,
		Status: ev.Status,
	}

	l.xInt = bounds.ToInternal(x0)
	fx, err := l.inner.Value(l.xInt)
	if err != nil {
		return err
	}
	grad, err := l.inner.Gradient(l.xInt)
	if err != nil {
		return err
	}
	l.fx = fx
	l.gradInt = grad
	ev.Status.Update(bounds.ToExternal(l.xInt), l.fx, l.gradInt)
	return nil
}

// Reset implements optimization.Algorithm by discarding the secant history.
func (l *LBFGSB) Reset() {
	if l.ring != nil {
		l.ring.clear()
	}
	l.invalidRuns = 0
}

// Step implements optimization.Algorithm. The line search runs in internal
// coordinates; only the Status update crosses back into external space.
func (l *LBFGSB) Step(ev *optimization.Evaluator) error {
	dir := twoLoopDirection(l.ring, l.gradInt)
	if floats.Dot(dir, l.gradInt) >= 0 {
		// Distorted curvature can break the descent property outright.
		l.ring.clear()
		floats.ScaleTo(dir, -1, l.gradInt)
	}

	res, err := l.LineSearch.Search(l.inner, l.xInt, l.fx, l.gradInt, dir, 0)
	if err != nil || !res.Valid {
		if _, ok := optimization.IsOptimizationError(err); err != nil && !ok {
			return err
		}
		l.invalidRuns++
		if l.invalidRuns >= l.rebootThreshold() {
			// Stale curvature from a transform-distorted region: reboot.
			l.ring.clear()
		}

		fallback := make([]float64, l.dim)
		floats.ScaleTo(fallback, -1, l.gradInt)
		res, err = l.LineSearch.Search(l.inner, l.xInt, l.fx, l.gradInt, fallback, 0)
		if err != nil {
			if _, ok := optimization.IsOptimizationError(err); ok {
				return optimization.ErrStalled
			}
			return err
		}
		if !res.Valid {
			return optimization.ErrStalled
		}
	} else {
		l.invalidRuns = 0
	}

	if !allFinite(res.Grad) || math.IsNaN(res.Fx) {
		return optimization.ErrDegenerate
	}

	s := make([]float64, l.dim)
	y := make([]float64, l.dim)
	floats.SubTo(s, res.X, l.xInt)
	floats.SubTo(y, res.Grad, l.gradInt)
	pushPairIfCurved(l.ring, s, y)

	l.xInt = append(l.xInt[:0], res.X...)
	l.fx = res.Fx
	l.gradInt = append(l.gradInt[:0], res.Grad...)
	ev.Status.Update(l.bounds.ToExternal(l.xInt), l.fx, l.gradInt)
	return nil
}

// internalObjective presents a bounded objective as an unconstrained one over
// internal coordinates.
type internalObjective struct {
	obj    optimization.Objective
	bounds optimization.Bounds
}

// internalGradObjective additionally chain-rules an analytic gradient through
// the transform Jacobian.
type internalGradObjective struct {
	internalObjective
	grad optimization.GradientObjective
}

// newInternalObjective wraps obj in the internal-coordinate view. When obj
// has an analytic gradient the wrapper rescales it by the transform Jacobian;
// otherwise finite differences applied to the wrapper itself already produce
// internal-space gradients.
func newInternalObjective(obj optimization.Objective, bounds optimization.Bounds, _ optimization.FiniteDifferences) optimization.Objective {
	inner := internalObjective{obj: obj, bounds: bounds}
	if g, ok := obj.(optimization.GradientObjective); ok {
		return &internalGradObjective{internalObjective: inner, grad: g}
	}
	return &inner
}

// Evaluate implements optimization.Objective.
func (o *internalObjective) Evaluate(xInt []float64) (float64, error) {
	return o.obj.Evaluate(o.bounds.ToExternal(xInt))
}

// Gradient implements optimization.GradientObjective via the chain rule.
func (o *internalGradObjective) Gradient(xInt []float64) ([]float64, error) {
	gExt, err := o.grad.Gradient(o.bounds.ToExternal(xInt))
	if err != nil {
		return nil, err
	}
	return o.bounds.GradientToInternal(gExt, xInt), nil
}
