// Package gradfree provides derivative-free minimization for objectives whose
// gradients are unavailable or too noisy for the quasi-Newton solvers.
package gradfree

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/QNEWT/internal/optimization"
)

var errAborted = errors.New("aborted by caller")

// NelderMead minimizes with the downhill simplex method. Bounds are honored
// through the same coordinate transform the bounded quasi-Newton solver uses,
// so every evaluation stays feasible.
//
// Unlike the quasi-Newton solvers it is not an optimization.Algorithm: the
// simplex method owns its own iteration loop, so it exposes Minimize directly
// with the same signature and Status contract as the driver.
type NelderMead struct {
	// Terminator holds the stopping criteria. GTol is ignored: there is no
	// gradient to watch, so convergence is on function value alone.
	Terminator optimization.Terminator
	// SimplexSize sets the initial simplex edge length. Zero lets the method
	// choose.
	SimplexSize float64
	// BoundTol overrides the at-bound classification tolerance when positive.
	BoundTol float64
	// Names optionally labels parameters on the resulting Status.
	Names []string
}

// NewNelderMead returns a NelderMead solver with default termination settings.
func NewNelderMead() *NelderMead {
	return &NelderMead{Terminator: optimization.NewTerminator()}
}

// Minimize runs the simplex search from x0. The error contract matches the
// quasi-Newton driver: configuration problems and objective failures return an
// error, everything else is reported through the Status verdict.
func (n *NelderMead) Minimize(obj optimization.Objective, x0 []float64, bounds optimization.Bounds, abort optimization.AbortSignal) (*optimization.Status, error) {
	if obj == nil {
		return nil, optimization.NewError("no objective supplied").WithComponent("neldermead")
	}
	if len(x0) == 0 {
		return nil, optimization.NewError("empty starting point").WithComponent("neldermead")
	}
	if bounds != nil && len(bounds) != len(x0) {
		return nil, optimization.NewErrorf("dimension mismatch: %d bounds for %d parameters",
			len(bounds), len(x0)).WithComponent("neldermead")
	}
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	if !bounds.Contains(x0) {
		return nil, optimization.NewError("starting point violates bounds").WithComponent("neldermead")
	}
	if abort == nil {
		abort = optimization.NopAbortSignal{}
	}

	st := optimization.NewStatus(x0)
	st.Names = n.Names

	// The search runs in internal coordinates; objective errors are stashed
	// because gonum's Func cannot return one.
	var objErr error
	problem := optimize.Problem{
		Func: func(xInt []float64) float64 {
			st.FuncEvals++
			fx, err := obj.Evaluate(bounds.ToExternal(xInt))
			if err != nil {
				if objErr == nil {
					objErr = err
				}
				return math.Inf(1)
			}
			return fx
		},
		Status: func() (optimize.Status, error) {
			if abort.IsSet() {
				return optimize.Failure, errAborted
			}
			return optimize.NotTerminated, nil
		},
	}

	settings := &optimize.Settings{
		MajorIterations: n.Terminator.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   n.Terminator.FTol,
			Relative:   n.Terminator.FTol,
			Iterations: 2 * len(x0),
		},
	}
	method := &optimize.NelderMead{SimplexSize: n.SimplexSize}

	result, err := optimize.Minimize(problem, bounds.ToInternal(x0), settings, method)

	switch {
	case objErr != nil:
		st.Verdict = optimization.VerdictFailed
		st.Message = objErr.Error()
		return st, optimization.WrapError(objErr, "objective evaluation failed").
			WithComponent("neldermead")
	case errors.Is(err, errAborted):
		st.Verdict = optimization.VerdictAborted
		st.Message = "aborted by caller"
	case err != nil:
		st.Verdict = optimization.VerdictFailed
		st.Message = err.Error()
		return st, optimization.WrapError(err, "simplex search failed").
			WithComponent("neldermead")
	default:
		st.Update(bounds.ToExternal(result.X), result.F, nil)
		st.Iterations = result.Stats.MajorIterations
		switch result.Status {
		case optimize.FunctionConvergence, optimize.Success:
			st.Verdict = optimization.VerdictConverged
			st.Message = "f_tol satisfied"
		case optimize.IterationLimit:
			st.Verdict = optimization.VerdictMaxIterations
			st.Message = "maximum iterations reached"
		default:
			st.Verdict = optimization.VerdictFailed
			st.Message = result.Status.String()
		}
	}

	st.Converged = st.Verdict == optimization.VerdictConverged
	st.AtBounds = bounds.AtBounds(st.X, n.boundTol())
	return st, nil
}

func (n *NelderMead) boundTol() float64 {
	if n.BoundTol > 0 {
		return n.BoundTol
	}
	return optimization.DefaultBoundTol
}
