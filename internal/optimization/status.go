package optimization

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Verdict is the Terminator's decision for one outer iteration.
type Verdict int

const (
	// VerdictContinue means no stopping criterion has fired.
	VerdictContinue Verdict = iota
	// VerdictConverged means both the function-value and gradient tolerances
	// are satisfied.
	VerdictConverged
	// VerdictMaxIterations means the iteration budget is exhausted.
	VerdictMaxIterations
	// VerdictAborted means the AbortSignal fired.
	VerdictAborted
	// VerdictFailed means the solver could not make progress and gave up
	// before any tolerance was met.
	VerdictFailed
)

// String returns a short human-readable name for the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictContinue:
		return "continue"
	case VerdictConverged:
		return "converged"
	case VerdictMaxIterations:
		return "max iterations reached"
	case VerdictAborted:
		return "aborted"
	case VerdictFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the verdict ends a run.
func (v Verdict) Terminal() bool { return v != VerdictContinue }

// Status is the mutable record of one minimization run. It is created fresh
// by Minimizer.initialize, mutated only by the active solver and the
// Minimizer, and never shared for concurrent mutation within a run. All
// points are stored in external (bound-feasible) coordinates.
type Status struct {
	// X0 is the starting point.
	X0 []float64 `json:"x0"`
	// X is the current best point.
	X []float64 `json:"x"`
	// Fx is the function value at X.
	Fx float64 `json:"fx"`
	// Gradient is ∇f at X in the solver's working coordinates. The bounded
	// solver records the internal-coordinate gradient, which is the quantity
	// its stopping criteria watch.
	Gradient []float64 `json:"gradient"`

	// Covariance is the inverse of the final Hessian estimate, when it was
	// computed and invertible.
	Covariance *mat.SymDense `json:"-"`
	// Std holds the per-parameter standard deviations, sqrt(diag(Covariance)).
	Std []float64 `json:"std,omitempty"`

	// Names optionally labels the parameters for reporting.
	Names []string `json:"names,omitempty"`
	// AtBounds flags, per dimension, whether X sits at a configured bound.
	AtBounds []bool `json:"at_bounds,omitempty"`

	// FuncEvals counts objective evaluations.
	FuncEvals int `json:"func_evals"`
	// GradEvals counts gradient evaluations.
	GradEvals int `json:"grad_evals"`
	// HessEvals counts Hessian evaluations.
	HessEvals int `json:"hess_evals"`
	// Iterations counts completed outer iterations.
	Iterations int `json:"iterations"`

	// Converged is true when the run ended with VerdictConverged.
	Converged bool `json:"converged"`
	// Verdict is the terminal verdict of the run.
	Verdict Verdict `json:"-"`
	// Message describes how the run ended.
	Message string `json:"message"`
}

// NewStatus returns a Status positioned at x0.
func NewStatus(x0 []float64) *Status {
	return &Status{
		X0: append([]float64(nil), x0...),
		X:  append([]float64(nil), x0...),
	}
}

// Update records a new best point. The slices are copied so solver scratch
// buffers can be reused.
func (s *Status) Update(x []float64, fx float64, grad []float64) {
	s.X = append(s.X[:0], x...)
	s.Fx = fx
	s.Gradient = append(s.Gradient[:0], grad...)
}

// GradInfNorm returns the sup norm of the current gradient, or +Inf when no
// gradient has been recorded yet.
func (s *Status) GradInfNorm() float64 {
	if len(s.Gradient) == 0 {
		return math.Inf(1)
	}
	norm := 0.0
	for _, g := range s.Gradient {
		norm = math.Max(norm, math.Abs(g))
	}
	return norm
}

// Default termination tolerances, derived from machine epsilon rather than
// zero so flat and steep objectives both terminate.
const (
	// DefaultFTol is the relative function-value tolerance.
	DefaultFTol = machEps
	// DefaultGTol is the gradient sup-norm tolerance, sqrt(machine epsilon).
	DefaultGTol = 1.4901161193847656e-08
	// DefaultMaxIterations bounds the outer loop.
	DefaultMaxIterations = 1000
)

// Terminator evaluates the stopping criteria for a run. It never mutates
// Status; it only reads it and returns a verdict.
type Terminator struct {
	// FTol is the relative function-value tolerance:
	// |f_new - f_old| < FTol * max(1, |f_old|).
	FTol float64
	// GTol is the tolerance on the gradient sup norm.
	GTol float64
	// MaxIterations is the outer-iteration budget.
	MaxIterations int
}

// NewTerminator returns a Terminator with the default tolerances.
func NewTerminator() Terminator {
	return Terminator{
		FTol:          DefaultFTol,
		GTol:          DefaultGTol,
		MaxIterations: DefaultMaxIterations,
	}
}

// ShouldStop evaluates, in order: the abort signal, the iteration budget, and
// the convergence tolerances against the previous function value fPrev.
func (t Terminator) ShouldStop(s *Status, fPrev float64, abort AbortSignal) Verdict {
	if abort != nil && abort.IsSet() {
		return VerdictAborted
	}
	if s.Iterations >= t.MaxIterations {
		return VerdictMaxIterations
	}
	if math.Abs(s.Fx-fPrev) < t.FTol*math.Max(1, math.Abs(fPrev)) &&
		s.GradInfNorm() < t.GTol {
		return VerdictConverged
	}
	return VerdictContinue
}
