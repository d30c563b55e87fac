// Package quasinewton implements the quasi-Newton solver family: BFGS,
// limited-memory BFGS, and bounded limited-memory BFGS, sharing one strong
// Wolfe line search.
package quasinewton

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/QNEWT/internal/optimization"
)

// Strong Wolfe constants, the usual choices for quasi-Newton methods.
const (
	defaultC1 = 1e-4
	defaultC2 = 0.9

	defaultBracketIters = 16
	defaultZoomIters    = 32
)

// LineSearchResult is the outcome of one line search. When Valid is false the
// budget was exhausted before both Wolfe conditions held and the caller must
// apply its fallback policy; the other fields then describe the last trial
// and must not be taken as an accepted step.
type LineSearchResult struct {
	Alpha float64
	X     []float64
	Fx    float64
	Grad  []float64
	Valid bool
}

// StrongWolfe finds a step length satisfying the strong Wolfe conditions by
// bracketing and zooming. Every trial evaluation, accepted or rejected,
// increments the run's function and gradient counters.
type StrongWolfe struct {
	// C1 is the sufficient-decrease (Armijo) constant. Zero means 1e-4.
	C1 float64
	// C2 is the curvature constant. Zero means 0.9.
	C2 float64
	// BracketIters bounds the bracketing phase. Zero means 16.
	BracketIters int
	// ZoomIters bounds the zoom phase. Zero means 32.
	ZoomIters int
}

func (ls StrongWolfe) c1() float64 {
	if ls.C1 > 0 {
		return ls.C1
	}
	return defaultC1
}

func (ls StrongWolfe) c2() float64 {
	if ls.C2 > 0 {
		return ls.C2
	}
	return defaultC2
}

func (ls StrongWolfe) bracketIters() int {
	if ls.BracketIters > 0 {
		return ls.BracketIters
	}
	return defaultBracketIters
}

func (ls StrongWolfe) zoomIters() int {
	if ls.ZoomIters > 0 {
		return ls.ZoomIters
	}
	return defaultZoomIters
}

// trial is one evaluation of φ(α) = f(x + α·dir) and φ'(α) = ∇f(x+α·dir)·dir.
type trial struct {
	alpha, phi, dphi float64
	x, grad          []float64
}

type searchState struct {
	ev    *optimization.Evaluator
	x0    []float64
	dir   []float64
	phi0  float64
	dphi0 float64
}

func (s *searchState) eval(alpha float64) (trial, error) {
	x := make([]float64, len(s.x0))
	floats.AddScaledTo(x, s.x0, alpha, s.dir)

	phi, err := s.ev.Value(x)
	if err != nil {
		return trial{}, err
	}
	grad, err := s.ev.Gradient(x)
	if err != nil {
		return trial{}, err
	}
	return trial{
		alpha: alpha,
		phi:   phi,
		dphi:  floats.Dot(grad, s.dir),
		x:     x,
		grad:  grad,
	}, nil
}

// Search looks for α satisfying
//
//	f(x+α·dir) ≤ f(x) + c1·α·∇f(x)·dir   (sufficient decrease)
//	|∇f(x+α·dir)·dir| ≤ c2·|∇f(x)·dir|   (curvature)
//
// starting from α = 1 (scaled down to maxStep when one is given). dir must be
// a descent direction; a non-negative directional derivative is a caller
// error and is reported immediately, never retried.
func (ls StrongWolfe) Search(ev *optimization.Evaluator, x []float64, fx float64, grad, dir []float64, maxStep float64) (LineSearchResult, error) {
	state := &searchState{
		ev:    ev,
		x0:    x,
		dir:   dir,
		phi0:  fx,
		dphi0: floats.Dot(grad, dir),
	}
	if state.dphi0 >= 0 {
		return LineSearchResult{}, optimization.NewErrorf(
			"not a descent direction: directional derivative %g", state.dphi0).
			WithOperation("search").WithComponent("linesearch")
	}

	alpha := 1.0
	if maxStep > 0 && alpha > maxStep {
		alpha = maxStep
	}

	prev := trial{alpha: 0, phi: state.phi0, dphi: state.dphi0}
	for i := 1; i <= ls.bracketIters(); i++ {
		t, err := state.eval(alpha)
		if err != nil {
			return LineSearchResult{}, err
		}

		if t.phi > state.phi0+ls.c1()*t.alpha*state.dphi0 || (i > 1 && t.phi >= prev.phi) {
			return ls.zoom(state, prev, t)
		}
		if math.Abs(t.dphi) <= ls.c2()*math.Abs(state.dphi0) {
			return result(t, true), nil
		}
		if t.dphi >= 0 {
			return ls.zoom(state, t, prev)
		}

		if maxStep > 0 && t.alpha >= maxStep {
			// Cannot extend the bracket any further.
			return result(t, false), nil
		}
		prev = t
		alpha *= 2
		if maxStep > 0 && alpha > maxStep {
			alpha = maxStep
		}
	}
	return result(prev, false), nil
}

// zoom narrows a bracket [lo, hi] known to contain an acceptable step, using
// quadratic interpolation with a bisection safeguard.
func (ls StrongWolfe) zoom(state *searchState, lo, hi trial) (LineSearchResult, error) {
	for i := 0; i < ls.zoomIters(); i++ {
		width := hi.alpha - lo.alpha
		if math.Abs(width) < machEps*math.Max(1, math.Abs(lo.alpha)) {
			break
		}

		alpha := quadraticMin(lo, hi)
		// Reject interpolants too close to the endpoints.
		lof, hif := lo.alpha+0.1*width, lo.alpha+0.9*width
		if width < 0 {
			lof, hif = hif, lof
		}
		if math.IsNaN(alpha) || alpha < math.Min(lof, hif) || alpha > math.Max(lof, hif) {
			alpha = lo.alpha + 0.5*width
		}

		t, err := state.eval(alpha)
		if err != nil {
			return LineSearchResult{}, err
		}

		if t.phi > state.phi0+ls.c1()*t.alpha*state.dphi0 || t.phi >= lo.phi {
			hi = t
			continue
		}
		if math.Abs(t.dphi) <= ls.c2()*math.Abs(state.dphi0) {
			return result(t, true), nil
		}
		if t.dphi*width >= 0 {
			hi = lo
		}
		lo = t
	}
	return result(lo, false), nil
}

// quadraticMin returns the minimizer of the parabola through (lo.alpha,
// lo.phi) with slope lo.dphi there and passing through (hi.alpha, hi.phi).
func quadraticMin(lo, hi trial) float64 {
	d := hi.alpha - lo.alpha
	denom := 2 * (hi.phi - lo.phi - lo.dphi*d)
	if denom == 0 {
		return math.NaN()
	}
	return lo.alpha - lo.dphi*d*d/denom
}

func result(t trial, valid bool) LineSearchResult {
	return LineSearchResult{
		Alpha: t.alpha,
		X:     t.x,
		Fx:    t.phi,
		Grad:  t.grad,
		Valid: valid,
	}
}

const machEps = 2.220446049250313e-16
