package optimization

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Logger is the subset of the logging package used by the core. A nil Logger
// disables logging.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
}

// Algorithm is one iteration rule (BFGS, L-BFGS, ...). The Minimizer holds a
// polymorphic Algorithm and drives it; new solvers plug in without changing
// the driver.
//
// Initialize must fully reset internal state: calling it again on a used
// instance starts a fresh, deterministic run, it never accumulates.
type Algorithm interface {
	// Initialize evaluates the starting point and prepares internal state.
	// Configuration problems (unsupported bounds, bad history length) are
	// reported here, before any iteration.
	Initialize(ev *Evaluator, bounds Bounds, x0 []float64) error

	// Step advances one outer iteration, updating ev.Status with the new best
	// point. A step that cannot make progress returns ErrStalled; any other
	// error aborts the run.
	Step(ev *Evaluator) error

	// Reset clears accumulated curvature state (history, Hessian estimates).
	Reset()
}

// DefaultBoundTol is the tolerance used to classify a parameter as sitting at
// one of its bounds.
const DefaultBoundTol = 1e-4

// Minimizer owns a chosen Algorithm and runs its iteration loop until the
// Terminator signals completion or the AbortSignal fires.
type Minimizer struct {
	// Algorithm is the iteration rule to drive.
	Algorithm Algorithm
	// Terminator holds the stopping criteria.
	Terminator Terminator
	// FD configures finite-difference fallbacks for derivatives.
	FD FiniteDifferences
	// SkipHessian disables the final Hessian/covariance estimation. Useful
	// when the Hessian is expensive or unstable, e.g. near active bounds.
	SkipHessian bool
	// BoundTol overrides DefaultBoundTol when positive.
	BoundTol float64
	// Names optionally labels parameters on the resulting Status.
	Names []string
	// Logger receives per-iteration debug lines and the terminal summary.
	Logger Logger
}

// NewMinimizer returns a Minimizer around alg with default termination
// settings.
func NewMinimizer(alg Algorithm) *Minimizer {
	return &Minimizer{
		Algorithm:  alg,
		Terminator: NewTerminator(),
	}
}

func (m *Minimizer) boundTol() float64 {
	if m.BoundTol > 0 {
		return m.BoundTol
	}
	return DefaultBoundTol
}

// Minimize runs the full loop: initialize, iterate until a terminal verdict,
// then estimate the covariance. The returned error is non-nil only for
// configuration errors and objective failures; non-convergence, stalls and
// cancellation are reported through the Status verdict and message.
func (m *Minimizer) Minimize(obj Objective, x0 []float64, bounds Bounds, abort AbortSignal) (*Status, error) {
	if m.Algorithm == nil {
		return nil, NewError("no algorithm configured").WithComponent("minimizer")
	}
	if obj == nil {
		return nil, NewError("no objective supplied").WithComponent("minimizer")
	}
	if len(x0) == 0 {
		return nil, NewError("empty starting point").WithComponent("minimizer")
	}
	if bounds != nil && len(bounds) != len(x0) {
		return nil, NewErrorf("dimension mismatch: %d bounds for %d parameters",
			len(bounds), len(x0)).WithComponent("minimizer")
	}
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	if !bounds.Contains(x0) {
		return nil, NewError("starting point violates bounds").WithComponent("minimizer")
	}
	if abort == nil {
		abort = NopAbortSignal{}
	}

	st := NewStatus(x0)
	st.Names = m.Names
	ev := &Evaluator{Obj: obj, FD: m.FD, Status: st}

	if err := m.Algorithm.Initialize(ev, bounds, x0); err != nil {
		return nil, err
	}

	fPrev := math.Inf(1)
	verdict := VerdictContinue
	stallMsg := ""

	for {
		verdict = m.Terminator.ShouldStop(st, fPrev, abort)
		if verdict.Terminal() {
			break
		}

		fPrev = st.Fx
		err := m.Algorithm.Step(ev)
		st.Iterations++

		if err != nil {
			if !errors.Is(err, ErrStalled) && !errors.Is(err, ErrDegenerate) {
				st.Verdict = VerdictFailed
				st.Message = err.Error()
				return st, WrapError(err, "solver step failed").WithComponent("minimizer")
			}
			// A stalled step may still be a converged one: the flat-objective
			// case lands here with a vanishing gradient.
			if v := m.Terminator.ShouldStop(st, fPrev, abort); v == VerdictConverged {
				verdict = v
				break
			}
			verdict = VerdictFailed
			stallMsg = err.Error()
			break
		}

		if m.Logger != nil {
			m.Logger.Debug("iteration complete", map[string]interface{}{
				"iteration": st.Iterations,
				"fx":        st.Fx,
				"grad_inf":  st.GradInfNorm(),
			})
		}
	}

	st.Verdict = verdict
	st.Converged = verdict == VerdictConverged
	switch verdict {
	case VerdictConverged:
		st.Message = "f_tol and g_tol satisfied"
	case VerdictMaxIterations:
		st.Message = "maximum iterations reached"
	case VerdictAborted:
		st.Message = "aborted by caller"
	case VerdictFailed:
		st.Message = stallMsg
	}

	st.AtBounds = bounds.AtBounds(st.X, m.boundTol())

	if !m.SkipHessian && (verdict == VerdictConverged || verdict == VerdictMaxIterations) {
		m.estimateCovariance(ev, st)
	}

	if m.Logger != nil {
		m.Logger.Info("minimization finished", map[string]interface{}{
			"verdict":    st.Verdict.String(),
			"message":    st.Message,
			"iterations": st.Iterations,
			"fx":         st.Fx,
			"func_evals": st.FuncEvals,
			"grad_evals": st.GradEvals,
		})
	}
	return st, nil
}

// estimateCovariance inverts the Hessian at the final point. Failure here
// never fails the run; it only annotates the message.
func (m *Minimizer) estimateCovariance(ev *Evaluator, st *Status) {
	hess, err := ev.Hessian(st.X)
	if err != nil {
		st.Message += "; covariance unavailable (Hessian evaluation failed)"
		return
	}

	var chol mat.Cholesky
	if !chol.Factorize(hess) {
		st.Message += "; covariance unavailable (Hessian not positive definite)"
		return
	}
	cov := mat.NewSymDense(len(st.X), nil)
	if err := chol.InverseTo(cov); err != nil {
		st.Message += "; covariance unavailable (singular Hessian)"
		return
	}

	st.Covariance = cov
	st.Std = make([]float64, len(st.X))
	for i := range st.Std {
		st.Std[i] = math.Sqrt(math.Max(cov.At(i, i), 0))
	}
}
