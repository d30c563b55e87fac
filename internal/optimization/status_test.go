package optimization

import (
	"math"
	"testing"
)

func TestTerminatorOrder(t *testing.T) {
	term := Terminator{FTol: 1e-8, GTol: 1e-6, MaxIterations: 10}

	mkStatus := func(iters int, fx float64, grad []float64) *Status {
		st := NewStatus([]float64{0})
		st.Iterations = iters
		st.Fx = fx
		st.Gradient = grad
		return st
	}

	tests := []struct {
		name  string
		st    *Status
		fPrev float64
		abort AbortSignal
		want  Verdict
	}{
		{
			name:  "abort wins over everything",
			st:    mkStatus(100, 0, []float64{0}),
			fPrev: 0,
			abort: setSignal(),
			want:  VerdictAborted,
		},
		{
			name:  "max iterations before convergence",
			st:    mkStatus(10, 0, []float64{0}),
			fPrev: 0,
			want:  VerdictMaxIterations,
		},
		{
			name:  "converged",
			st:    mkStatus(3, 1.0, []float64{1e-9}),
			fPrev: 1.0 + 1e-12,
			want:  VerdictConverged,
		},
		{
			name:  "f tolerance alone is not enough",
			st:    mkStatus(3, 1.0, []float64{0.5}),
			fPrev: 1.0,
			want:  VerdictContinue,
		},
		{
			name:  "g tolerance alone is not enough",
			st:    mkStatus(3, 1.0, []float64{1e-9}),
			fPrev: 2.0,
			want:  VerdictContinue,
		},
		{
			name:  "first iteration never converges against infinite fPrev",
			st:    mkStatus(0, 1.0, []float64{0}),
			fPrev: math.Inf(1),
			want:  VerdictContinue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := term.ShouldStop(tt.st, tt.fPrev, tt.abort)
			if got != tt.want {
				t.Errorf("ShouldStop() = %v, want %v", got, tt.want)
			}
		})
	}
}

func setSignal() AbortSignal {
	a := NewAtomicAbortSignal()
	a.Set()
	return a
}

func TestTerminatorRelativeFTol(t *testing.T) {
	// The f tolerance scales with max(1, |f_old|): a huge objective value
	// converges on a proportionally larger absolute change.
	term := Terminator{FTol: 1e-8, GTol: 1, MaxIterations: 10}

	st := NewStatus([]float64{0})
	st.Fx = 1e12 + 1e3
	st.Gradient = []float64{0}

	if v := term.ShouldStop(st, 1e12, nil); v != VerdictConverged {
		t.Errorf("relative tolerance not applied: got %v", v)
	}
	if v := term.ShouldStop(st, 1e12-1e6, nil); v == VerdictConverged {
		t.Error("converged on a change far above the relative tolerance")
	}
}

func TestVerdictString(t *testing.T) {
	tests := []struct {
		v    Verdict
		want string
	}{
		{VerdictContinue, "continue"},
		{VerdictConverged, "converged"},
		{VerdictMaxIterations, "max iterations reached"},
		{VerdictAborted, "aborted"},
		{VerdictFailed, "failed"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("Verdict(%d).String() = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestStatusUpdateCopies(t *testing.T) {
	st := NewStatus([]float64{0, 0})
	scratch := []float64{1, 2}
	grad := []float64{3, 4}
	st.Update(scratch, 5, grad)

	scratch[0] = 99
	grad[0] = 99

	assertFloat64SlicesEqual(t, st.X, []float64{1, 2}, 0)
	assertFloat64SlicesEqual(t, st.Gradient, []float64{3, 4}, 0)
}

func TestGradInfNorm(t *testing.T) {
	st := NewStatus([]float64{0})
	if !math.IsInf(st.GradInfNorm(), 1) {
		t.Error("missing gradient should report +Inf")
	}
	st.Gradient = []float64{-3, 2}
	if got := st.GradInfNorm(); got != 3 {
		t.Errorf("GradInfNorm() = %v, want 3", got)
	}
}
