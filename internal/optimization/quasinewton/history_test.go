package quasinewton

import (
	"testing"
)

func TestPairRingEvictsOldestFirst(t *testing.T) {
	r := newPairRing(3)

	push := func(v float64) {
		r.push([]float64{v}, []float64{v}, 1)
	}

	push(1)
	push(2)
	if r.len() != 2 {
		t.Fatalf("len = %d, want 2", r.len())
	}
	if got := r.at(0).s[0]; got != 2 {
		t.Fatalf("newest = %v, want 2", got)
	}
	if got := r.at(1).s[0]; got != 1 {
		t.Fatalf("second newest = %v, want 1", got)
	}

	push(3)
	push(4) // overwrites 1
	push(5) // overwrites 2

	if r.len() != 3 {
		t.Fatalf("len = %d, want capacity 3", r.len())
	}
	want := []float64{5, 4, 3}
	for i, w := range want {
		if got := r.at(i).s[0]; got != w {
			t.Errorf("at(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestPairRingClear(t *testing.T) {
	r := newPairRing(2)
	r.push([]float64{1}, []float64{1}, 1)
	r.clear()
	if r.len() != 0 {
		t.Fatalf("len after clear = %d", r.len())
	}
	r.push([]float64{7}, []float64{7}, 1)
	if got := r.at(0).s[0]; got != 7 {
		t.Fatalf("push after clear: newest = %v, want 7", got)
	}
}

func TestPairRingReusesBuffers(t *testing.T) {
	r := newPairRing(1)
	r.push([]float64{1, 2}, []float64{3, 4}, 1)
	first := &r.at(0).s[0]
	r.push([]float64{5, 6}, []float64{7, 8}, 1)
	second := &r.at(0).s[0]
	if first != second {
		t.Error("overwriting a slot reallocated its buffer")
	}
}

func TestTwoLoopDirectionEmptyHistoryIsSteepestDescent(t *testing.T) {
	r := newPairRing(4)
	grad := []float64{1, -2, 3}
	dir := twoLoopDirection(r, grad)
	for i := range grad {
		if dir[i] != -grad[i] {
			t.Fatalf("dir[%d] = %v, want %v", i, dir[i], -grad[i])
		}
	}
}

func TestTwoLoopDirectionIsDescent(t *testing.T) {
	// Pairs gathered from a convex quadratic keep the implicit H positive
	// definite, so the direction must oppose the gradient.
	r := newPairRing(5)
	r.push([]float64{0.5, 0.1}, []float64{1.0, 0.4}, 1/(0.5*1.0+0.1*0.4))
	r.push([]float64{0.2, -0.3}, []float64{0.4, -0.6}, 1/(0.2*0.4+0.3*0.6))

	grad := []float64{0.7, -1.1}
	dir := twoLoopDirection(r, grad)

	dot := 0.0
	for i := range grad {
		dot += dir[i] * grad[i]
	}
	if dot >= 0 {
		t.Fatalf("direction is not a descent direction: g·d = %v", dot)
	}
}
