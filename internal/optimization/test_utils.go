package optimization

import (
	"math"
	"testing"
)

// quadratic is a shifted paraboloid used across the package tests:
// f(x) = Σ (x_i - center_i)², with exact gradient and a known minimum.
type quadratic struct {
	center []float64
}

func (q quadratic) at(i int) float64 {
	if q.center == nil {
		return 0
	}
	return q.center[i]
}

func (q quadratic) Evaluate(x []float64) (float64, error) {
	sum := 0.0
	for i, v := range x {
		d := v - q.at(i)
		sum += d * d
	}
	return sum, nil
}

func (q quadratic) Gradient(x []float64) ([]float64, error) {
	grad := make([]float64, len(x))
	for i, v := range x {
		grad[i] = 2 * (v - q.at(i))
	}
	return grad, nil
}

// assertFloat64SlicesEqual checks if two float64 slices are approximately equal
func assertFloat64SlicesEqual(t *testing.T, got, want []float64, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}
