// Package testfunctions provides standard objective functions for exercising
// and benchmarking the solvers. All of them implement
// optimization.GradientObjective with exact gradients.
package testfunctions

import (
	"github.com/copyleftdev/QNEWT/internal/optimization"
)

// Sphere is f(x) = Σ (x_i - Center_i)², minimized at Center with f = 0.
type Sphere struct {
	// Center defaults to the origin when nil.
	Center []float64
}

func (s Sphere) center(i int) float64 {
	if s.Center == nil {
		return 0
	}
	return s.Center[i]
}

// Evaluate implements optimization.Objective.
func (s Sphere) Evaluate(x []float64) (float64, error) {
	sum := 0.0
	for i, v := range x {
		d := v - s.center(i)
		sum += d * d
	}
	return sum, nil
}

// Gradient implements optimization.GradientObjective.
func (s Sphere) Gradient(x []float64) ([]float64, error) {
	grad := make([]float64, len(x))
	for i, v := range x {
		grad[i] = 2 * (v - s.center(i))
	}
	return grad, nil
}

// Rosenbrock is the banana-valley function
//
//	f(x) = Σ 100·(x_{i+1} - x_i²)² + (1 - x_i)²
//
// minimized at (1, ..., 1) with f = 0. Its curved flat valley is the
// classic stress test for curvature estimates.
type Rosenbrock struct{}

// Evaluate implements optimization.Objective.
func (Rosenbrock) Evaluate(x []float64) (float64, error) {
	sum := 0.0
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		sum += 100*a*a + b*b
	}
	return sum, nil
}

// Gradient implements optimization.GradientObjective.
func (Rosenbrock) Gradient(x []float64) ([]float64, error) {
	grad := make([]float64, len(x))
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		grad[i] += -400*a*x[i] - 2*(1-x[i])
		grad[i+1] += 200 * a
	}
	return grad, nil
}

// Himmelblau is the four-minimum test function
//
//	f(x,y) = (x² + y - 11)² + (x + y² - 7)².
type Himmelblau struct{}

// Evaluate implements optimization.Objective.
func (Himmelblau) Evaluate(x []float64) (float64, error) {
	a := x[0]*x[0] + x[1] - 11
	b := x[0] + x[1]*x[1] - 7
	return a*a + b*b, nil
}

// Gradient implements optimization.GradientObjective.
func (Himmelblau) Gradient(x []float64) ([]float64, error) {
	a := x[0]*x[0] + x[1] - 11
	b := x[0] + x[1]*x[1] - 7
	return []float64{
		4*a*x[0] + 2*b,
		2*a + 4*b*x[1],
	}, nil
}

// Booth is f(x,y) = (x + 2y - 7)² + (2x + y - 5)², minimized at (1, 3).
type Booth struct{}

// Evaluate implements optimization.Objective.
func (Booth) Evaluate(x []float64) (float64, error) {
	a := x[0] + 2*x[1] - 7
	b := 2*x[0] + x[1] - 5
	return a*a + b*b, nil
}

// Gradient implements optimization.GradientObjective.
func (Booth) Gradient(x []float64) ([]float64, error) {
	a := x[0] + 2*x[1] - 7
	b := 2*x[0] + x[1] - 5
	return []float64{
		2*a + 4*b,
		4*a + 2*b,
	}, nil
}

// ByName looks up a function from the registry used by the service surface.
// The second return is the expected dimensionality, or 0 for any dimension.
func ByName(name string) (optimization.Objective, int, bool) {
	switch name {
	case "sphere":
		return Sphere{}, 0, true
	case "rosenbrock":
		return Rosenbrock{}, 0, true
	case "himmelblau":
		return Himmelblau{}, 2, true
	case "booth":
		return Booth{}, 2, true
	default:
		return nil, 0, false
	}
}

var (
	_ optimization.GradientObjective = Sphere{}
	_ optimization.GradientObjective = Rosenbrock{}
	_ optimization.GradientObjective = Himmelblau{}
	_ optimization.GradientObjective = Booth{}
)
