package testfunctions

import (
	"math"
	"testing"

	"github.com/copyleftdev/QNEWT/internal/optimization"
)

func TestKnownMinima(t *testing.T) {
	tests := []struct {
		name string
		obj  optimization.Objective
		x    []float64
	}{
		{"sphere origin", Sphere{}, []float64{0, 0, 0}},
		{"sphere shifted", Sphere{Center: []float64{1, -2}}, []float64{1, -2}},
		{"rosenbrock", Rosenbrock{}, []float64{1, 1}},
		{"rosenbrock 4d", Rosenbrock{}, []float64{1, 1, 1, 1}},
		{"himmelblau", Himmelblau{}, []float64{3, 2}},
		{"himmelblau second", Himmelblau{}, []float64{-2.805118, 3.131312}},
		{"booth", Booth{}, []float64{1, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx, err := tt.obj.Evaluate(tt.x)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(fx) > 1e-8 {
				t.Errorf("f(minimum) = %v, want ~0", fx)
			}

			grad, err := tt.obj.(optimization.GradientObjective).Gradient(tt.x)
			if err != nil {
				t.Fatal(err)
			}
			for i, g := range grad {
				if math.Abs(g) > 1e-4 {
					t.Errorf("grad[%d] = %v at the minimum, want ~0", i, g)
				}
			}
		})
	}
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	tests := []struct {
		name string
		obj  optimization.GradientObjective
		x    []float64
	}{
		{"sphere", Sphere{Center: []float64{1, 2}}, []float64{-0.3, 0.7}},
		{"rosenbrock", Rosenbrock{}, []float64{-1.2, 1}},
		{"rosenbrock 3d", Rosenbrock{}, []float64{0.5, -0.5, 2}},
		{"himmelblau", Himmelblau{}, []float64{1, 1}},
		{"booth", Booth{}, []float64{-2, 4}},
	}

	var fd optimization.FiniteDifferences
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analytic, err := tt.obj.Gradient(tt.x)
			if err != nil {
				t.Fatal(err)
			}
			numeric, err := fd.Gradient(tt.obj, tt.x)
			if err != nil {
				t.Fatal(err)
			}
			for i := range analytic {
				if math.Abs(analytic[i]-numeric[i]) > 1e-5*math.Max(1, math.Abs(analytic[i])) {
					t.Errorf("grad[%d]: analytic %v vs numeric %v", i, analytic[i], numeric[i])
				}
			}
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"sphere", "rosenbrock", "himmelblau", "booth"} {
		obj, _, ok := ByName(name)
		if !ok || obj == nil {
			t.Errorf("ByName(%q) missing", name)
		}
	}

	if _, dim, _ := ByName("himmelblau"); dim != 2 {
		t.Errorf("himmelblau dim = %d, want 2", dim)
	}
	if _, dim, _ := ByName("rosenbrock"); dim != 0 {
		t.Errorf("rosenbrock dim = %d, want 0 (any)", dim)
	}

	if _, _, ok := ByName("ackley"); ok {
		t.Error("unknown name must not resolve")
	}
}
