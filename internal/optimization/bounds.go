package optimization

import (
	"math"
)

// Bound is an inclusive [Lower, Upper] constraint on one parameter. Either
// side may be infinite.
type Bound struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// NoBound is the unconstrained bound.
var NoBound = Bound{Lower: math.Inf(-1), Upper: math.Inf(1)}

// Bounds is one Bound per dimension, in parameter order. A nil Bounds means
// the whole space is unconstrained. Bounds are immutable for the duration of
// a run.
type Bounds []Bound

// Validate fails on any pair with Lower > Upper.
func (b Bounds) Validate() error {
	for i, bd := range b {
		if bd.Lower > bd.Upper {
			return NewErrorf("bound %d: lower %g exceeds upper %g", i, bd.Lower, bd.Upper).
				WithOperation("validate").WithComponent("bounds")
		}
	}
	return nil
}

// Contains reports whether x lies inside the bound, boundary included.
func (b Bound) Contains(x float64) bool {
	return x >= b.Lower && x <= b.Upper
}

// AtBound reports whether x sits within tol of either finite boundary.
func (b Bound) AtBound(x, tol float64) bool {
	if !math.IsInf(b.Lower, -1) && math.Abs(x-b.Lower) < tol {
		return true
	}
	if !math.IsInf(b.Upper, 1) && math.Abs(x-b.Upper) < tol {
		return true
	}
	return false
}

func (b Bound) lowerOnly() bool {
	return !math.IsInf(b.Lower, -1) && math.IsInf(b.Upper, 1)
}

func (b Bound) upperOnly() bool {
	return math.IsInf(b.Lower, -1) && !math.IsInf(b.Upper, 1)
}

func (b Bound) twoSided() bool {
	return !math.IsInf(b.Lower, -1) && !math.IsInf(b.Upper, 1)
}

// ToInternal maps a bound-feasible external value onto the full real line.
//
// The transforms are the ones used by MINUIT and LMFIT: an arcsine map for a
// two-sided bound and a hyperbolic sqrt map for a one-sided bound. Both are
// strictly monotonic and finite everywhere on the closed feasible interval,
// so internal iterates never leave the representable range even when an
// iterate sits exactly on a boundary.
func (b Bound) ToInternal(ext float64) float64 {
	switch {
	case b.twoSided():
		u := 2*(ext-b.Lower)/(b.Upper-b.Lower) - 1
		// Guard the asin domain against feasible points a few ulps outside.
		u = math.Max(-1, math.Min(1, u))
		return math.Asin(u)
	case b.lowerOnly():
		s := ext - b.Lower + 1
		return math.Sqrt(math.Max(s*s-1, 0))
	case b.upperOnly():
		s := b.Upper - ext + 1
		return math.Sqrt(math.Max(s*s-1, 0))
	default:
		return ext
	}
}

// ToExternal inverts ToInternal up to floating-point tolerance.
func (b Bound) ToExternal(int_ float64) float64 {
	switch {
	case b.twoSided():
		return b.Lower + (math.Sin(int_)+1)*(b.Upper-b.Lower)/2
	case b.lowerOnly():
		return b.Lower - 1 + math.Sqrt(int_*int_+1)
	case b.upperOnly():
		return b.Upper + 1 - math.Sqrt(int_*int_+1)
	default:
		return int_
	}
}

// DExternalDInternal is the Jacobian of ToExternal at the given internal
// value. Gradients computed against internal coordinates must be scaled by
// this factor (chain rule) before they mean anything in external space, and
// vice versa.
func (b Bound) DExternalDInternal(int_ float64) float64 {
	switch {
	case b.twoSided():
		return math.Cos(int_) * (b.Upper - b.Lower) / 2
	case b.lowerOnly():
		return int_ / math.Sqrt(int_*int_+1)
	case b.upperOnly():
		return -int_ / math.Sqrt(int_*int_+1)
	default:
		return 1
	}
}

// ToInternal applies the per-dimension transform to a full point.
func (b Bounds) ToInternal(ext []float64) []float64 {
	if b == nil {
		return append([]float64(nil), ext...)
	}
	out := make([]float64, len(ext))
	for i, x := range ext {
		out[i] = b[i].ToInternal(x)
	}
	return out
}

// ToExternal applies the inverse transform to a full point.
func (b Bounds) ToExternal(int_ []float64) []float64 {
	if b == nil {
		return append([]float64(nil), int_...)
	}
	out := make([]float64, len(int_))
	for i, x := range int_ {
		out[i] = b[i].ToExternal(x)
	}
	return out
}

// GradientToInternal rescales an external-space gradient into internal space
// at the given internal point.
func (b Bounds) GradientToInternal(gradExt, int_ []float64) []float64 {
	if b == nil {
		return append([]float64(nil), gradExt...)
	}
	out := make([]float64, len(gradExt))
	for i, g := range gradExt {
		out[i] = g * b[i].DExternalDInternal(int_[i])
	}
	return out
}

// Contains reports whether the whole point is bound-feasible.
func (b Bounds) Contains(x []float64) bool {
	if b == nil {
		return true
	}
	for i, v := range x {
		if !b[i].Contains(v) {
			return false
		}
	}
	return true
}

// AtBounds classifies each dimension of x as sitting at a boundary within tol.
func (b Bounds) AtBounds(x []float64, tol float64) []bool {
	at := make([]bool, len(x))
	if b == nil {
		return at
	}
	for i, v := range x {
		at[i] = b[i].AtBound(v, tol)
	}
	return at
}
