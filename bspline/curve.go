package bspline

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Curve is a B-spline curve in 3-space.
type Curve struct {
	basis    *Basis
	controls []r3.Vec
}

// NewCurve creates a curve from a basis and control points.
// The control points are copied.
func NewCurve(b *Basis, controls []r3.Vec) (*Curve, error) {
	if len(controls) != b.N() {
		tracer().Errorf("curve needs %d control points, got %d", b.N(), len(controls))
		return nil, fmt.Errorf("%w: need %d, got %d", ErrControlCount, b.N(), len(controls))
	}
	c := make([]r3.Vec, len(controls))
	copy(c, controls)
	return &Curve{basis: b, controls: c}, nil
}

// Basis returns the (shared) basis of the curve.
func (c *Curve) Basis() *Basis {
	return c.basis
}

// Controls returns a copy of the control points.
func (c *Curve) Controls() []r3.Vec {
	cp := make([]r3.Vec, len(c.controls))
	copy(cp, c.controls)
	return cp
}

// Control returns control point i.
func (c *Curve) Control(i int) r3.Vec {
	return c.controls[i]
}

func (c *Curve) combine(w *Weights, k int) r3.Vec {
	var v r3.Vec
	first := w.First(c.basis.degree)
	for j := 0; j <= c.basis.degree; j++ {
		v = r3.Add(v, r3.Scale(w.N[k][j], c.controls[first+j]))
	}
	return v
}

// Evaluate returns the curve point at u, with u clamped to the domain.
func (c *Curve) Evaluate(u float64) r3.Vec {
	return c.ExtendedEvaluate(c.basis.Clamp(u))
}

// Derivative returns the first derivative at u, with u clamped to the domain.
func (c *Curve) Derivative(u float64) r3.Vec {
	return c.ExtendedDerivative(c.basis.Clamp(u))
}

// ExtendedEvaluate returns the curve point at u. Outside the domain the
// boundary segment's polynomial is extrapolated.
func (c *Curve) ExtendedEvaluate(u float64) r3.Vec {
	w := c.basis.Weights(u, 0)
	return c.combine(&w, 0)
}

// ExtendedDerivative returns the first derivative at u, extrapolating beyond
// the domain.
func (c *Curve) ExtendedDerivative(u float64) r3.Vec {
	w := c.basis.Weights(u, 1)
	return c.combine(&w, 1)
}

// ExtendedDerivatives returns position, first and second derivative at u,
// extrapolating beyond the domain.
func (c *Curve) ExtendedDerivatives(u float64) (r3.Vec, r3.Vec, r3.Vec) {
	w := c.basis.Weights(u, 2)
	return c.combine(&w, 0), c.combine(&w, 1), c.combine(&w, 2)
}

// Map applies f to every control point and returns the resulting curve.
// For affine maps f this transforms the curve exactly.
func (c *Curve) Map(f func(r3.Vec) r3.Vec) *Curve {
	m := make([]r3.Vec, len(c.controls))
	for i, p := range c.controls {
		m[i] = f(p)
	}
	return &Curve{basis: c.basis, controls: m}
}

// === Scalar curves =========================================================

// ScalarCurve is a B-spline function u ↦ ℝ.
type ScalarCurve struct {
	basis    *Basis
	controls []float64
}

// NewScalarCurve creates a scalar curve from a basis and control values.
// The control values are copied.
func NewScalarCurve(b *Basis, controls []float64) (*ScalarCurve, error) {
	if len(controls) != b.N() {
		tracer().Errorf("scalar curve needs %d control values, got %d", b.N(), len(controls))
		return nil, fmt.Errorf("%w: need %d, got %d", ErrControlCount, b.N(), len(controls))
	}
	c := make([]float64, len(controls))
	copy(c, controls)
	return &ScalarCurve{basis: b, controls: c}, nil
}

// Basis returns the (shared) basis of the curve.
func (s *ScalarCurve) Basis() *Basis {
	return s.basis
}

// Controls returns a copy of the control values.
func (s *ScalarCurve) Controls() []float64 {
	cp := make([]float64, len(s.controls))
	copy(cp, s.controls)
	return cp
}

func (s *ScalarCurve) combine(w *Weights, k int) float64 {
	v := 0.0
	first := w.First(s.basis.degree)
	for j := 0; j <= s.basis.degree; j++ {
		v += w.N[k][j] * s.controls[first+j]
	}
	return v
}

// Evaluate returns the function value at u, with u clamped to the domain.
func (s *ScalarCurve) Evaluate(u float64) float64 {
	return s.ExtendedEvaluate(s.basis.Clamp(u))
}

// ExtendedEvaluate returns the function value at u, extrapolating the
// boundary segments beyond the domain.
func (s *ScalarCurve) ExtendedEvaluate(u float64) float64 {
	w := s.basis.Weights(u, 0)
	return s.combine(&w, 0)
}

// ExtendedDerivative returns the first derivative at u.
func (s *ScalarCurve) ExtendedDerivative(u float64) float64 {
	w := s.basis.Weights(u, 1)
	return s.combine(&w, 1)
}
