/*
Package coupled implements a pair of B-spline curves sharing one knot vector:
a space curve for the central axis of an elongated body and a scalar curve for
its thickness. Package coupled also contains the iterative fitter which adjusts
both curves to a point cloud sampled on the body's surface.

Arc-length integrals and point projections use extended evaluation, i.e. the
boundary segments of the axis are extrapolated beyond the fitted domain.
Thickness is never extrapolated further than a small tolerance.

# BSD License

# Copyright (c) Norbert Pillmayer

All rights reserved.

Please refer to the license file for more information.
*/
package coupled

import (
	"fmt"
	"math"

	"github.com/npillmayer/irocs"
	"github.com/npillmayer/irocs/bspline"
	"github.com/npillmayer/schuko/tracing"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/spatial/r3"
)

// tracer writes to trace with key 'irocs.fit'
func tracer() tracing.Trace {
	return tracing.Select("irocs.fit")
}

// Degree is the polynomial degree of both curves.
const Degree = 3

// DefaultThicknessExtension is the default tolerance, as a fraction of the
// domain width, by which thickness lookups may leave the domain.
const DefaultThicknessExtension = 0.05

const (
	quadPoints       = 16 // Gauss-Legendre nodes per knot span
	samplesPerSpan   = 16 // coarse samples per domain width for projection
	goldenIterations = 48
	newtonPolish     = 3
)

var (
	// ErrNonFinite indicates NaN or ±Inf values in a projection or an update.
	ErrNonFinite = fmt.Errorf("%w: non-finite value", irocs.ErrNumerical)
)

// Model is an axis curve and a thickness curve over a common clamped knot
// vector. A Model is immutable after construction and safe for concurrent use.
type Model struct {
	basis     *bspline.Basis
	axis      *bspline.Curve
	thickness *bspline.ScalarCurve
	extension float64
}

// NewModel creates a model from a basis, N axis control points and N
// thickness control values. extension is the thickness extension tolerance
// as a fraction of the domain width; negative values select the default.
func NewModel(b *bspline.Basis, axis []r3.Vec, thickness []float64, extension float64) (*Model, error) {
	for i, c := range axis {
		if !irocs.Finite(c) {
			return nil, fmt.Errorf("%w: axis control point %d", ErrNonFinite, i)
		}
	}
	for i, r := range thickness {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, fmt.Errorf("%w: thickness control value %d", ErrNonFinite, i)
		}
	}
	a, err := bspline.NewCurve(b, axis)
	if err != nil {
		return nil, err
	}
	t, err := bspline.NewScalarCurve(b, thickness)
	if err != nil {
		return nil, err
	}
	if extension < 0 {
		extension = DefaultThicknessExtension
	}
	m := &Model{basis: b, axis: a, thickness: t, extension: extension}
	m.checkInvariants()
	return m, nil
}

// both curves must share the basis; anything else is a programming error
func (m *Model) checkInvariants() {
	if m.axis.Basis() != m.basis || m.thickness.Basis() != m.basis {
		panic("coupled model: axis and thickness do not share a basis")
	}
}

// Basis returns the shared basis.
func (m *Model) Basis() *bspline.Basis {
	return m.basis
}

// Degree returns the degree of both curves.
func (m *Model) Degree() int {
	return m.basis.Degree()
}

// N returns the number of control points of each curve.
func (m *Model) N() int {
	return m.basis.N()
}

// Knots returns a copy of the shared knot vector.
func (m *Model) Knots() bspline.Knots {
	return m.basis.Knots()
}

// Domain returns [u₀,u_last].
func (m *Model) Domain() (float64, float64) {
	return m.basis.Domain()
}

// Width returns u_last - u₀.
func (m *Model) Width() float64 {
	return m.basis.Width()
}

// AxisControls returns a copy of the axis control points.
func (m *Model) AxisControls() []r3.Vec {
	return m.axis.Controls()
}

// ThicknessControls returns a copy of the thickness control values.
func (m *Model) ThicknessControls() []float64 {
	return m.thickness.Controls()
}

// ThicknessExtension returns the thickness extension tolerance.
func (m *Model) ThicknessExtension() float64 {
	return m.extension
}

// Evaluate returns the axis point at u. u is clamped to the domain.
func (m *Model) Evaluate(u float64) r3.Vec {
	return m.axis.Evaluate(u)
}

// Derivative returns the axis derivative at u. u is clamped to the domain.
func (m *Model) Derivative(u float64) r3.Vec {
	return m.axis.Derivative(u)
}

// ExtendedEvaluate returns the axis point at u, extrapolating the boundary
// segments outside the domain.
func (m *Model) ExtendedEvaluate(u float64) r3.Vec {
	return m.axis.ExtendedEvaluate(u)
}

// ExtendedDerivative returns the axis derivative at u, extrapolating the
// boundary segments outside the domain.
func (m *Model) ExtendedDerivative(u float64) r3.Vec {
	return m.axis.ExtendedDerivative(u)
}

// Thickness returns the body radius at u. Parameters further outside the
// domain than the extension tolerance are clamped, and the result is never
// negative.
func (m *Model) Thickness(u float64) float64 {
	u0, u1 := m.Domain()
	tol := m.extension * m.Width()
	u = math.Max(u0-tol, math.Min(u1+tol, u))
	return math.Max(0, m.thickness.ExtendedEvaluate(u))
}

// MapAxis returns a model with the axis control points transformed by at.
// Thickness values are scalars and are not transformed. For rigid transforms
// this maps the axis curve exactly, including its extrapolation.
func (m *Model) MapAxis(at irocs.AT) *Model {
	return &Model{
		basis:     m.basis,
		axis:      m.axis.Map(at.Transform),
		thickness: m.thickness,
		extension: m.extension,
	}
}

// === Arc length ============================================================

func (m *Model) speed(u float64) float64 {
	return r3.Norm(m.axis.ExtendedDerivative(u))
}

// ExtendedCurveIntegral returns the arc length of the extended axis curve
// between uA and uB. The result is negative if uB < uA, and
// ExtendedCurveIntegral(a,b) = -ExtendedCurveIntegral(b,a) holds exactly.
func (m *Model) ExtendedCurveIntegral(uA, uB float64) float64 {
	if uA == uB {
		return 0
	}
	if uB < uA {
		return -m.ExtendedCurveIntegral(uB, uA)
	}
	// integrate piecewise, splitting at interior knots where the speed
	// function is not smooth
	s, a := 0.0, uA
	knots := m.basis.Knots()
	for _, k := range knots[m.Degree()+1 : m.N()] {
		if k <= a {
			continue
		}
		if k >= uB {
			break
		}
		s += m.integrate(a, k, quadPoints)
		a = k
	}
	return s + m.integrate(a, uB, quadPoints)
}

func (m *Model) integrate(a, b float64, n int) float64 {
	if a == b {
		return 0
	}
	return quad.Fixed(m.speed, a, b, n, quad.Legendre{}, 0)
}

// === Projection ============================================================

// ExtendedDistance returns the distance from p to the extended axis curve and
// the parameter of the closest curve point. The search covers one domain
// width beyond either end of the domain. The result is a local minimum of
// the distance and deterministic for identical inputs.
func (m *Model) ExtendedDistance(p r3.Vec) (float64, float64, error) {
	u0, u1 := m.Domain()
	w := u1 - u0
	return m.project(p, u0-w, u1+w)
}

// project searches the closest point on the extended axis for u in [lo,hi]:
// a coarse scan, followed by golden-section search in the bracket around the
// best sample and a few safeguarded Newton steps.
func (m *Model) project(p r3.Vec, lo, hi float64) (float64, float64, error) {
	if !irocs.Finite(p) {
		return 0, 0, fmt.Errorf("%w: query point %v", ErrNonFinite, p)
	}
	d2 := func(u float64) float64 {
		return r3.Norm2(r3.Sub(m.axis.ExtendedEvaluate(u), p))
	}
	spans := m.N() - m.Degree()
	n := int(math.Ceil((hi-lo)/m.Width())) * samplesPerSpan * spans
	h := (hi - lo) / float64(n)
	best, bestD := 0, math.Inf(1)
	for i := 0; i <= n; i++ {
		if d := d2(lo + float64(i)*h); d < bestD {
			best, bestD = i, d
		}
	}
	a := lo + float64(max(best-1, 0))*h
	b := lo + float64(min(best+1, n))*h
	u := goldenSection(d2, a, b)
	u, d := m.polish(p, u, a, b, d2(u))
	if math.IsNaN(d) || math.IsNaN(u) {
		tracer().Errorf("projection of %v did not produce a finite result", p)
		return 0, 0, fmt.Errorf("%w: projection of %v", ErrNonFinite, p)
	}
	return math.Sqrt(d), u, nil
}

const invPhi = 0.6180339887498949

func goldenSection(f func(float64) float64, a, b float64) float64 {
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := f(c), f(d)
	for i := 0; i < goldenIterations; i++ {
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = f(d)
		}
	}
	if fc < fd {
		return c
	}
	return d
}

// polish applies Newton steps to f(u) = (C(u)-p)·C'(u), accepting a step only
// if it stays inside [a,b] and does not increase the distance.
// Golden-section search alone cannot resolve u much below √ε.
func (m *Model) polish(p r3.Vec, u, a, b, d float64) (float64, float64) {
	for i := 0; i < newtonPolish; i++ {
		c, d1, d2 := m.axis.ExtendedDerivatives(u)
		diff := r3.Sub(c, p)
		f := r3.Dot(diff, d1)
		df := r3.Norm2(d1) + r3.Dot(diff, d2)
		if df <= 0 {
			break
		}
		v := u - f/df
		if v < a || v > b {
			break
		}
		dv := r3.Norm2(r3.Sub(m.axis.ExtendedEvaluate(v), p))
		if !(dv <= d) {
			break
		}
		u, d = v, dv
	}
	return u, d
}
