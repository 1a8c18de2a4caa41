package bspline

import (
	"math"
	"testing"

	"github.com/npillmayer/irocs"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func bezierBasis(t *testing.T) *Basis {
	t.Helper()
	k, err := ClampedUniform(4, 3, 0, 1)
	require.NoError(t, err)
	return MustBasis(3, k, 4)
}

// cubic Bézier in Bernstein form, valid for any t
func bernstein(c [4]r3.Vec, t float64) r3.Vec {
	s := 1 - t
	b := [4]float64{s * s * s, 3 * s * s * t, 3 * s * t * t, t * t * t}
	var v r3.Vec
	for i := range c {
		v = r3.Add(v, r3.Scale(b[i], c[i]))
	}
	return v
}

func TestClampedUniformKnots(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	k, err := ClampedUniform(6, 3, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, Knots{0, 0, 0, 0, 1, 2, 3, 3, 3, 3}, k)
	assert.NoError(t, k.Validate(6, 3))
	assert.ErrorIs(t, k.Validate(5, 3), irocs.ErrInput)
	_, err = ClampedUniform(3, 3, 0, 1)
	assert.ErrorIs(t, err, ErrKnots)
	_, err = ClampedUniform(4, 3, 1, 1)
	assert.ErrorIs(t, err, ErrKnots)
	_, err = ClampedUniform(4, 9, 0, 1)
	assert.ErrorIs(t, err, ErrDegree)
}

func TestPartitionOfUnity(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	k, _ := ClampedUniform(7, 3, -2, 5)
	b := MustBasis(3, k, 7)
	for u := -4.0; u <= 7.0; u += 0.37 {
		w := b.Weights(u, 2)
		sum, dsum, ddsum := 0.0, 0.0, 0.0
		for j := 0; j <= 3; j++ {
			sum += w.N[0][j]
			dsum += w.N[1][j]
			ddsum += w.N[2][j]
		}
		assert.InDelta(t, 1.0, sum, 1e-12, "u=%g", u)
		assert.InDelta(t, 0.0, dsum, 1e-10, "u=%g", u)
		assert.InDelta(t, 0.0, ddsum, 1e-9, "u=%g", u)
	}
}

func TestSpan(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	k, _ := ClampedUniform(6, 3, 0, 3)
	b := MustBasis(3, k, 6)
	assert.Equal(t, 3, b.Span(-1))
	assert.Equal(t, 3, b.Span(0))
	assert.Equal(t, 3, b.Span(0.99))
	assert.Equal(t, 4, b.Span(1))
	assert.Equal(t, 5, b.Span(2.5))
	assert.Equal(t, 5, b.Span(3))
	assert.Equal(t, 5, b.Span(10))
}

func TestBezierExtrapolation(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	ctrl := [4]r3.Vec{{X: 0}, {X: 1, Y: 2}, {X: 3, Y: 2, Z: 1}, {X: 4}}
	c, err := NewCurve(bezierBasis(t), ctrl[:])
	require.NoError(t, err)
	for _, u := range []float64{-0.5, -0.1, 0, 0.3, 0.5, 1, 1.2, 1.7} {
		want := bernstein(ctrl, u)
		got := c.ExtendedEvaluate(u)
		assert.InDelta(t, 0, r3.Norm(r3.Sub(want, got)), 1e-12, "u=%g", u)
	}
	// clamped evaluation sticks to the end points
	assert.Equal(t, c.Evaluate(1), c.Evaluate(1.5))
	assert.InDelta(t, 0, r3.Norm(r3.Sub(ctrl[0], c.Evaluate(-3))), 1e-12)
}

func TestDerivativesMatchFiniteDifferences(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	k, _ := ClampedUniform(6, 3, 0, 1)
	b := MustBasis(3, k, 6)
	ctrl := []r3.Vec{{X: 0}, {X: 1, Y: 1}, {X: 2, Y: -1, Z: 2}, {X: 3, Y: 0.5}, {X: 4, Z: -1}, {X: 5, Y: 2}}
	c, err := NewCurve(b, ctrl)
	require.NoError(t, err)
	const h = 1e-6
	for _, u := range []float64{-0.2, 0.1, 0.33, 0.5, 0.8, 1.15} {
		_, d1, d2 := c.ExtendedDerivatives(u)
		fd1 := r3.Scale(1/(2*h), r3.Sub(c.ExtendedEvaluate(u+h), c.ExtendedEvaluate(u-h)))
		assert.InDelta(t, 0, r3.Norm(r3.Sub(d1, fd1)), 1e-5, "first derivative at u=%g", u)
		fd2 := r3.Scale(1/(2*h), r3.Sub(c.ExtendedDerivative(u+h), c.ExtendedDerivative(u-h)))
		assert.InDelta(t, 0, r3.Norm(r3.Sub(d2, fd2)), 1e-3, "second derivative at u=%g", u)
	}
}

func TestScalarCurve(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	b := bezierBasis(t)
	s, err := NewScalarCurve(b, []float64{2, 2, 2, 2})
	require.NoError(t, err)
	for u := -1.0; u < 2; u += 0.25 {
		assert.InDelta(t, 2.0, s.ExtendedEvaluate(u), 1e-12)
		assert.InDelta(t, 0.0, s.ExtendedDerivative(u), 1e-12)
	}
	lin, _ := NewScalarCurve(b, []float64{0, 1, 2, 3})
	assert.InDelta(t, 3.0, lin.ExtendedDerivative(0.4), 1e-12)
	assert.InDelta(t, 4.5, lin.ExtendedEvaluate(1.5), 1e-12)
	assert.InDelta(t, 3.0, lin.Evaluate(1.5), 1e-12)
	_, err = NewScalarCurve(b, []float64{1})
	assert.ErrorIs(t, err, ErrControlCount)
}

func TestMapIsAffine(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	ctrl := []r3.Vec{{X: 0}, {X: 1, Y: 2}, {X: 3, Y: 2, Z: 1}, {X: 4}}
	c, _ := NewCurve(bezierBasis(t), ctrl)
	shift := r3.Vec{X: 10, Y: -3}
	m := c.Map(func(p r3.Vec) r3.Vec { return r3.Add(p, shift) })
	for u := -0.3; u < 1.3; u += 0.1 {
		d := r3.Sub(m.ExtendedEvaluate(u), c.ExtendedEvaluate(u))
		assert.InDelta(t, 0, r3.Norm(r3.Sub(d, shift)), 1e-12)
	}
	assert.False(t, math.IsNaN(m.Control(0).X))
}
