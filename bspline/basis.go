package bspline

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/npillmayer/irocs"
	"github.com/npillmayer/schuko/tracing"
)

// tracer writes to trace with key 'irocs.spline'
func tracer() tracing.Trace {
	return tracing.Select("irocs.spline")
}

// MaxDegree is the highest curve degree supported.
const MaxDegree = 5

var (
	// ErrDegree indicates a degree outside 1…MaxDegree.
	ErrDegree = fmt.Errorf("%w: unsupported spline degree", irocs.ErrInput)
	// ErrKnots indicates a knot vector which is not clamped, not sorted, or
	// does not match the number of control points.
	ErrKnots = fmt.Errorf("%w: invalid knot vector", irocs.ErrInput)
	// ErrControlCount indicates a control point count not matching the basis.
	ErrControlCount = errors.New("control point count does not match basis")
)

// Knots is a non-decreasing knot vector.
type Knots []float64

// ClampedUniform creates a clamped knot vector for n control points of the
// given degree over [u0,u1]. The boundary knots are repeated degree+1 times,
// interior knots are spaced uniformly.
func ClampedUniform(n, degree int, u0, u1 float64) (Knots, error) {
	if degree < 1 || degree > MaxDegree {
		return nil, fmt.Errorf("%w: %d", ErrDegree, degree)
	}
	if n < degree+1 {
		return nil, fmt.Errorf("%w: degree %d needs at least %d control points, got %d",
			ErrKnots, degree, degree+1, n)
	}
	if !(u1 > u0) {
		return nil, fmt.Errorf("%w: empty domain [%g,%g]", ErrKnots, u0, u1)
	}
	k := make(Knots, n+degree+1)
	spans := n - degree
	for i := range k {
		switch {
		case i <= degree:
			k[i] = u0
		case i >= n:
			k[i] = u1
		default:
			k[i] = u0 + (u1-u0)*float64(i-degree)/float64(spans)
		}
	}
	return k, nil
}

// Validate checks a knot vector against a degree and a control point count.
func (k Knots) Validate(n, degree int) error {
	if degree < 1 || degree > MaxDegree {
		return fmt.Errorf("%w: %d", ErrDegree, degree)
	}
	if len(k) != n+degree+1 {
		return fmt.Errorf("%w: %d control points of degree %d need %d knots, got %d",
			ErrKnots, n, degree, n+degree+1, len(k))
	}
	for i, u := range k {
		if math.IsNaN(u) || math.IsInf(u, 0) {
			return fmt.Errorf("%w: knot %d is not finite", ErrKnots, i)
		}
		if i > 0 && u < k[i-1] {
			return fmt.Errorf("%w: knot %d decreases", ErrKnots, i)
		}
	}
	for i := 1; i <= degree; i++ {
		if k[i] != k[0] || k[len(k)-1-i] != k[len(k)-1] {
			return fmt.Errorf("%w: boundary knots not clamped", ErrKnots)
		}
	}
	if !(k[n] > k[degree]) {
		return fmt.Errorf("%w: empty domain", ErrKnots)
	}
	return nil
}

// Equal compares two knot vectors exactly.
func (k Knots) Equal(o Knots) bool {
	if len(k) != len(o) {
		return false
	}
	for i := range k {
		if k[i] != o[i] {
			return false
		}
	}
	return true
}

// === Basis =================================================================

// Basis is the set of B-spline basis functions defined by a degree and a
// clamped knot vector. A Basis is immutable and may be shared between curves.
type Basis struct {
	degree int
	n      int   // number of basis functions = number of control points
	knots  Knots // private copy
}

// NewBasis creates a basis for n control points. The knot vector is copied.
func NewBasis(degree int, knots Knots, n int) (*Basis, error) {
	if err := knots.Validate(n, degree); err != nil {
		return nil, err
	}
	k := make(Knots, len(knots))
	copy(k, knots)
	return &Basis{degree: degree, n: n, knots: k}, nil
}

// MustBasis is a helper for static bases which panics on errors.
func MustBasis(degree int, knots Knots, n int) *Basis {
	b, err := NewBasis(degree, knots, n)
	if err != nil {
		panic(err)
	}
	return b
}

// Degree returns the polynomial degree.
func (b *Basis) Degree() int {
	return b.degree
}

// N returns the number of basis functions.
func (b *Basis) N() int {
	return b.n
}

// Knots returns a copy of the knot vector.
func (b *Basis) Knots() Knots {
	k := make(Knots, len(b.knots))
	copy(k, b.knots)
	return k
}

// Domain returns [u₀,u_last].
func (b *Basis) Domain() (float64, float64) {
	return b.knots[b.degree], b.knots[b.n]
}

// Width returns u_last - u₀.
func (b *Basis) Width() float64 {
	u0, u1 := b.Domain()
	return u1 - u0
}

// Clamp restricts u to the domain.
func (b *Basis) Clamp(u float64) float64 {
	u0, u1 := b.Domain()
	return math.Max(u0, math.Min(u1, u))
}

// Span finds the knot span index k with knots[k] ≤ u < knots[k+1].
// Parameters outside the domain are assigned the boundary spans, which
// makes evaluation extrapolate the boundary segments.
func (b *Basis) Span(u float64) int {
	u0, u1 := b.Domain()
	if u < u0 {
		return b.degree
	}
	if u >= u1 {
		return b.n - 1
	}
	// first knot strictly greater than u, searching the inner part only
	inner := b.knots[b.degree+1 : b.n+1]
	i := sort.Search(len(inner), func(i int) bool { return inner[i] > u })
	return b.degree + i
}

// Weights holds the non-vanishing basis functions at a parameter, together
// with their first and second derivatives. N[k][j] is the k-th derivative of
// the basis function with index Span-degree+j.
type Weights struct {
	Span int
	N    [3][MaxDegree + 1]float64
}

// First returns the index of the first non-vanishing basis function.
func (w *Weights) First(degree int) int {
	return w.Span - degree
}

// Weights calculates basis function values and derivatives up to order
// nders (0…2) at u. For u outside the domain the boundary span is used,
// i.e. the results are the polynomial continuation of the boundary segment.
func (b *Basis) Weights(u float64, nders int) Weights {
	p := b.degree
	if nders > 2 {
		nders = 2
	}
	if nders > p {
		nders = p // higher derivatives vanish
	}
	U := b.knots
	var w Weights
	w.Span = b.Span(u)
	span := w.Span
	var ndu [MaxDegree + 1][MaxDegree + 1]float64
	var left, right [MaxDegree + 1]float64
	ndu[0][0] = 1.0
	for j := 1; j <= p; j++ {
		left[j] = u - U[span+1-j]
		right[j] = U[span+j] - u
		saved := 0.0
		for r := 0; r < j; r++ {
			ndu[j][r] = right[r+1] + left[j-r] // knot difference, independent of u
			temp := ndu[r][j-1] / ndu[j][r]
			ndu[r][j] = saved + right[r+1]*temp
			saved = left[j-r] * temp
		}
		ndu[j][j] = saved
	}
	for j := 0; j <= p; j++ {
		w.N[0][j] = ndu[j][p]
	}
	if nders == 0 {
		return w
	}
	var a [2][MaxDegree + 1]float64
	for r := 0; r <= p; r++ {
		s1, s2 := 0, 1
		a[0][0] = 1.0
		for k := 1; k <= nders; k++ {
			d := 0.0
			rk, pk := r-k, p-k
			if r >= k {
				a[s2][0] = a[s1][0] / ndu[pk+1][rk]
				d = a[s2][0] * ndu[rk][pk]
			}
			j1, j2 := 1, k-1
			if rk < -1 {
				j1 = -rk
			}
			if r-1 > pk {
				j2 = p - r
			}
			for j := j1; j <= j2; j++ {
				a[s2][j] = (a[s1][j] - a[s1][j-1]) / ndu[pk+1][rk+j]
				d += a[s2][j] * ndu[rk+j][pk]
			}
			if r <= pk {
				a[s2][k] = -a[s1][k-1] / ndu[pk+1][r]
				d += a[s2][k] * ndu[r][pk]
			}
			w.N[k][r] = d
			s1, s2 = s2, s1
		}
	}
	f := float64(p)
	for k := 1; k <= nders; k++ {
		for j := 0; j <= p; j++ {
			w.N[k][j] *= f
		}
		f *= float64(p - k)
	}
	return w
}
