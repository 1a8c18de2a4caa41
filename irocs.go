/*
Package irocs implements the numeric groundwork for fitting body-centered
coordinate frames to 3-D point clouds: tolerances, homogeneous transforms, and
the error taxonomy shared by all sub-packages.

The coordinate frame itself lives in package frame, the curve pair it is built
on in package coupled.

# BSD License

# Copyright (c) Norbert Pillmayer

All rights reserved.

Please refer to the license file for more information.
*/
package irocs

import (
	"errors"
	"fmt"
	"math"

	"github.com/npillmayer/schuko/tracing"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// tracer writes to trace with key 'irocs'
func tracer() tracing.Trace {
	return tracing.Select("irocs")
}

// === Error Taxonomy ========================================================

var (
	// ErrInput flags point clouds or arguments which cannot be fitted.
	ErrInput = errors.New("invalid input")
	// ErrNumerical flags decompositions or projections which did not produce
	// finite results.
	ErrNumerical = errors.New("numerical failure")
	// ErrCancelled is returned when a fit observed a cancellation request.
	// It is not a failure: the partially fitted state stays accessible.
	ErrCancelled = errors.New("cancelled")
	// ErrPersistence flags malformed or missing persisted state.
	ErrPersistence = errors.New("persistence failure")
)

// === Numeric Data Type =====================================================

// Epsilon : numbers below ε are considered 0
var Epsilon float64 = 0.0000001

// Is0 is a predicate: is n = 0 ?
func Is0(n float64) bool {
	return math.Abs(n) <= Epsilon
}

// Zap makes n = 0 if n "means" to be zero
func Zap(n float64) float64 {
	if Is0(n) {
		n = 0
	}
	return n
}

// Finite is a predicate: are all coordinates of v neither NaN nor ±Inf ?
func Finite(v r3.Vec) bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// === Homogeneous Transformations ===========================================

// AT is a homogeneous transform in 3-space, a matrix type used for
// transforming points and directions.
type AT []float64 // a 4x4 matrix, flattened by rows

// Internal constructor. Clients implicitely use this as a starting point for
// transform combinations.
func newAT() AT {
	m := make([]float64, 16)
	return m
}

func (m AT) get(row, col int) float64 {
	return m[row*4+col]
}

func (m AT) set(row, col int, value float64) {
	m[row*4+col] = value
}

func (m AT) row(row int) []float64 {
	return m[row*4 : (row+1)*4]
}

func (m AT) col(col int) []float64 {
	c := make([]float64, 4)
	for i := 0; i < 4; i++ {
		c[i] = m[i*4+col]
	}
	return c
}

// Identity transform. Will transform a point onto itself.
func Identity() AT {
	m := newAT()
	for i := 0; i < 4; i++ {
		m.set(i, i, 1.0)
	}
	return m
}

// Translation transform. Translate a point by v.
func Translation(v r3.Vec) AT {
	m := Identity()
	m.set(0, 3, v.X)
	m.set(1, 3, v.Y)
	m.set(2, 3, v.Z)
	return m
}

// Linear creates a transform without translation part, given the images of
// the unit vectors. cols[i] becomes column i of the linear part.
func Linear(cols [3]r3.Vec) AT {
	m := newAT()
	for i, c := range cols {
		m.set(0, i, c.X)
		m.set(1, i, c.Y)
		m.set(2, i, c.Z)
	}
	m.set(3, 3, 1.0)
	return m
}

// FromData creates a transform from 16 row-major values. The values are copied.
func FromData(data []float64) (AT, error) {
	if len(data) != 16 {
		return nil, fmt.Errorf("%w: homogeneous transform needs 16 values, got %d", ErrInput, len(data))
	}
	m := newAT()
	copy(m, data)
	return m, nil
}

// Data returns a copy of the row-major matrix values.
func (m AT) Data() []float64 {
	d := make([]float64, 16)
	copy(d, m)
	return d
}

// Debug Stringer for a homogeneous transform.
func (m AT) String() string {
	s := "["
	for r := 0; r < 4; r++ {
		if r > 0 {
			s += "|"
		}
		s += fmt.Sprintf("%g,%g,%g,%g", m.get(r, 0), m.get(r, 1), m.get(r, 2), m.get(r, 3))
	}
	return s + "]"
}

// v1 × v2 for homogeneous 4-vectors
func dotProd(vec1, vec2 []float64) float64 {
	return vec1[0]*vec2[0] + vec1[1]*vec2[1] + vec1[2]*vec2[2] + vec1[3]*vec2[3]
}

// Combine 2 transformations to a new one: the result applies m first,
// then n. Returns a new transformation without changing the argument(s).
func (m AT) Combine(n AT) AT {
	o := newAT()
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			o.set(row, col, dotProd(n.row(row), m.col(col)))
		}
	}
	return o
}

func (m AT) multiplyVector(v []float64) []float64 {
	c := make([]float64, 4)
	for i := 0; i < 4; i++ {
		c[i] = dotProd(m.row(i), v)
	}
	return c
}

// Transform a 3D-point. The argument is unchanged and a new point is returned.
func (m AT) Transform(p r3.Vec) r3.Vec {
	c := m.multiplyVector([]float64{p.X, p.Y, p.Z, 1.0})
	return r3.Vec{X: c[0], Y: c[1], Z: c[2]}
}

// TransformDir transforms a direction, i.e. applies the linear part only.
func (m AT) TransformDir(v r3.Vec) r3.Vec {
	c := m.multiplyVector([]float64{v.X, v.Y, v.Z, 0.0})
	return r3.Vec{X: c[0], Y: c[1], Z: c[2]}
}

// Determinant of the linear 3x3 part.
func (m AT) Determinant() float64 {
	return mat.Det(mat.NewDense(3, 3, []float64{
		m.get(0, 0), m.get(0, 1), m.get(0, 2),
		m.get(1, 0), m.get(1, 1), m.get(1, 2),
		m.get(2, 0), m.get(2, 1), m.get(2, 2),
	}))
}

// Inverse returns the matrix inverse of m. Singular or near-singular
// transforms produce an error wrapping ErrNumerical.
func (m AT) Inverse() (AT, error) {
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(4, 4, m.Data())); err != nil {
		tracer().Errorf("cannot invert transform %s: %v", m, err)
		return nil, fmt.Errorf("%w: transform not invertible: %v", ErrNumerical, err)
	}
	o := newAT()
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			o.set(r, c, inv.At(r, c))
		}
	}
	return o, nil
}

// Equal compares two transforms within tolerance tol.
func (m AT) Equal(n AT, tol float64) bool {
	if len(m) != 16 || len(n) != 16 {
		return false
	}
	for i := range m {
		if math.Abs(m[i]-n[i]) > tol {
			return false
		}
	}
	return true
}
