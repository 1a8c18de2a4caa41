/*
Package normalize computes canonicalizing rigid transforms for point clouds.

The canonical frame is centered at the point cloud's centroid, with its
coordinate axes aligned to the principal axes of the point cloud in order of
decreasing extent: axis 0 is the most extended direction. The rotation is
always proper (right-handed). A landmark may be used to fix the remaining
sign ambiguity of axis 0.

Degenerate point clouds (all points coincident or collinear) do not produce an
error; the result is flagged as low-confidence instead.

# BSD License

# Copyright (c) Norbert Pillmayer

All rights reserved.

Please refer to the license file for more information.
*/
package normalize

import (
	"fmt"
	"math"

	"github.com/npillmayer/irocs"
	"github.com/npillmayer/schuko/tracing"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// tracer writes to trace with key 'irocs.frame'
func tracer() tracing.Trace {
	return tracing.Select("irocs.frame")
}

// rankEpsilon is the relative eigenvalue threshold below which a principal
// direction is considered absent.
const rankEpsilon = 1e-9

var (
	// ErrTooFewPoints indicates a point cloud with less than 2 points.
	ErrTooFewPoints = fmt.Errorf("%w: point cloud needs at least 2 points", irocs.ErrInput)
	// ErrInvalidPoint indicates a point with NaN or infinite coordinates.
	ErrInvalidPoint = fmt.Errorf("%w: point cloud contains non-finite coordinates", irocs.ErrInput)
	// ErrEigen indicates a failed eigen-decomposition of the covariance matrix.
	ErrEigen = fmt.Errorf("%w: eigen-decomposition failed", irocs.ErrNumerical)
)

// Result is a canonicalizing transform pair together with the principal
// component analysis it has been derived from.
//
// T maps canonical coordinates to original coordinates, TInv maps original
// coordinates to canonical ones. TInv is always the matrix inverse of T.
type Result struct {
	T             irocs.AT
	TInv          irocs.AT
	Centroid      r3.Vec     // centroid of the point cloud, original frame
	Axes          [3]r3.Vec  // principal axes, original frame, by decreasing eigenvalue
	Eigenvalues   [3]float64 // decreasing
	LowConfidence bool       // covariance has rank < 2
	Flipped       bool       // 180° disambiguation applied
}

// Normalize computes the canonicalizing transform for a point cloud.
//
// Algorithm:
//  1. Compute the centroid
//  2. Build the 3x3 covariance matrix of the centered points
//  3. Eigen-decompose, order eigenvalues descending
//  4. Negate the first eigenvector if the rotation would be improper
//  5. TInv = rotation ∘ translation, T = TInv⁻¹
func Normalize(points []r3.Vec) (*Result, error) {
	n := len(points)
	if n < 2 {
		return nil, fmt.Errorf("%w, got %d", ErrTooFewPoints, n)
	}
	data := mat.NewDense(n, 3, nil)
	for i, p := range points {
		if !irocs.Finite(p) {
			return nil, fmt.Errorf("%w (point %d)", ErrInvalidPoint, i)
		}
		data.Set(i, 0, p.X)
		data.Set(i, 1, p.Y)
		data.Set(i, 2, p.Z)
	}
	res := &Result{}
	res.Centroid = r3.Vec{
		X: stat.Mean(mat.Col(nil, 0, data), nil),
		Y: stat.Mean(mat.Col(nil, 1, data), nil),
		Z: stat.Mean(mat.Col(nil, 2, data), nil),
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)
	var eigen mat.EigenSym
	if ok := eigen.Factorize(&cov, true); !ok {
		tracer().Errorf("eigen-decomposition of covariance failed")
		return nil, ErrEigen
	}
	vals := eigen.Values(nil) // ascending
	var vecs mat.Dense
	eigen.VectorsTo(&vecs)
	for i := 0; i < 3; i++ {
		j := 2 - i // descending order
		res.Eigenvalues[i] = vals[j]
		res.Axes[i] = r3.Vec{X: vecs.At(0, j), Y: vecs.At(1, j), Z: vecs.At(2, j)}
		if math.IsNaN(vals[j]) || !irocs.Finite(res.Axes[i]) {
			return nil, fmt.Errorf("%w: non-finite eigen-system", ErrEigen)
		}
	}
	if res.Eigenvalues[0] <= 0 || res.Eigenvalues[1] <= rankEpsilon*res.Eigenvalues[0] {
		tracer().Infof("point cloud covariance is rank-deficient, eigenvalues %v", res.Eigenvalues)
		res.LowConfidence = true
	}
	if r3.Dot(r3.Cross(res.Axes[0], res.Axes[1]), res.Axes[2]) < 0 {
		res.Axes[0] = r3.Scale(-1, res.Axes[0]) // force a proper rotation
	}
	if err := res.compose(); err != nil {
		return nil, err
	}
	tracer().Debugf("normalized %d points: centroid %v, eigenvalues %v", n, res.Centroid, res.Eigenvalues)
	return res, nil
}

// compose builds TInv from centroid and axes and recomputes T.
func (res *Result) compose() error {
	a := res.Axes
	// rows of the rotation are the principal axes
	rot := irocs.Linear([3]r3.Vec{
		{X: a[0].X, Y: a[1].X, Z: a[2].X},
		{X: a[0].Y, Y: a[1].Y, Z: a[2].Y},
		{X: a[0].Z, Y: a[1].Z, Z: a[2].Z},
	})
	tinv := irocs.Translation(r3.Scale(-1, res.Centroid)).Combine(rot)
	t, err := tinv.Inverse()
	if err != nil {
		return err
	}
	res.T, res.TInv = t, tinv
	return nil
}

// ToCanonical maps a point from the original frame to the canonical frame.
func (res *Result) ToCanonical(p r3.Vec) r3.Vec {
	return res.TInv.Transform(p)
}

// ToOriginal maps a point from the canonical frame to the original frame.
func (res *Result) ToOriginal(p r3.Vec) r3.Vec {
	return res.T.Transform(p)
}

// Disambiguate fixes the orientation of canonical axis 0 with a landmark:
// if the landmark has a positive axis-0 coordinate, the canonical frame is
// rotated by 180° around the shortest principal axis. Afterwards the landmark
// always lies on the negative side of axis 0.
//
// Returns the landmark's canonical position.
func (res *Result) Disambiguate(landmark r3.Vec) (r3.Vec, error) {
	if !irocs.Finite(landmark) {
		return r3.Vec{}, fmt.Errorf("%w: landmark %v", ErrInvalidPoint, landmark)
	}
	c := res.ToCanonical(landmark)
	if c.X <= 0 {
		return c, nil
	}
	tracer().Debugf("landmark at canonical %v, flipping axis 0", c)
	// diag(-1,-1,1) in canonical space keeps the rotation proper
	res.Axes[0] = r3.Scale(-1, res.Axes[0])
	res.Axes[1] = r3.Scale(-1, res.Axes[1])
	if err := res.compose(); err != nil {
		return r3.Vec{}, err
	}
	res.Flipped = !res.Flipped
	return res.ToCanonical(landmark), nil
}
