/*
Package frame implements body-centered curvilinear coordinate frames
(intrinsic root coordinate systems) for elongated, roughly tubular bodies.

A Frame is fitted to a point cloud sampled on the body's surface. It consists
of a canonicalizing transform, a coupled axis/thickness model expressed in the
original coordinates, a reference parameter on the axis close to a landmark,
and an arc-length cache. After fitting, positions are converted to
curvilinear coordinates: arc length along the axis measured from the
landmark, distance from the axis, and angle around the axis.

Queries on a fitted frame are read-only and may run concurrently. Fit and
Restore must not run concurrently with queries on the same frame.

# BSD License

# Copyright (c) Norbert Pillmayer

All rights reserved.

Please refer to the license file for more information.
*/
package frame

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/npillmayer/irocs"
	"github.com/npillmayer/irocs/coupled"
	"github.com/npillmayer/irocs/normalize"
	"github.com/npillmayer/irocs/progress"
	"github.com/npillmayer/irocs/volume"
	"github.com/npillmayer/schuko/tracing"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"
)

// tracer writes to trace with key 'irocs.frame'
func tracer() tracing.Trace {
	return tracing.Select("irocs.frame")
}

// ErrNotFitted is returned by queries on a frame without a successful fit.
var ErrNotFitted = errors.New("coordinate frame is not fitted")

// parallel almost-collinearity threshold for the angular reference direction
const refParallel = 0.99

// Curvilinear holds curvilinear coordinates.
type Curvilinear struct {
	ArcLength float64 // along the axis, from the landmark
	Radius    float64 // distance from the axis
	Angle     float64 // around the axis, in (-π,π]
}

// Frame is a curvilinear coordinate frame. The zero value is an unfitted frame.
type Frame struct {
	fitted   bool
	t, tinv  irocs.AT       // canonical → original, original → canonical
	model    *coupled.Model // axis in original coordinates
	landmark r3.Vec
	uRef     float64
	params   coupled.Params
	cache    *arcCache
	norm     *normalize.Result
	result   *coupled.Result
}

// New creates an unfitted frame.
func New() *Frame {
	return &Frame{}
}

// Fitted is a predicate: has the frame been fitted or restored successfully?
func (f *Frame) Fitted() bool {
	return f.fitted
}

// Fit fits the frame to a surface point cloud given in original coordinates.
// landmark marks the end of the body where arc length starts.
//
// If rep signals cancellation, Fit returns an error wrapping
// irocs.ErrCancelled. The frame then holds the model of the last completed
// iteration (see Model), but is not fitted. On any other error the frame is
// reset to unfitted.
func (f *Frame) Fit(points []r3.Vec, landmark r3.Vec, p coupled.Params, rep progress.Reporter) error {
	*f = Frame{}
	progress.Status(rep, fmt.Sprintf("normalizing %d points", len(points)))
	norm, err := normalize.Normalize(points)
	if err != nil {
		return err
	}
	if norm.LowConfidence {
		progress.Status(rep, "point cloud is degenerate, fit will be unreliable")
	}
	lm, err := norm.Disambiguate(landmark)
	if err != nil {
		return err
	}
	tracer().Infof("normalized: eigenvalues %v, landmark at canonical %v", norm.Eigenvalues, lm)
	canonical := make([]r3.Vec, len(points))
	for i, pt := range points {
		canonical[i] = norm.ToCanonical(pt)
	}
	progress.Progress(rep, 0.05)
	tinv, err := norm.T.Inverse() // identical to what Restore derives
	if err != nil {
		return err
	}
	res, err := coupled.Fit(canonical, p, progress.SubRange(rep, 0.05, 0.9))
	if res != nil {
		f.t, f.tinv = norm.T, tinv
		f.model = res.Model.MapAxis(norm.T)
		f.norm, f.result = norm, res
		f.landmark, f.params = landmark, p
	}
	if err != nil {
		if !errors.Is(err, irocs.ErrCancelled) {
			*f = Frame{}
		}
		return err
	}
	if err := f.complete(p.Workers); err != nil {
		*f = Frame{}
		return err
	}
	progress.Progress(rep, 1)
	tracer().Infof("frame fitted, reference parameter %.6g", f.uRef)
	return nil
}

// FitMask fits the frame to the boundary of a voxel mask.
func (f *Frame) FitMask(m *volume.Mask, landmark r3.Vec, p coupled.Params, rep progress.Reporter) error {
	pts, err := m.BoundaryPoints()
	if err != nil {
		return err
	}
	return f.Fit(pts, landmark, p, rep)
}

// complete locates the reference parameter and builds the cache.
func (f *Frame) complete(workers int) error {
	_, u, err := f.model.ExtendedDistance(f.landmark)
	if err != nil {
		return err
	}
	f.uRef = u
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if f.cache, err = buildCache(f.model, f.uRef, workers); err != nil {
		return err
	}
	f.fitted = true
	return nil
}

// === Queries ===============================================================

// ToCurvilinear converts a position in original coordinates to curvilinear
// coordinates.
func (f *Frame) ToCurvilinear(pos r3.Vec) (Curvilinear, error) {
	if !f.fitted {
		return Curvilinear{}, ErrNotFitted
	}
	r, u, err := f.model.ExtendedDistance(pos)
	if err != nil {
		return Curvilinear{}, err
	}
	return Curvilinear{
		ArcLength: f.cache.arcLength(f.model, u),
		Radius:    r,
		Angle:     f.angle(pos, u),
	}, nil
}

// angle measures the angle of pos around the axis point at u in the
// canonical frame, against canonical axis 2 projected perpendicular to the
// tangent.
func (f *Frame) angle(pos r3.Vec, u float64) float64 {
	c := f.tinv.Transform(f.model.ExtendedEvaluate(u))
	t := r3.Unit(f.tinv.TransformDir(f.model.ExtendedDerivative(u)))
	ref := r3.Vec{Z: 1}
	if math.Abs(r3.Dot(ref, t)) > refParallel {
		ref = r3.Vec{Y: 1}
	}
	n := r3.Unit(r3.Sub(ref, r3.Scale(r3.Dot(ref, t), t)))
	b := r3.Cross(t, n)
	d := r3.Sub(f.tinv.Transform(pos), c)
	return math.Atan2(r3.Dot(d, b), r3.Dot(d, n))
}

// SurfaceDistance returns the signed distance of pos from the modeled body
// surface: negative inside, positive outside.
func (f *Frame) SurfaceDistance(pos r3.Vec) (float64, error) {
	if !f.fitted {
		return 0, ErrNotFitted
	}
	r, u, err := f.model.ExtendedDistance(pos)
	if err != nil {
		return 0, err
	}
	return r - f.model.Thickness(u), nil
}

// ToCurvilinearBatch converts a slice of positions, using up to workers
// goroutines (≤ 0 selects GOMAXPROCS).
func (f *Frame) ToCurvilinearBatch(positions []r3.Vec, workers int) ([]Curvilinear, error) {
	if !f.fitted {
		return nil, ErrNotFitted
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]Curvilinear, len(positions))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, p := range positions {
		i, p := i, p
		g.Go(func() error {
			c, err := f.ToCurvilinear(p)
			if err != nil {
				return fmt.Errorf("position %d: %w", i, err)
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// === Accessors =============================================================

// AxisPosition returns the (extended) axis point at u, in original coordinates.
func (f *Frame) AxisPosition(u float64) (r3.Vec, error) {
	if !f.fitted {
		return r3.Vec{}, ErrNotFitted
	}
	return f.model.ExtendedEvaluate(u), nil
}

// Thickness returns the body radius at u.
func (f *Frame) Thickness(u float64) (float64, error) {
	if !f.fitted {
		return 0, ErrNotFitted
	}
	return f.model.Thickness(u), nil
}

// ArcLengthAt returns the arc length from the reference parameter to u.
func (f *Frame) ArcLengthAt(u float64) (float64, error) {
	if !f.fitted {
		return 0, ErrNotFitted
	}
	return f.cache.arcLength(f.model, u), nil
}

// Domain returns the parameter domain of the fitted model.
func (f *Frame) Domain() (float64, float64) {
	if f.model == nil {
		return 0, 0
	}
	return f.model.Domain()
}

// ReferenceParameter returns the axis parameter closest to the landmark.
func (f *Frame) ReferenceParameter() float64 {
	return f.uRef
}

// Landmark returns the landmark in original coordinates.
func (f *Frame) Landmark() r3.Vec {
	return f.landmark
}

// Transform returns T (canonical → original) and its inverse.
func (f *Frame) Transform() (irocs.AT, irocs.AT) {
	return f.t, f.tinv
}

// Params returns the hyperparameters of the current fit.
func (f *Frame) Params() coupled.Params {
	return f.params
}

// Model returns the current model in original coordinates. After a cancelled
// fit this is the model of the last completed iteration. May be nil.
func (f *Frame) Model() *coupled.Model {
	return f.model
}

// FitResult returns fit diagnostics, or nil for restored frames.
func (f *Frame) FitResult() *coupled.Result {
	return f.result
}

// Normalization returns the principal component analysis of the fitted
// point cloud, or nil for restored frames.
func (f *Frame) Normalization() *normalize.Result {
	return f.norm
}
