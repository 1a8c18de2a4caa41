package coupled

import (
	"fmt"
	"math"
	"runtime"

	"github.com/npillmayer/irocs"
	"github.com/npillmayer/irocs/bspline"
	"github.com/npillmayer/irocs/progress"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrInsufficientData indicates fewer points than control points.
	ErrInsufficientData = fmt.Errorf("%w: insufficient data for fitting", irocs.ErrInput)
	// ErrSingularSystem indicates normal equations which are not positive definite.
	ErrSingularSystem = fmt.Errorf("%w: singular least-squares system", irocs.ErrNumerical)
	// ErrParams indicates invalid fitting parameters.
	ErrParams = fmt.Errorf("%w: invalid fitting parameters", irocs.ErrInput)
)

const (
	initialBand      = 0.1 // half-width of the initial segment, fraction of the extent
	resampleFactor   = 16  // resampling points per control point for reparametrization
	maxRadiusSamples = 2048
)

// Params are the hyperparameters of a fit.
type Params struct {
	Kappa              float64 // data weight
	Lambda             float64 // axis smoothness weight
	Mu                 float64 // thickness smoothness weight
	NIter              int     // number of iterations
	Tau                float64 // relaxation step in (0,1]
	SearchRadius       float64 // smoothness cutoff; ≤ 0 selects it automatically
	ControlPoints      int     // control points per curve
	Workers            int     // parallel projections; ≤ 0 selects GOMAXPROCS
	ThicknessExtension float64 // see Model.Thickness
}

// DefaultParams returns the default hyperparameters.
func DefaultParams() Params {
	return Params{
		Kappa:              1,
		Lambda:             0.1,
		Mu:                 0.1,
		NIter:              50,
		Tau:                0.5,
		ControlPoints:      4,
		ThicknessExtension: DefaultThicknessExtension,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	switch {
	case !(p.Kappa > 0):
		return fmt.Errorf("%w: kappa must be positive, is %g", ErrParams, p.Kappa)
	case !(p.Lambda >= 0) || !(p.Mu >= 0):
		return fmt.Errorf("%w: lambda and mu must not be negative", ErrParams)
	case p.NIter < 0:
		return fmt.Errorf("%w: negative iteration count %d", ErrParams, p.NIter)
	case !(p.Tau > 0 && p.Tau <= 1):
		return fmt.Errorf("%w: tau must be in (0,1], is %g", ErrParams, p.Tau)
	case math.IsNaN(p.SearchRadius) || math.IsInf(p.SearchRadius, 0):
		return fmt.Errorf("%w: search radius is not finite", ErrParams)
	case p.ControlPoints < Degree+1:
		return fmt.Errorf("%w: need at least %d control points, have %d", ErrParams, Degree+1, p.ControlPoints)
	case !(p.ThicknessExtension >= 0):
		return fmt.Errorf("%w: thickness extension must not be negative", ErrParams)
	}
	return nil
}

func (p Params) workers() int {
	if p.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return p.Workers
}

// Result carries a fitted model together with fit diagnostics.
type Result struct {
	Model        *Model
	Iterations   int       // completed iterations
	Residuals    []float64 // mean absolute surface residual, per iteration
	SearchRadius float64   // effective smoothness cutoff
	AutoRadius   bool      // search radius has been derived from the data
}

// Fit fits a coupled model to a point cloud in canonical coordinates, i.e.
// centered at the origin with the body extended along the x-axis.
//
// Fit always runs p.NIter iterations. rep is polled for cancellation between
// iterations; on cancellation Fit returns the model of the last completed
// iteration together with an error wrapping irocs.ErrCancelled. rep may be nil.
func Fit(points []r3.Vec, p Params, rep progress.Reporter) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(points) < p.ControlPoints {
		tracer().Errorf("fit needs %d points, got %d", p.ControlPoints, len(points))
		return nil, fmt.Errorf("%w: %d points for %d control points", ErrInsufficientData, len(points), p.ControlPoints)
	}
	for i, pt := range points {
		if !irocs.Finite(pt) {
			return nil, fmt.Errorf("%w: point %d is not finite", irocs.ErrInput, i)
		}
	}
	f := &fitter{params: p, points: points, rep: rep}
	model, err := f.initialize()
	if err != nil {
		return nil, err
	}
	res := &Result{Model: model, SearchRadius: f.radius, AutoRadius: f.auto}
	for it := 0; it < p.NIter; it++ {
		if progress.Aborted(rep) {
			tracer().Infof("fit cancelled after %d iterations", it)
			return res, fmt.Errorf("%w: fit stopped after %d of %d iterations", irocs.ErrCancelled, it, p.NIter)
		}
		m, residual, err := f.iterate(res.Model)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", it, err)
		}
		res.Model = m
		res.Iterations = it + 1
		res.Residuals = append(res.Residuals, residual)
		tracer().Debugf("iteration %d: residual %.6g", it, residual)
		progress.Progress(rep, float64(it+1)/float64(p.NIter))
	}
	tracer().Infof("fitted %d points in %d iterations", len(points), res.Iterations)
	return res, nil
}

type fitter struct {
	params Params
	points []r3.Vec
	rep    progress.Reporter
	radius float64 // smoothness cutoff
	auto   bool
	us     []float64 // projection parameters
	ds     []float64 // projection distances
}

// === Initialization ========================================================

// initialize places a short straight axis along x, centered at the origin,
// with constant thickness taken from the points in the central band.
func (f *fitter) initialize() (*Model, error) {
	n := f.params.ControlPoints
	xs := make([]float64, len(f.points))
	for i, p := range f.points {
		xs[i] = p.X
	}
	extent := floats.Max(xs) - floats.Min(xs)
	if !(extent > 0) {
		return nil, fmt.Errorf("%w: point cloud has no extent along the principal axis", ErrInsufficientData)
	}
	half := initialBand * extent
	var band []r3.Vec
	for _, p := range f.points {
		if math.Abs(p.X) <= half {
			band = append(band, p)
		}
	}
	if len(band) == 0 {
		band = f.points
	}
	r0 := 0.0
	for _, p := range band {
		r0 += math.Hypot(p.Y, p.Z)
	}
	r0 /= float64(len(band))
	axis := make([]r3.Vec, n)
	thick := make([]float64, n)
	for j := range axis {
		axis[j] = r3.Vec{X: -half + 2*half*float64(j)/float64(n-1)}
		thick[j] = r0
	}
	f.radius = f.params.SearchRadius
	if f.radius <= 0 {
		f.auto = true
		f.radius = 0.5 * meanNearestDistance(band)
		if !(f.radius > 0) {
			f.radius = 0.5 * r0
		}
		msg := fmt.Sprintf("search radius not given, using %.4g", f.radius)
		tracer().Infof("%s", msg)
		progress.Status(f.rep, msg)
	}
	if !(f.radius > 0) {
		return nil, fmt.Errorf("%w: cannot derive a search radius", ErrInsufficientData)
	}
	k, err := bspline.ClampedUniform(n, Degree, 0, 1)
	if err != nil {
		return nil, err
	}
	b, err := bspline.NewBasis(Degree, k, n)
	if err != nil {
		return nil, err
	}
	tracer().Debugf("initial axis along x over ±%.4g, thickness %.4g", half, r0)
	return NewModel(b, axis, thick, f.params.ThicknessExtension)
}

// meanNearestDistance is the mean distance of points to their nearest
// neighbour. Large sets are subsampled deterministically.
func meanNearestDistance(points []r3.Vec) float64 {
	if len(points) < 2 {
		return 0
	}
	stride := 1 + len(points)/maxRadiusSamples
	var pts kdtree.Points
	for i := 0; i < len(points); i += stride {
		p := points[i]
		pts = append(pts, kdtree.Point{p.X, p.Y, p.Z})
	}
	if len(pts) < 2 {
		return 0
	}
	queries := make(kdtree.Points, len(pts))
	copy(queries, pts)
	tree := kdtree.New(pts, false)
	sum, cnt := 0.0, 0
	for _, q := range queries {
		keeper := kdtree.NewNKeeper(2) // the query point itself is one of them
		tree.NearestSet(keeper, q)
		d := 0.0
		for _, c := range keeper.Heap {
			if c.Comparable != nil && !math.IsInf(c.Dist, 0) {
				d = math.Max(d, c.Dist)
			}
		}
		sum += math.Sqrt(d)
		cnt++
	}
	return sum / float64(cnt)
}

// === Iteration =============================================================

// iterate performs one update of the control points:
//
//  1. project all points onto the extended axis
//  2. reparametrize the model so that the projections span [0,1]
//  3. solve the regularized least-squares problems for axis and thickness
//  4. relax the control points towards the solutions by tau
//
// The residual returned is the mean absolute surface distance of the points
// with respect to the incoming model.
func (f *fitter) iterate(m *Model) (*Model, float64, error) {
	if err := f.projectAll(m); err != nil {
		return nil, 0, err
	}
	umin, umax := floats.Min(f.us), floats.Max(f.us)
	if !(umax-umin > irocs.Epsilon*m.Width()) {
		return nil, 0, fmt.Errorf("%w: all points project onto a single axis point", ErrSingularSystem)
	}
	prev, err := reparametrize(m, umin, umax)
	if err != nil {
		return nil, 0, err
	}
	n := m.N()
	axisEq := newNormalEq(n, 3)
	thickEq := newNormalEq(n, 1)
	residual := 0.0
	kappa := f.params.Kappa
	for i, p := range f.points {
		u := f.us[i]
		t := (u - umin) / (umax - umin)
		c := m.ExtendedEvaluate(u)
		r := m.Thickness(u)
		d := f.ds[i]
		residual += math.Abs(d - r)
		q := c // points on the axis do not pull it
		if d > irocs.Epsilon {
			q = r3.Sub(p, r3.Scale(r/d, r3.Sub(p, c)))
		}
		bw := prev.basis.Weights(t, 0)
		axisEq.add(&bw, Degree, kappa, q.X, q.Y, q.Z)
		thickEq.add(&bw, Degree, kappa, d)
	}
	residual /= float64(len(f.points))
	axisEq.regularize(f.params.Lambda, f.window(axisBending(prev.axis.Controls())))
	thickEq.regularize(f.params.Mu, f.window(thicknessBending(prev.thickness.Controls())))
	ax, err := axisEq.solve()
	if err != nil {
		return nil, 0, err
	}
	th, err := thickEq.solve()
	if err != nil {
		return nil, 0, err
	}
	tau := f.params.Tau
	axis := prev.axis.Controls()
	thick := prev.thickness.Controls()
	for j := 0; j < n; j++ {
		target := r3.Vec{X: ax.At(j, 0), Y: ax.At(j, 1), Z: ax.At(j, 2)}
		axis[j] = r3.Add(axis[j], r3.Scale(tau, r3.Sub(target, axis[j])))
		thick[j] += tau * (th.At(j, 0) - thick[j])
	}
	next, err := NewModel(prev.basis, axis, thick, m.extension)
	if err != nil {
		return nil, 0, err
	}
	return next, residual, nil
}

// projectAll projects every point onto the extended axis, searching two
// domain widths beyond either end. Projections run in parallel; results are
// written to fixed slots, so the outcome does not depend on scheduling.
func (f *fitter) projectAll(m *Model) error {
	if f.us == nil {
		f.us = make([]float64, len(f.points))
		f.ds = make([]float64, len(f.points))
	}
	u0, u1 := m.Domain()
	w := u1 - u0
	lo, hi := u0-2*w, u1+2*w
	workers := f.params.workers()
	chunk := (len(f.points) + workers - 1) / workers
	var g errgroup.Group
	for start := 0; start < len(f.points); start += chunk {
		start := start
		end := min(start+chunk, len(f.points))
		g.Go(func() error {
			for i := start; i < end; i++ {
				d, u, err := m.project(f.points[i], lo, hi)
				if err != nil {
					return err
				}
				f.ds[i], f.us[i] = d, u
			}
			return nil
		})
	}
	return g.Wait()
}

// reparametrize returns a model on the domain [0,1] which approximates the
// extended curves of m over [umin,umax]. For Bézier curves (N = 4) the axis
// is reproduced exactly. Thickness is resampled from the clamped thickness.
func reparametrize(m *Model, umin, umax float64) (*Model, error) {
	n := m.N()
	k, err := bspline.ClampedUniform(n, Degree, 0, 1)
	if err != nil {
		return nil, err
	}
	b, err := bspline.NewBasis(Degree, k, n)
	if err != nil {
		return nil, err
	}
	axisEq := newNormalEq(n, 3)
	thickEq := newNormalEq(n, 1)
	samples := resampleFactor * n
	for s := 0; s <= samples; s++ {
		t := float64(s) / float64(samples)
		u := umin + t*(umax-umin)
		c := m.ExtendedEvaluate(u)
		w := b.Weights(t, 0)
		axisEq.add(&w, Degree, 1, c.X, c.Y, c.Z)
		thickEq.add(&w, Degree, 1, m.Thickness(u))
	}
	ax, err := axisEq.solve()
	if err != nil {
		return nil, err
	}
	th, err := thickEq.solve()
	if err != nil {
		return nil, err
	}
	axis := make([]r3.Vec, n)
	thick := make([]float64, n)
	for j := range axis {
		axis[j] = r3.Vec{X: ax.At(j, 0), Y: ax.At(j, 1), Z: ax.At(j, 2)}
		thick[j] = th.At(j, 0)
	}
	return NewModel(b, axis, thick, m.extension)
}

// === Normal equations ======================================================

// normalEq accumulates the normal equations AᵀWA x = AᵀWb of a weighted
// linear least-squares problem over B-spline control values, with one
// right-hand side column per coordinate.
type normalEq struct {
	n   int
	ata *mat.SymDense
	atb *mat.Dense
}

func newNormalEq(n, cols int) *normalEq {
	return &normalEq{
		n:   n,
		ata: mat.NewSymDense(n, nil),
		atb: mat.NewDense(n, cols, nil),
	}
}

// add accumulates one observation with basis weights bw and weight w.
func (ne *normalEq) add(bw *bspline.Weights, degree int, w float64, rhs ...float64) {
	first := bw.First(degree)
	for a := 0; a <= degree; a++ {
		na := bw.N[0][a]
		if na == 0 {
			continue
		}
		i := first + a
		for b := a; b <= degree; b++ {
			j := first + b
			ne.ata.SetSym(i, j, ne.ata.At(i, j)+w*na*bw.N[0][b])
		}
		for c, v := range rhs {
			ne.atb.Set(i, c, ne.atb.At(i, c)+w*na*v)
		}
	}
}

// regularize adds weight·DᵀHD, with D the second-difference operator on the
// control values and H = diag(window).
func (ne *normalEq) regularize(weight float64, window []float64) {
	if weight == 0 {
		return
	}
	coeff := [3]float64{1, -2, 1}
	for k := 0; k+2 < ne.n; k++ {
		for a := 0; a < 3; a++ {
			for b := a; b < 3; b++ {
				i, j := k+a, k+b
				ne.ata.SetSym(i, j, ne.ata.At(i, j)+weight*window[k]*coeff[a]*coeff[b])
			}
		}
	}
}

// === Smoothness window =====================================================

// axisBending returns the lengths of the second differences of the axis
// control points.
func axisBending(c []r3.Vec) []float64 {
	b := make([]float64, max(len(c)-2, 0))
	for k := range b {
		b[k] = r3.Norm(r3.Add(r3.Sub(c[k], r3.Scale(2, c[k+1])), c[k+2]))
	}
	return b
}

// thicknessBending returns the absolute second differences of the thickness
// control values.
func thicknessBending(c []float64) []float64 {
	b := make([]float64, max(len(c)-2, 0))
	for k := range b {
		b[k] = math.Abs(c[k] - 2*c[k+1] + c[k+2])
	}
	return b
}

// window weights second differences up to the search radius fully and
// larger ones with radius/|Δ²|, i.e. the smoothness terms grow linearly
// instead of quadratically beyond the cutoff.
func (f *fitter) window(bending []float64) []float64 {
	w := make([]float64, len(bending))
	for k, b := range bending {
		w[k] = 1
		if b > f.radius {
			w[k] = f.radius / b
		}
	}
	return w
}

func (ne *normalEq) solve() (*mat.Dense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(ne.ata); !ok {
		tracer().Errorf("normal equations are not positive definite")
		return nil, ErrSingularSystem
	}
	var x mat.Dense
	if err := chol.SolveTo(&x, ne.atb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularSystem, err)
	}
	r, c := x.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := x.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, ErrNonFinite
			}
		}
	}
	return &x, nil
}
