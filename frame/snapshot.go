package frame

import (
	"fmt"
	"math"
	"runtime"

	"github.com/npillmayer/irocs"
	"github.com/npillmayer/irocs/bspline"
	"github.com/npillmayer/irocs/coupled"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidSnapshot indicates a snapshot which violates the invariants of a
// coordinate frame.
var ErrInvalidSnapshot = fmt.Errorf("%w: invalid frame snapshot", irocs.ErrPersistence)

// Snapshot is the persistent state of a fitted frame. ArcCache is optional;
// if absent or malformed, the cache is rebuilt on restore.
type Snapshot struct {
	Degree    int
	Knots     []float64
	Axis      []r3.Vec // original coordinates
	Thickness []float64
	T         []float64 // 16 row-major values, canonical → original
	Landmark  r3.Vec
	URef      float64
	Params    coupled.Params
	ArcCache  []float64
}

// Snapshot captures the state of a fitted frame. All slices are copies.
func (f *Frame) Snapshot() (*Snapshot, error) {
	if !f.fitted {
		return nil, ErrNotFitted
	}
	cache := make([]float64, len(f.cache.values))
	copy(cache, f.cache.values)
	return &Snapshot{
		Degree:    f.model.Degree(),
		Knots:     f.model.Knots(),
		Axis:      f.model.AxisControls(),
		Thickness: f.model.ThicknessControls(),
		T:         f.t.Data(),
		Landmark:  f.landmark,
		URef:      f.uRef,
		Params:    f.params,
		ArcCache:  cache,
	}, nil
}

// Restore creates a fitted frame from a snapshot. Either the returned frame
// is complete and fitted, or an error is returned.
func Restore(s *Snapshot) (*Frame, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: no snapshot", ErrInvalidSnapshot)
	}
	n := len(s.Axis)
	if len(s.Thickness) != n {
		return nil, fmt.Errorf("%w: %d axis control points, %d thickness values",
			ErrInvalidSnapshot, n, len(s.Thickness))
	}
	b, err := bspline.NewBasis(s.Degree, bspline.Knots(s.Knots), n)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	m, err := coupled.NewModel(b, s.Axis, s.Thickness, s.Params.ThicknessExtension)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	t, err := irocs.FromData(s.T)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	tinv, err := t.Inverse()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if !irocs.Finite(s.Landmark) || math.IsNaN(s.URef) || math.IsInf(s.URef, 0) {
		return nil, fmt.Errorf("%w: landmark or reference parameter not finite", ErrInvalidSnapshot)
	}
	f := &Frame{
		t: t, tinv: tinv,
		model:    m,
		landmark: s.Landmark,
		uRef:     s.URef,
		params:   s.Params,
	}
	if c, ok := restoreCache(m, s.URef, s.ArcCache); ok {
		f.cache = c
	} else {
		workers := s.Params.Workers
		if workers <= 0 {
			workers = runtime.GOMAXPROCS(0)
		}
		if f.cache, err = buildCache(m, s.URef, workers); err != nil {
			return nil, err
		}
	}
	f.fitted = true
	tracer().Debugf("frame restored, %d control points, cache %v", n, s.ArcCache != nil)
	return f, nil
}
