package frame

import (
	"fmt"
	"math"

	"github.com/npillmayer/irocs/coupled"
	"golang.org/x/sync/errgroup"
)

// CacheSize is the number of entries of an arc-length cache.
const CacheSize = 32768

// arcCache holds cumulative arc lengths of the extended axis over
// [u₀-W, u₀+2W), measured from the reference parameter. Entry i belongs to
// parameter uStart + i·h.
type arcCache struct {
	model  *coupled.Model // the model the cache has been built for
	uRef   float64
	uStart float64
	h      float64
	values []float64
}

func cacheRange(m *coupled.Model) (float64, float64) {
	u0, _ := m.Domain()
	w := m.Width()
	return u0 - w, 3 * w / CacheSize
}

// buildCache integrates the bins in parallel and gathers them with a
// sequential prefix sum.
func buildCache(m *coupled.Model, uRef float64, workers int) (*arcCache, error) {
	uStart, h := cacheRange(m)
	c := &arcCache{model: m, uRef: uRef, uStart: uStart, h: h, values: make([]float64, CacheSize)}
	incr := c.values // increments first, sums in place afterwards
	chunk := (CacheSize + workers - 1) / workers
	var g errgroup.Group
	for start := 0; start < CacheSize; start += chunk {
		start := start
		end := min(start+chunk, CacheSize)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if i == 0 {
					incr[0] = m.ExtendedCurveIntegral(uRef, uStart)
				} else {
					incr[i] = m.ExtendedCurveIntegral(c.at(i-1), c.at(i))
				}
				if math.IsNaN(incr[i]) || math.IsInf(incr[i], 0) {
					return fmt.Errorf("%w: arc length of cache bin %d", coupled.ErrNonFinite, i)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i := 1; i < CacheSize; i++ {
		c.values[i] += c.values[i-1]
	}
	tracer().Debugf("arc-length cache over [%.4g,%.4g), total %.6g", uStart, uStart+CacheSize*h,
		c.values[CacheSize-1]-c.values[0])
	return c, nil
}

// restoreCache wraps persisted cache values. Values with the wrong length or
// non-finite entries are rejected, as are values which do not belong to m and
// uRef: the first entry and one interior increment are recomputed and
// compared.
func restoreCache(m *coupled.Model, uRef float64, values []float64) (*arcCache, bool) {
	if len(values) != CacheSize {
		return nil, false
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
	}
	uStart, h := cacheRange(m)
	v := make([]float64, CacheSize)
	copy(v, values)
	c := &arcCache{model: m, uRef: uRef, uStart: uStart, h: h, values: v}
	const k = CacheSize / 2
	if !cacheAgrees(v[0], m.ExtendedCurveIntegral(uRef, uStart)) ||
		!cacheAgrees(v[k]-v[k-1], m.ExtendedCurveIntegral(c.at(k-1), c.at(k))) {
		tracer().Infof("persisted arc-length cache does not match the model, rebuilding")
		return nil, false
	}
	return c, true
}

// cacheAgrees compares a persisted cache quantity with its recomputation.
// Differences of prefix sums lose a few ulps of the sum.
func cacheAgrees(stored, computed float64) bool {
	return math.Abs(stored-computed) <= cacheTolerance*math.Max(1, math.Abs(stored))
}

const cacheTolerance = 1e-9

func (c *arcCache) at(i int) float64 {
	return c.uStart + float64(i)*c.h
}

// arcLength returns the arc length from uRef to u: the entry of the bin
// containing u plus the integral over the rest of the bin. Parameters outside
// the cached range are integrated directly.
func (c *arcCache) arcLength(m *coupled.Model, u float64) float64 {
	if m != c.model {
		panic("arc-length cache used with a model it has not been built for")
	}
	bin := math.Floor((u - c.uStart) / c.h)
	if bin < 0 || bin >= CacheSize || math.IsNaN(bin) {
		return m.ExtendedCurveIntegral(c.uRef, u)
	}
	i := int(bin)
	return c.values[i] + m.ExtendedCurveIntegral(c.at(i), u)
}
