package volume

import (
	"bytes"
	"testing"

	"github.com/npillmayer/irocs"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestBoxBoundary(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	m, err := New([3]int{5, 5, 5}, r3.Vec{X: 1, Y: 1, Z: 2})
	require.NoError(t, err)
	for z := 1; z <= 3; z++ {
		for y := 1; y <= 3; y++ {
			for x := 1; x <= 3; x++ {
				m.Set(x, y, z, true)
			}
		}
	}
	assert.Equal(t, 27, m.Count())
	pts, err := m.BoundaryPoints()
	require.NoError(t, err)
	assert.Len(t, pts, 26, "all but the center voxel")
	for _, p := range pts {
		assert.False(t, p == r3.Vec{X: 2, Y: 2, Z: 4})
	}
}

func TestTransformAndBorder(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	m, _ := New([3]int{1, 1, 1}, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5})
	m.Set(0, 0, 0, true)
	m.Set(3, 0, 0, true) // ignored
	m.Transform = irocs.Translation(r3.Vec{X: 10})
	pts, err := m.BoundaryPoints()
	require.NoError(t, err)
	assert.Equal(t, []r3.Vec{{X: 10}}, pts)
	assert.False(t, m.At(-1, 0, 0))
}

func TestReadRaw(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	raw := []byte{0, 200, 10, 255, 0, 0, 128, 3}
	m, err := ReadRaw(bytes.NewReader(raw), [3]int{2, 2, 2}, r3.Vec{X: 1, Y: 1, Z: 1}, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Count())
	assert.True(t, m.At(1, 0, 0))
	assert.True(t, m.At(0, 1, 1))
	_, err = ReadRaw(bytes.NewReader(raw[:3]), [3]int{2, 2, 2}, r3.Vec{X: 1, Y: 1, Z: 1}, 100)
	assert.ErrorIs(t, err, irocs.ErrInput)
}

func TestInvalidMasks(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	_, err := New([3]int{0, 1, 1}, r3.Vec{X: 1, Y: 1, Z: 1})
	assert.ErrorIs(t, err, ErrShape)
	_, err = New([3]int{1, 1, 1}, r3.Vec{X: 1, Z: 1})
	assert.ErrorIs(t, err, ErrShape)
	m, _ := New([3]int{2, 2, 2}, r3.Vec{X: 1, Y: 1, Z: 1})
	_, err = m.BoundaryPoints()
	assert.ErrorIs(t, err, ErrEmpty)
}
