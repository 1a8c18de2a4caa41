/*
Package volume holds binary voxel masks and extracts surface point clouds
from them.

Labeling and thresholding of raw image data happen upstream; a Mask is the
result of that, one connected foreground region.

# BSD License

# Copyright (c) Norbert Pillmayer

All rights reserved.

Please refer to the license file for more information.
*/
package volume

import (
	"bufio"
	"fmt"
	"io"

	"github.com/npillmayer/irocs"
	"github.com/npillmayer/schuko/tracing"
	"gonum.org/v1/gonum/spatial/r3"
)

// tracer writes to trace with key 'irocs.frame'
func tracer() tracing.Trace {
	return tracing.Select("irocs.frame")
}

var (
	// ErrShape indicates a mask shape or element size which is not positive.
	ErrShape = fmt.Errorf("%w: invalid mask shape", irocs.ErrInput)
	// ErrEmpty indicates a mask without foreground voxels.
	ErrEmpty = fmt.Errorf("%w: mask is empty", irocs.ErrInput)
)

// Mask is a binary voxel volume with physical element size. Voxel (x,y,z)
// has its center at (x·ex, y·ey, z·ez), optionally mapped by Transform.
type Mask struct {
	Shape       [3]int   // voxels along x, y, z
	ElementSize r3.Vec   // physical extent of a voxel
	Transform   irocs.AT // voxel-center to world, nil for identity
	voxels      []bool   // x runs fastest
}

// New creates an empty mask.
func New(shape [3]int, elementSize r3.Vec) (*Mask, error) {
	if shape[0] <= 0 || shape[1] <= 0 || shape[2] <= 0 {
		return nil, fmt.Errorf("%w: shape %v", ErrShape, shape)
	}
	if !(elementSize.X > 0 && elementSize.Y > 0 && elementSize.Z > 0) {
		return nil, fmt.Errorf("%w: element size %v", ErrShape, elementSize)
	}
	return &Mask{
		Shape:       shape,
		ElementSize: elementSize,
		voxels:      make([]bool, shape[0]*shape[1]*shape[2]),
	}, nil
}

// ReadRaw reads a raw volume of one byte per voxel, x running fastest.
// Voxels with a value ≥ threshold are foreground.
func ReadRaw(r io.Reader, shape [3]int, elementSize r3.Vec, threshold byte) (*Mask, error) {
	m, err := New(shape, elementSize)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(m.voxels))
	if _, err := io.ReadFull(bufio.NewReader(r), buf); err != nil {
		return nil, fmt.Errorf("%w: reading %d voxels: %v", irocs.ErrInput, len(buf), err)
	}
	for i, b := range buf {
		m.voxels[i] = b >= threshold
	}
	return m, nil
}

func (m *Mask) index(x, y, z int) int {
	return (z*m.Shape[1]+y)*m.Shape[0] + x
}

func (m *Mask) inside(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < m.Shape[0] && y < m.Shape[1] && z < m.Shape[2]
}

// At is a predicate: is voxel (x,y,z) foreground? Voxels outside the volume
// are background.
func (m *Mask) At(x, y, z int) bool {
	return m.inside(x, y, z) && m.voxels[m.index(x, y, z)]
}

// Set sets voxel (x,y,z). Coordinates outside the volume are ignored.
func (m *Mask) Set(x, y, z int, fg bool) {
	if m.inside(x, y, z) {
		m.voxels[m.index(x, y, z)] = fg
	}
}

// Count returns the number of foreground voxels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.voxels {
		if v {
			n++
		}
	}
	return n
}

// Position returns the world position of the center of voxel (x,y,z).
func (m *Mask) Position(x, y, z int) r3.Vec {
	p := r3.Vec{
		X: float64(x) * m.ElementSize.X,
		Y: float64(y) * m.ElementSize.Y,
		Z: float64(z) * m.ElementSize.Z,
	}
	if m.Transform != nil {
		p = m.Transform.Transform(p)
	}
	return p
}

var neighbours = [6][3]int{{-1, 0, 0}, {1, 0, 0}, {0, -1, 0}, {0, 1, 0}, {0, 0, -1}, {0, 0, 1}}

// BoundaryPoints returns the world positions of all foreground voxels with at
// least one background voxel in their 6-neighbourhood, in voxel order.
func (m *Mask) BoundaryPoints() ([]r3.Vec, error) {
	var pts []r3.Vec
	for z := 0; z < m.Shape[2]; z++ {
		for y := 0; y < m.Shape[1]; y++ {
			for x := 0; x < m.Shape[0]; x++ {
				if !m.voxels[m.index(x, y, z)] {
					continue
				}
				for _, d := range neighbours {
					if !m.At(x+d[0], y+d[1], z+d[2]) {
						pts = append(pts, m.Position(x, y, z))
						break
					}
				}
			}
		}
	}
	if len(pts) == 0 {
		return nil, ErrEmpty
	}
	tracer().Debugf("extracted %d boundary points from mask %v", len(pts), m.Shape)
	return pts, nil
}
