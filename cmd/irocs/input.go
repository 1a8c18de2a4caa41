package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/npillmayer/irocs"
	"github.com/npillmayer/irocs/frame"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// readPoints reads whitespace separated 'x y z' lines. Empty lines and lines
// starting with '#' are skipped.
func readPoints(r io.Reader) ([]r3.Vec, error) {
	var pts []r3.Vec
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("%w: line %d: need 3 coordinates", irocs.ErrInput, lineNo)
		}
		var c [3]float64
		for i := range c {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", irocs.ErrInput, lineNo, err)
			}
			c[i] = v
		}
		pts = append(pts, r3.Vec{X: c[0], Y: c[1], Z: c[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", irocs.ErrInput, err)
	}
	return pts, nil
}

func readPointFile(path string) ([]r3.Vec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", irocs.ErrInput, err)
	}
	defer f.Close()
	return readPoints(f)
}

func splitFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("%w: %q: need %d comma separated values", irocs.ErrInput, s, n)
	}
	v := make([]float64, n)
	for i, p := range parts {
		x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", irocs.ErrInput, s, err)
		}
		v[i] = x
	}
	return v, nil
}

func parseVec(s string) (r3.Vec, error) {
	v, err := splitFloats(s, 3)
	if err != nil {
		return r3.Vec{}, err
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}

func parseShape(s string) ([3]int, error) {
	var dims [3]int
	v, err := splitFloats(s, 3)
	if err != nil {
		return dims, err
	}
	for i, x := range v {
		dims[i] = int(x)
		if float64(dims[i]) != x || dims[i] <= 0 {
			return dims, fmt.Errorf("%w: shape %q", irocs.ErrInput, s)
		}
	}
	return dims, nil
}

// === Thickness profile =====================================================

const profileSamples = 200

// thicknessProfile samples thickness over arc length across the domain.
func thicknessProfile(f *frame.Frame) (plotter.XYs, error) {
	u0, u1 := f.Domain()
	xys := make(plotter.XYs, 0, profileSamples+1)
	for i := 0; i <= profileSamples; i++ {
		u := u0 + (u1-u0)*float64(i)/profileSamples
		s, err := f.ArcLengthAt(u)
		if err != nil {
			return nil, err
		}
		r, err := f.Thickness(u)
		if err != nil {
			return nil, err
		}
		xys = append(xys, plotter.XY{X: s, Y: r})
	}
	return xys, nil
}

func plotThickness(f *frame.Frame, path string) error {
	xys, err := thicknessProfile(f)
	if err != nil {
		return err
	}
	p := plot.New()
	p.Title.Text = "Thickness profile"
	p.X.Label.Text = "Arc length"
	p.Y.Label.Text = "Radius"
	line, err := plotter.NewLine(xys)
	if err != nil {
		return fmt.Errorf("creating thickness line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line)
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("saving plot %s: %w", path, err)
	}
	return nil
}
