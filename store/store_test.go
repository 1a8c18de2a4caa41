package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/npillmayer/irocs"
	"github.com/npillmayer/irocs/bspline"
	"github.com/npillmayer/irocs/coupled"
	"github.com/npillmayer/irocs/frame"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "frames.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// a restored frame around a gently curved axis, placed off-origin
func sampleFrame(t *testing.T) *frame.Frame {
	t.Helper()
	k, err := bspline.ClampedUniform(5, 3, 0, 1)
	require.NoError(t, err)
	place := irocs.Linear([3]r3.Vec{{Y: 1}, {X: -1}, {Z: 1}}).Combine(irocs.Translation(r3.Vec{X: 3, Y: 1, Z: -2}))
	axis := []r3.Vec{{X: -20}, {X: -10, Y: 2}, {Y: 3}, {X: 10, Y: 2}, {X: 20}}
	for i := range axis {
		axis[i] = place.Transform(axis[i])
	}
	p := coupled.DefaultParams()
	p.Lambda = 0.25
	f, err := frame.Restore(&frame.Snapshot{
		Degree:    3,
		Knots:     k,
		Axis:      axis,
		Thickness: []float64{2, 2.5, 3, 2.5, 2},
		T:         place.Data(),
		Landmark:  axis[0],
		URef:      0,
		Params:    p,
	})
	require.NoError(t, err)
	return f
}

func rawArrays(t *testing.T, s *Store, group string) [][]byte {
	t.Helper()
	var knots, axis, thick, transform, landmark, ref []byte
	err := s.db.QueryRow(`SELECT knots, axis, thickness, transform, landmark, u_ref
		FROM irocs_frames WHERE group_name = ?`, group).Scan(&knots, &axis, &thick, &transform, &landmark, &ref)
	require.NoError(t, err)
	return [][]byte{knots, axis, thick, transform, landmark, ref}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	ctx := context.Background()
	s := openStore(t)
	f := sampleFrame(t)
	snap, err := f.Snapshot()
	require.NoError(t, err)
	id, err := s.Save(ctx, "root-1", snap, SaveOptions{WithCache: true})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
	rec, err := s.Load(ctx, "root-1")
	require.NoError(t, err)
	assert.Equal(t, id, rec.FitID)
	if diff := cmp.Diff(snap, rec.Snapshot); diff != "" {
		t.Errorf("loaded snapshot differs (-want +got):\n%s", diff)
	}
	g, err := s.LoadFrame(ctx, "root-1")
	require.NoError(t, err)
	for _, p := range []r3.Vec{{X: 3, Y: 1, Z: -2}, {X: 1, Y: -8, Z: 0}, {X: 6, Y: 15, Z: -1}} {
		c1, err := f.ToCurvilinear(p)
		require.NoError(t, err)
		c2, err := g.ToCurvilinear(p)
		require.NoError(t, err)
		assert.Equal(t, c1, c2)
		d1, _ := f.SurfaceDistance(p)
		d2, _ := g.SurfaceDistance(p)
		assert.Equal(t, d1, d2)
	}
}

func TestResaveIsByteIdentical(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	ctx := context.Background()
	s := openStore(t)
	snap, err := sampleFrame(t).Snapshot()
	require.NoError(t, err)
	_, err = s.Save(ctx, "a", snap, SaveOptions{})
	require.NoError(t, err)
	g, err := s.LoadFrame(ctx, "a")
	require.NoError(t, err)
	again, err := g.Snapshot()
	require.NoError(t, err)
	_, err = s.Save(ctx, "b", again, SaveOptions{FitID: "copy"})
	require.NoError(t, err)
	assert.True(t, cmp.Equal(rawArrays(t, s, "a"), rawArrays(t, s, "b")))
	rec, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, rec.Snapshot.ArcCache, "cache was not requested")
}

func TestGroupsAndDelete(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	ctx := context.Background()
	s := openStore(t)
	snap, _ := sampleFrame(t).Snapshot()
	for _, g := range []string{"b", "a", "c"} {
		_, err := s.Save(ctx, g, snap, SaveOptions{})
		require.NoError(t, err)
	}
	_, err := s.Save(ctx, "a", snap, SaveOptions{FitID: "second"}) // replaces
	require.NoError(t, err)
	groups, err := s.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, groups)
	rec, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "second", rec.FitID)
	require.NoError(t, s.Delete(ctx, "b"))
	assert.ErrorIs(t, s.Delete(ctx, "b"), ErrGroupNotFound)
	_, err = s.Load(ctx, "b")
	assert.ErrorIs(t, err, ErrGroupNotFound)
	assert.ErrorIs(t, err, irocs.ErrPersistence)
	_, err = s.Save(ctx, "", snap, SaveOptions{})
	assert.ErrorIs(t, err, irocs.ErrInput)
}

func TestMalformedRows(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	ctx := context.Background()
	s := openStore(t)
	snap, _ := sampleFrame(t).Snapshot()
	_, err := s.Save(ctx, "x", snap, SaveOptions{})
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE irocs_frames SET knots = ? WHERE group_name = 'x'`, []byte{1, 2, 3})
	require.NoError(t, err)
	_, err = s.Load(ctx, "x")
	assert.ErrorIs(t, err, ErrMalformed)
	// decodable, but violating the knot/control point invariant
	_, err = s.db.Exec(`UPDATE irocs_frames SET knots = ? WHERE group_name = 'x'`, encodeFloats([]float64{0, 0, 0, 0, 1, 1, 1, 1}))
	require.NoError(t, err)
	f, err := s.LoadFrame(ctx, "x")
	assert.Nil(t, f)
	assert.ErrorIs(t, err, frame.ErrInvalidSnapshot)
}

func TestFloatEncoding(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	v := []float64{0, -0.0, 1.5, math.Pi, math.Inf(-1), 1e-300}
	w, err := decodeFloats(encodeFloats(v))
	require.NoError(t, err)
	for i := range v {
		assert.Equal(t, math.Float64bits(v[i]), math.Float64bits(w[i]))
	}
	_, err = decodeVecs(encodeFloats([]float64{1, 2}))
	assert.ErrorIs(t, err, ErrMalformed)
}
