/*
Package store persists fitted coordinate frames in a SQLite database, keyed by
named groups.

Numeric arrays are stored as little-endian float64 blobs. Loading a frame and
saving it again yields byte-identical arrays. The arc-length cache is stored
only on request; frames loaded without one rebuild their cache.

# BSD License

# Copyright (c) Norbert Pillmayer

All rights reserved.

Please refer to the license file for more information.
*/
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/npillmayer/irocs"
	"github.com/npillmayer/irocs/config"
	"github.com/npillmayer/irocs/frame"
	"github.com/npillmayer/schuko/tracing"
	"gonum.org/v1/gonum/spatial/r3"

	_ "modernc.org/sqlite"
)

// tracer writes to trace with key 'irocs.store'
func tracer() tracing.Trace {
	return tracing.Select("irocs.store")
}

var (
	// ErrGroupNotFound is returned for groups without a stored frame.
	ErrGroupNotFound = fmt.Errorf("%w: group not found", irocs.ErrPersistence)
	// ErrMalformed indicates stored data which cannot be decoded.
	ErrMalformed = fmt.Errorf("%w: malformed stored frame", irocs.ErrPersistence)
)

const schema = `
CREATE TABLE IF NOT EXISTS irocs_frames (
    group_name  TEXT PRIMARY KEY,
    fit_id      TEXT NOT NULL,
    degree      INTEGER NOT NULL,
    knots       BLOB NOT NULL,
    axis        BLOB NOT NULL,
    thickness   BLOB NOT NULL,
    transform   BLOB NOT NULL,
    landmark    BLOB NOT NULL,
    u_ref       BLOB NOT NULL,
    params_json TEXT NOT NULL,
    arc_cache   BLOB
)`

// Store is a frame database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and prepares the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", irocs.ErrPersistence, path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: executing %q: %v", irocs.ErrPersistence, pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %v", irocs.ErrPersistence, err)
	}
	tracer().Debugf("opened frame store %s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveOptions control Save.
type SaveOptions struct {
	WithCache bool   // store the arc-length cache for fast restore
	FitID     string // identifier of the fit; empty creates a new one
}

// Record is a stored frame.
type Record struct {
	Group    string
	FitID    string
	Snapshot *frame.Snapshot
}

// Save stores a frame snapshot under group, replacing an existing one.
// Returns the fit identifier.
func (s *Store) Save(ctx context.Context, group string, snap *frame.Snapshot, opts SaveOptions) (string, error) {
	if group == "" {
		return "", fmt.Errorf("%w: empty group name", irocs.ErrInput)
	}
	if snap == nil {
		return "", fmt.Errorf("%w: no snapshot", irocs.ErrInput)
	}
	id := opts.FitID
	if id == "" {
		id = uuid.NewString()
	}
	params, err := json.Marshal(config.FromParams(snap.Params))
	if err != nil {
		return "", fmt.Errorf("%w: encoding parameters: %v", irocs.ErrPersistence, err)
	}
	var cache []byte
	if opts.WithCache && len(snap.ArcCache) > 0 {
		cache = encodeFloats(snap.ArcCache)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO irocs_frames
		    (group_name, fit_id, degree, knots, axis, thickness, transform, landmark, u_ref, params_json, arc_cache)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_name) DO UPDATE SET
		    fit_id = excluded.fit_id, degree = excluded.degree, knots = excluded.knots,
		    axis = excluded.axis, thickness = excluded.thickness, transform = excluded.transform,
		    landmark = excluded.landmark, u_ref = excluded.u_ref,
		    params_json = excluded.params_json, arc_cache = excluded.arc_cache`,
		group, id, snap.Degree,
		encodeFloats(snap.Knots),
		encodeVecs(snap.Axis),
		encodeFloats(snap.Thickness),
		encodeFloats(snap.T),
		encodeVecs([]r3.Vec{snap.Landmark}),
		encodeFloats([]float64{snap.URef}),
		string(params),
		cache,
	)
	if err != nil {
		tracer().Errorf("saving group %q: %v", group, err)
		return "", fmt.Errorf("%w: saving group %q: %v", irocs.ErrPersistence, group, err)
	}
	tracer().Infof("saved frame %s under group %q", id, group)
	return id, nil
}

// Load reads the frame snapshot stored under group. The snapshot is decoded
// but not validated; use LoadFrame to obtain a usable frame.
func (s *Store) Load(ctx context.Context, group string) (*Record, error) {
	var (
		rec                                          = &Record{Group: group, Snapshot: &frame.Snapshot{}}
		knots, axis, thick, transform, landmark, ref []byte
		params                                       string
		cache                                        []byte
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT fit_id, degree, knots, axis, thickness, transform, landmark, u_ref, params_json, arc_cache
		FROM irocs_frames WHERE group_name = ?`, group)
	err := row.Scan(&rec.FitID, &rec.Snapshot.Degree, &knots, &axis, &thick, &transform,
		&landmark, &ref, &params, &cache)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrGroupNotFound, group)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading group %q: %v", irocs.ErrPersistence, group, err)
	}
	snap := rec.Snapshot
	if snap.Knots, err = decodeFloats(knots); err != nil {
		return nil, fmt.Errorf("knots: %w", err)
	}
	if snap.Axis, err = decodeVecs(axis); err != nil {
		return nil, fmt.Errorf("axis: %w", err)
	}
	if snap.Thickness, err = decodeFloats(thick); err != nil {
		return nil, fmt.Errorf("thickness: %w", err)
	}
	if snap.T, err = decodeFloats(transform); err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	lm, err := decodeVecs(landmark)
	if err != nil || len(lm) != 1 {
		return nil, fmt.Errorf("%w: landmark", ErrMalformed)
	}
	snap.Landmark = lm[0]
	u, err := decodeFloats(ref)
	if err != nil || len(u) != 1 {
		return nil, fmt.Errorf("%w: reference parameter", ErrMalformed)
	}
	snap.URef = u[0]
	cfg := config.Empty()
	if err := json.Unmarshal([]byte(params), cfg); err != nil {
		return nil, fmt.Errorf("%w: parameters: %v", ErrMalformed, err)
	}
	snap.Params = cfg.Params()
	if cache != nil {
		if snap.ArcCache, err = decodeFloats(cache); err != nil {
			return nil, fmt.Errorf("arc cache: %w", err)
		}
	}
	return rec, nil
}

// LoadFrame loads and restores the frame stored under group.
func (s *Store) LoadFrame(ctx context.Context, group string) (*frame.Frame, error) {
	rec, err := s.Load(ctx, group)
	if err != nil {
		return nil, err
	}
	return frame.Restore(rec.Snapshot)
}

// Groups lists the stored groups in lexical order.
func (s *Store) Groups(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_name FROM irocs_frames ORDER BY group_name`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing groups: %v", irocs.ErrPersistence, err)
	}
	defer rows.Close()
	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("%w: listing groups: %v", irocs.ErrPersistence, err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Delete removes the frame stored under group.
func (s *Store) Delete(ctx context.Context, group string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM irocs_frames WHERE group_name = ?`, group)
	if err != nil {
		return fmt.Errorf("%w: deleting group %q: %v", irocs.ErrPersistence, group, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrGroupNotFound, group)
	}
	return nil
}

// === Encoding ==============================================================

func encodeFloats(v []float64) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return b
}

func decodeFloats(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("%w: blob of %d bytes is not a float64 array", ErrMalformed, len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v, nil
}

func encodeVecs(v []r3.Vec) []byte {
	f := make([]float64, 0, 3*len(v))
	for _, p := range v {
		f = append(f, p.X, p.Y, p.Z)
	}
	return encodeFloats(f)
}

func decodeVecs(b []byte) ([]r3.Vec, error) {
	f, err := decodeFloats(b)
	if err != nil {
		return nil, err
	}
	if len(f)%3 != 0 {
		return nil, fmt.Errorf("%w: %d values are not a list of 3-vectors", ErrMalformed, len(f))
	}
	v := make([]r3.Vec, len(f)/3)
	for i := range v {
		v[i] = r3.Vec{X: f[3*i], Y: f[3*i+1], Z: f[3*i+2]}
	}
	return v, nil
}
