/*
Package progress connects long running computations with their callers:
cancellation requests travel in, status messages and fractional completion
travel out.

Computations poll Aborted at well-defined boundaries (for fitting: between
iterations) and never block on a reporter. A nil Reporter is valid everywhere
and means "no reporting, never aborted".

# BSD License

# Copyright (c) Norbert Pillmayer

All rights reserved.

Please refer to the license file for more information.
*/
package progress

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/npillmayer/schuko/tracing"
)

// Reporter is the interface between a computation and its caller.
type Reporter interface {
	Aborted() bool             // has the caller requested cancellation?
	Status(msg string)         // human-readable status
	Progress(fraction float64) // completion in [0,1]
}

// Aborted is a nil-safe shortcut for r.Aborted().
func Aborted(r Reporter) bool {
	return r != nil && r.Aborted()
}

// Status is a nil-safe shortcut for r.Status(msg).
func Status(r Reporter, msg string) {
	if r != nil {
		r.Status(msg)
	}
}

// Progress is a nil-safe shortcut for r.Progress(fraction).
func Progress(r Reporter, fraction float64) {
	if r != nil {
		r.Progress(fraction)
	}
}

// === Sub-ranges ============================================================

type subRange struct {
	parent   Reporter
	min, max float64
}

// SubRange maps the completion range [0,1] of a sub-task into [min,max] of
// its parent. Cancellation and status messages are forwarded unchanged.
func SubRange(parent Reporter, min, max float64) Reporter {
	return subRange{parent: parent, min: min, max: max}
}

func (s subRange) Aborted() bool {
	return Aborted(s.parent)
}

func (s subRange) Status(msg string) {
	Status(s.parent, msg)
}

func (s subRange) Progress(fraction float64) {
	f := math.Max(0, math.Min(1, fraction))
	Progress(s.parent, s.min+f*(s.max-s.min))
}

// === Context ===============================================================

type ctxReporter struct {
	ctx    context.Context
	parent Reporter
}

// FromContext creates a reporter which is aborted as soon as ctx is done,
// or if parent is aborted. Messages go to parent, which may be nil.
func FromContext(ctx context.Context, parent Reporter) Reporter {
	return ctxReporter{ctx: ctx, parent: parent}
}

func (c ctxReporter) Aborted() bool {
	return c.ctx.Err() != nil || Aborted(c.parent)
}

func (c ctxReporter) Status(msg string) {
	Status(c.parent, msg)
}

func (c ctxReporter) Progress(fraction float64) {
	Progress(c.parent, fraction)
}

// === Tracing ===============================================================

// Tracer writes status messages and progress to the tracer with key
// 'irocs.progress'. It may be cancelled with Cancel.
type Tracer struct {
	cancelled atomic.Bool
	last      atomic.Int64 // last reported percentage
}

// Tracing creates a reporter which traces status messages and progress in
// steps of 10%.
func Tracing() *Tracer {
	t := &Tracer{}
	t.last.Store(-1)
	return t
}

func (t *Tracer) trace() tracing.Trace {
	return tracing.Select("irocs.progress")
}

// Cancel requests cancellation.
func (t *Tracer) Cancel() {
	t.cancelled.Store(true)
}

// Aborted is part of interface Reporter.
func (t *Tracer) Aborted() bool {
	return t.cancelled.Load()
}

// Status is part of interface Reporter.
func (t *Tracer) Status(msg string) {
	t.trace().Infof("%s", msg)
}

// Progress is part of interface Reporter.
func (t *Tracer) Progress(fraction float64) {
	pct := int64(math.Floor(fraction*10)) * 10
	if old := t.last.Load(); pct != old && t.last.CompareAndSwap(old, pct) {
		t.trace().Infof("%d%% done", pct)
	}
}
