package progress

import (
	"context"
	"testing"

	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	aborted  bool
	messages []string
	values   []float64
}

func (r *recorder) Aborted() bool             { return r.aborted }
func (r *recorder) Status(msg string)         { r.messages = append(r.messages, msg) }
func (r *recorder) Progress(fraction float64) { r.values = append(r.values, fraction) }

func TestNilReporter(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	var r Reporter
	assert.False(t, Aborted(r))
	Status(r, "ignored")
	Progress(r, 0.5)
	Progress(SubRange(nil, 0, 1), 0.5)
}

func TestSubRange(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	rec := &recorder{}
	sub := SubRange(rec, 0.2, 0.6)
	sub.Progress(0)
	sub.Progress(0.5)
	sub.Progress(2)
	sub.Status("fitting")
	assert.InDeltaSlice(t, []float64{0.2, 0.4, 0.6}, rec.values, 1e-12)
	assert.Equal(t, []string{"fitting"}, rec.messages)
	rec.aborted = true
	assert.True(t, sub.Aborted())
}

func TestContextReporter(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	r := FromContext(ctx, rec)
	assert.False(t, r.Aborted())
	r.Progress(0.3)
	cancel()
	assert.True(t, r.Aborted())
	assert.Equal(t, []float64{0.3}, rec.values)
}

func TestTracingReporter(t *testing.T) {
	teardown := gotestingadapter.RedirectTracing(t)
	defer teardown()
	tr := Tracing()
	tr.Status("start")
	for i := 0; i <= 20; i++ {
		tr.Progress(float64(i) / 20)
	}
	assert.False(t, tr.Aborted())
	tr.Cancel()
	assert.True(t, tr.Aborted())
}
