package syncer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/fyrsmithlabs/sessionsync/internal/telemetry"
	"github.com/fyrsmithlabs/sessionsync/internal/tracker"
)

func TestRun_RecordsMetrics(t *testing.T) {
	e := newEnv(t)
	e.writeSession(t, "main", "s1.jsonl", fixtureSession(testNow)...)
	m := NewMetrics()
	tr := &fakeTracker{tasks: []tracker.Task{doingTask("123", "Test Task")}}
	s := newTestSyncer(t, e, tr, WithMetrics(m))

	_, err := s.Run(context.Background(), RunOptions{Now: testNow})
	require.NoError(t, err)
	_, err = s.Run(context.Background(), RunOptions{Now: testNow, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("posted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("dry_run")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions))
	assert.Positive(t, testutil.ToFloat64(m.LastSuccess))

	tr.listErr = assert.AnError
	_, err = s.Run(context.Background(), RunOptions{Now: testNow})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("failure")))
}

func TestRun_FailedRunCountsCompletedPosts(t *testing.T) {
	e := newEnv(t)
	e.writeSession(t, "main", "s1.jsonl", fixtureSession(testNow)...)
	m := NewMetrics()
	tr := &fakeTracker{tasks: []tracker.Task{doingTask("123", "Test Task")}, failOn: 2}

	res, err := newTestSyncer(t, e, tr, WithMetrics(m)).Run(context.Background(), RunOptions{Now: testNow})
	require.ErrorIs(t, err, ErrDeliver)
	assert.Equal(t, 1, res.Posted)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("posted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("failure")))
	assert.Zero(t, testutil.ToFloat64(m.LastSuccess))
	assert.Zero(t, testutil.ToFloat64(m.Sessions))
}

func TestMetrics_Push(t *testing.T) {
	var pushes atomic.Int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metrics/job/sessionsync", r.URL.Path)
		pushes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	m := NewMetrics()
	m.Runs.WithLabelValues("success").Inc()
	require.NoError(t, m.Push(context.Background(), gw.URL, "sessionsync"))
	assert.Equal(t, int32(1), pushes.Load())
}

func TestRun_Spans(t *testing.T) {
	e := newEnv(t)
	e.writeSession(t, "main", "s1.jsonl", fixtureSession(testNow)...)
	tel := telemetry.NewTestTelemetry()
	tr := &fakeTracker{tasks: []tracker.Task{doingTask("123", "Test Task")}}
	s := newTestSyncer(t, e, tr, WithTracer(tel.Tracer("test")))

	_, err := s.Run(context.Background(), RunOptions{Now: testNow})
	require.NoError(t, err)

	tel.AssertSpanExists(t, "sync.run")
	tel.AssertSpanAttribute(t, "sync.run", "sync.posted", int64(2))
	tel.AssertSpanAttribute(t, "sync.task", "task.id", "123")

	failing := telemetry.NewTestTelemetry()
	tr.listErr = assert.AnError
	s = newTestSyncer(t, e, tr, WithTracer(failing.Tracer("test")))
	_, err = s.Run(context.Background(), RunOptions{Now: testNow})
	require.Error(t, err)
	assert.Equal(t, codes.Error, failing.SpanByName("sync.run").Status().Code)
}
