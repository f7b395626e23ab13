package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/sessionsync/internal/telemetry"
)

func fastRetry(n int) *RetryConfig {
	return &RetryConfig{
		MaxRetries:        n,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, retries int) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: srv.URL + "/", Timeout: 5 * time.Second, Retry: fastRetry(retries)})
	require.NoError(t, err)
	return c
}

func TestNew_InvalidBaseURL(t *testing.T) {
	for _, u := range []string{"", "localhost:3000", "ftp://example.com", "http://"} {
		_, err := New(Config{BaseURL: u})
		assert.Error(t, err, u)
	}
}

func TestListTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/tasks", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"id": 123, "name": "Fix login bug", "column": "doing", "assignee": "Ada", "due_date": null, "activity": []},
			{"id": "abc", "name": "Write docs", "column": "Done"}
		]`)
	}))
	defer srv.Close()

	tasks, err := newTestClient(t, srv, 0).ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, TaskID("123"), tasks[0].ID)
	assert.Equal(t, "Fix login bug", tasks[0].Name)
	assert.True(t, tasks[0].InColumn("DOING"))
	assert.Nil(t, tasks[0].DueDate)

	assert.Equal(t, TaskID("abc"), tasks[1].ID)
	assert.False(t, tasks[1].InColumn("doing"))
}

func TestListTasks_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `[{"id": 1, "name": "t", "column": "doing"}]`)
	}))
	defer srv.Close()

	tasks, err := newTestClient(t, srv, 3).ListTasks(context.Background())
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestListTasks_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, 2).ListTasks(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, "boom", se.Body)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestListTasks_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"not": "an array"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, 3).ListTasks(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding tasks")
}

func TestPostActivity(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/tasks/123/activity", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := newTestClient(t, srv, 0).PostActivity(context.Background(), "123",
		ToolCallActivity("Ada", "exec: {\"cmd\":\"ls\"}", "s1"))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"action":     "tool_call",
		"user":       "Ada",
		"details":    "exec: {\"cmd\":\"ls\"}",
		"type":       "technical",
		"session_id": "s1",
	}, got)
}

func TestPostActivity_OmitsEmptySession(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv, 0).PostActivity(context.Background(), "7",
		ToolCallActivity("Ada", "read", "")))
	_, ok := got["session_id"]
	assert.False(t, ok)
}

func TestPostActivity_DoesNotRetryServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := newTestClient(t, srv, 3).PostActivity(context.Background(), "1", ToolCallActivity("Ada", "x", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPostActivity_RetriesTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(t, srv, 3).PostActivity(context.Background(), "1", ToolCallActivity("Ada", "x", ""))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPostActivity_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Task not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	err := newTestClient(t, srv, 3).PostActivity(context.Background(), "999", ToolCallActivity("Ada", "x", ""))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Contains(t, err.Error(), "task 999")
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxRetries: 3, InitialBackoff: time.Second}
	cfg.ApplyDefaults()
	err := retry(ctx, cfg, func() error {
		return &retryableError{err: errors.New("transient")}
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRetryAfter(t *testing.T) {
	d, ok := parseRetryAfter("2")
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	_, ok = parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT")
	assert.False(t, ok)
	_, ok = parseRetryAfter("")
	assert.False(t, ok)
}

func TestTaskID_Unmarshal(t *testing.T) {
	var ids []TaskID
	require.NoError(t, json.Unmarshal([]byte(`[1, "2", 3.0, null]`), &ids))
	assert.Equal(t, []TaskID{"1", "2", "3.0", ""}, ids)

	var bad TaskID
	assert.Error(t, json.Unmarshal([]byte(`{}`), &bad))
}

func TestClient_RecordsTelemetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	tel := telemetry.NewTestTelemetry()
	c, err := New(Config{BaseURL: srv.URL}, WithTracer(tel.Tracer("test")), WithMeter(tel.Meter("test")))
	require.NoError(t, err)

	_, err = c.ListTasks(context.Background())
	require.NoError(t, err)

	tel.AssertSpanExists(t, "tracker.ListTasks")

	rm, err := tel.Collect(context.Background())
	require.NoError(t, err)
	m, ok := telemetry.FindMetric(rm, "sessionsync.tracker.requests")
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)

	_, ok = telemetry.FindMetric(rm, "sessionsync.tracker.request.duration")
	assert.True(t, ok)
}
