// Package tracker is the HTTP client for the task-tracking API.
//
// It reads tasks from GET /api/tasks and appends entries to a task's
// activity log with POST /api/tasks/{id}/activity. Requests are rate limited
// and transient failures are retried; any other non-2xx response is returned
// as a *StatusError.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/sessionsync/internal/logging"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/sessionsync/internal/tracker"

	maxTasksBody = 32 << 20
	maxErrorBody = 4 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
	// Retry defaults to DefaultRetryConfig when nil.
	Retry *RetryConfig
}

// Client talks to the tracker API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryConfig
	logger     *logging.Logger
	tracer     trace.Tracer

	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for retry notices.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTracer sets the tracer for request spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithMeter sets the meter for request counters and latencies.
func WithMeter(m metric.Meter) Option {
	return func(c *Client) { c.initMetrics(m) }
}

// New creates a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid tracker base URL %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}

	retryCfg := DefaultRetryConfig()
	if cfg.Retry != nil {
		retryCfg = *cfg.Retry
	}
	retryCfg.ApplyDefaults()

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		retry:      retryCfg,
		logger:     logging.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
	}
	c.initMetrics(otel.Meter(instrumentationName))
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) initMetrics(m metric.Meter) {
	var err error
	c.requests, err = m.Int64Counter(
		"sessionsync.tracker.requests",
		metric.WithDescription("Tracker API requests by operation and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create tracker request counter: %v", err))
	}
	c.duration, err = m.Float64Histogram(
		"sessionsync.tracker.request.duration",
		metric.WithDescription("Tracker API request latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create tracker duration histogram: %v", err))
	}
}

// ListTasks fetches every task. Transport errors, 429 and 5xx responses
// are retried.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	ctx, span := c.tracer.Start(ctx, "tracker.ListTasks")
	defer span.End()

	var tasks []Task
	err := retry(ctx, c.retry, func() error {
		body, err := c.do(ctx, "list_tasks", http.MethodGet, "/api/tasks", nil, true)
		if err != nil {
			return err
		}
		tasks = nil
		if err := json.Unmarshal(body, &tasks); err != nil {
			return fmt.Errorf("decoding tasks: %w", err)
		}
		return nil
	}, c.logRetry(ctx, "list_tasks"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}

	span.SetAttributes(attribute.Int("tracker.tasks", len(tasks)))
	return tasks, nil
}

// PostActivity appends an activity entry to a task. Only responses showing
// the request was not processed (429, 503) are retried, so a delivery is
// never sent twice by this client.
func (c *Client) PostActivity(ctx context.Context, taskID TaskID, a Activity) error {
	ctx, span := c.tracer.Start(ctx, "tracker.PostActivity",
		trace.WithAttributes(attribute.String("task.id", string(taskID))))
	defer span.End()

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	path := "/api/tasks/" + url.PathEscape(string(taskID)) + "/activity"
	err = retry(ctx, c.retry, func() error {
		_, err := c.do(ctx, "post_activity", http.MethodPost, path, payload, false)
		return err
	}, c.logRetry(ctx, "post_activity"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to post activity for task %s: %w", taskID, err)
	}
	return nil
}

// do performs one request. idempotent selects which failures are retryable.
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte, idempotent bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(ctx, op, "error", start)
		err = fmt.Errorf("%s %s: %w", method, path, err)
		if idempotent && ctx.Err() == nil {
			return nil, &retryableError{err: err}
		}
		return nil, err
	}
	defer resp.Body.Close()
	c.record(ctx, op, strconv.Itoa(resp.StatusCode), start)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxTasksBody))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return data, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := &StatusError{
		Op:         method + " " + path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
	}
	if shouldRetry(resp.StatusCode, idempotent) {
		return nil, &retryableError{err: statusErr, retryAfter: resp.Header.Get("Retry-After")}
	}
	return nil, statusErr
}

func shouldRetry(status int, idempotent bool) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	case http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusInternalServerError:
		return idempotent
	}
	return false
}

func (c *Client) record(ctx context.Context, op, status string, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("status", status),
	)
	c.requests.Add(ctx, 1, attrs)
	c.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func (c *Client) logRetry(ctx context.Context, op string) func(int, error, time.Duration) {
	return func(attempt int, err error, wait time.Duration) {
		c.logger.Warn(ctx, "retrying tracker request",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.retry.MaxRetries+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}
}
