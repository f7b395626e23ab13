package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds Prometheus metrics for sync runs.
//
// Metrics:
//   - sessionsync_deliveries_total{outcome} - tool calls posted or skipped
//   - sessionsync_runs_total{status} - runs by success, failure or dry_run
//   - sessionsync_run_duration_seconds - histogram of run durations
//   - sessionsync_sessions_retained - sessions with in-window activity in the last run
//   - sessionsync_doing_tasks - tasks considered in the last run
//   - sessionsync_ambiguous_correlations_total - results attached by order with several open calls
//   - sessionsync_redactions_total - secrets removed from summaries
//   - sessionsync_last_success_timestamp_seconds - end of the last successful run
type Metrics struct {
	registry *prometheus.Registry

	Deliveries  *prometheus.CounterVec
	Runs        *prometheus.CounterVec
	RunDuration prometheus.Histogram
	Sessions    prometheus.Gauge
	Tasks       prometheus.Gauge
	Ambiguous   prometheus.Counter
	Redactions  prometheus.Counter
	LastSuccess prometheus.Gauge
}

// NewMetrics registers the sync metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionsync_deliveries_total",
				Help: "Tool calls handled per outcome",
			},
			[]string{"outcome"}, // "posted" or "skipped"
		),
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionsync_runs_total",
				Help: "Sync runs by status",
			},
			[]string{"status"},
		),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sessionsync_run_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "sessionsync_sessions_retained",
			Help: "Sessions with in-window activity in the last run",
		}),
		Tasks: f.NewGauge(prometheus.GaugeOpts{
			Name: "sessionsync_doing_tasks",
			Help: "Tasks in the doing column in the last run",
		}),
		Ambiguous: f.NewCounter(prometheus.CounterOpts{
			Name: "sessionsync_ambiguous_correlations_total",
			Help: "Tool results attached by order while several calls were open",
		}),
		Redactions: f.NewCounter(prometheus.CounterOpts{
			Name: "sessionsync_redactions_total",
			Help: "Secrets removed from delivered summaries",
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "sessionsync_last_success_timestamp_seconds",
			Help: "Unix time the last successful run finished",
		}),
	}
}

// Registry exposes the registry for /metrics handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observe(res *Result, err error, took time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	switch {
	case err != nil:
		status = "failure"
	case res.DryRun:
		status = "dry_run"
	}
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.Observe(took.Seconds())

	if res.DryRun {
		return
	}
	// Posts made before a failure still reached the tracker.
	m.Deliveries.WithLabelValues("posted").Add(float64(res.Posted))
	m.Deliveries.WithLabelValues("skipped").Add(float64(res.Skipped))
	if err != nil {
		return
	}
	m.Sessions.Set(float64(res.Sessions))
	m.Tasks.Set(float64(res.Tasks))
	m.Ambiguous.Add(float64(res.Ambiguous))
	m.Redactions.Add(float64(res.Redacted))
	m.LastSuccess.SetToCurrentTime()
}

// Push sends the current metrics to a Prometheus Pushgateway.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
