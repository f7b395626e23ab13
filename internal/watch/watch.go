// Package watch runs syncs continuously: after transcripts change, once the
// writes settle, and on a fixed interval.
//
// Runs happen one at a time on the watcher's own goroutine, so a sync never
// overlaps another against the same state file.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessionsync/internal/logging"
	"github.com/fyrsmithlabs/sessionsync/internal/syncer"
)

// Trigger reasons recorded on each run.
const (
	TriggerStartup  = "startup"
	TriggerChange   = "change"
	TriggerInterval = "interval"
	TriggerManual   = "manual"
)

// Runner performs one sync.
type Runner interface {
	Run(ctx context.Context, opts syncer.RunOptions) (*syncer.Result, error)
}

// Config configures a Watcher.
type Config struct {
	AgentsDir string
	// Debounce is how long transcripts must be quiet before a run.
	Debounce time.Duration
	// Interval between periodic runs; zero disables them.
	Interval time.Duration
	DryRun   bool
}

// RunStatus describes one finished run.
type RunStatus struct {
	RunID      string    `json:"run_id,omitempty"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`
	Posted     int       `json:"posted"`
	Skipped    int       `json:"skipped"`
	Tasks      int       `json:"tasks"`
	Sessions   int       `json:"sessions"`
	Summary    string    `json:"summary,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Status is a snapshot of the watcher.
type Status struct {
	Running     bool       `json:"running"`
	Runs        int        `json:"runs"`
	Failures    int        `json:"failures"`
	LastRun     *RunStatus `json:"last_run,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

// Watcher drives runs from filesystem events and a ticker.
type Watcher struct {
	cfg    Config
	runner Runner
	logger *logging.Logger

	manual chan struct{}

	mu     sync.RWMutex
	status Status
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a Watcher.
func New(cfg Config, runner Runner, opts ...Option) (*Watcher, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.AgentsDir == "" {
		return nil, errors.New("agents directory is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 5 * time.Second
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("interval must not be negative, got %s", cfg.Interval)
	}

	w := &Watcher{
		cfg:    cfg,
		runner: runner,
		logger: logging.NewNop(),
		manual: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Status returns a snapshot of the watcher's state.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.status
	if s.LastRun != nil {
		lr := *s.LastRun
		s.LastRun = &lr
	}
	return s
}

// Trigger requests a run as soon as the current one, if any, finishes.
// Requests made while one is already pending are merged.
func (w *Watcher) Trigger() {
	select {
	case w.manual <- struct{}{}:
	default:
	}
}

// Run watches until ctx is cancelled. It syncs once at startup.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	w.watchTree(ctx, fw)

	var tick <-chan time.Time
	if w.cfg.Interval > 0 {
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	debounce := time.NewTimer(w.cfg.Debounce)
	debounce.Stop()
	defer debounce.Stop()

	w.logger.Info(ctx, "watching sessions",
		zap.String("agents_dir", w.cfg.AgentsDir),
		zap.Duration("debounce", w.cfg.Debounce),
		zap.Duration("interval", w.cfg.Interval),
	)
	w.runOnce(ctx, TriggerStartup)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "watch stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			if w.handleEvent(ctx, fw, event) {
				debounce.Reset(w.cfg.Debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			w.logger.Warn(ctx, "file watcher error", zap.Error(err))

		case <-debounce.C:
			w.runOnce(ctx, TriggerChange)

		case <-tick:
			w.runOnce(ctx, TriggerInterval)

		case <-w.manual:
			w.runOnce(ctx, TriggerManual)
		}
	}
}

// watchTree adds the agents directory and every agent's sessions directory.
func (w *Watcher) watchTree(ctx context.Context, fw *fsnotify.Watcher) {
	if err := fw.Add(w.cfg.AgentsDir); err != nil {
		w.logger.Warn(ctx, "cannot watch agents directory, relying on interval runs",
			zap.String("path", w.cfg.AgentsDir), zap.Error(err))
		return
	}
	agents, err := os.ReadDir(w.cfg.AgentsDir)
	if err != nil {
		w.logger.Warn(ctx, "cannot list agents", zap.Error(err))
		return
	}
	for _, a := range agents {
		if strings.HasPrefix(a.Name(), ".") {
			continue
		}
		w.watchAgent(ctx, fw, a.Name())
	}
}

func (w *Watcher) watchAgent(ctx context.Context, fw *fsnotify.Watcher, agent string) {
	agentDir := filepath.Join(w.cfg.AgentsDir, agent)
	info, err := os.Stat(agentDir)
	if err != nil || !info.IsDir() {
		return
	}
	// The agent directory itself is watched so a later sessions/ is noticed.
	if err := fw.Add(agentDir); err != nil {
		w.logger.Warn(ctx, "cannot watch agent directory", zap.String("path", agentDir), zap.Error(err))
		return
	}
	dir := syncer.SessionsDir(w.cfg.AgentsDir, agent)
	if err := fw.Add(dir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn(ctx, "cannot watch sessions directory", zap.String("path", dir), zap.Error(err))
		}
		return
	}
	w.logger.Debug(ctx, "watching sessions directory", zap.String("path", dir))
}

// handleEvent reacts to one event and reports whether it should schedule a
// run.
func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}

	rel, err := filepath.Rel(w.cfg.AgentsDir, event.Name)
	if err != nil {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")

	switch len(parts) {
	case 1:
		// New agent.
		if event.Has(fsnotify.Create) && !strings.HasPrefix(parts[0], ".") {
			w.watchAgent(ctx, fw, parts[0])
		}
		return false
	case 2:
		// New sessions directory under a known agent.
		if event.Has(fsnotify.Create) && parts[1] == "sessions" {
			dir := syncer.SessionsDir(w.cfg.AgentsDir, parts[0])
			if err := fw.Add(dir); err == nil {
				w.logger.Debug(ctx, "watching sessions directory", zap.String("path", dir))
			}
		}
		return false
	case 3:
		name := parts[2]
		return parts[1] == "sessions" && strings.HasSuffix(name, ".jsonl") && !strings.Contains(name, ".deleted.")
	}
	return false
}

func (w *Watcher) runOnce(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	w.status.Running = true
	w.mu.Unlock()

	rs := &RunStatus{Trigger: trigger, StartedAt: time.Now(), DryRun: w.cfg.DryRun}
	res, err := w.runner.Run(ctx, syncer.RunOptions{DryRun: w.cfg.DryRun})
	rs.FinishedAt = time.Now()
	if res != nil {
		rs.RunID = res.RunID
		rs.Posted = res.Posted
		rs.Skipped = res.Skipped
		rs.Tasks = res.Tasks
		rs.Sessions = res.Sessions
		if err == nil {
			rs.Summary = res.String()
		}
	}

	w.mu.Lock()
	w.status.Running = false
	w.status.Runs++
	w.status.LastRun = rs
	if err != nil {
		rs.Error = err.Error()
		w.status.Failures++
	} else {
		finished := rs.FinishedAt
		w.status.LastSuccess = &finished
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error(ctx, "watch run failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	w.logger.Info(ctx, res.String(), zap.String("trigger", trigger))
}
