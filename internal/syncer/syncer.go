// Package syncer forwards tool calls from agent session transcripts to the
// tasks they mention.
//
// A run fetches the tasks in the doing column, parses every transcript
// touched today, and for each task posts one activity entry per tool call
// in the sessions whose text refers to it. Delivered calls are recorded in
// the sync state, which is saved once after all deliveries succeed; a crash
// between a delivery and that save repeats the delivery on the next run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessionsync/internal/logging"
	"github.com/fyrsmithlabs/sessionsync/internal/matcher"
	"github.com/fyrsmithlabs/sessionsync/internal/syncstate"
	"github.com/fyrsmithlabs/sessionsync/internal/tracker"
	"github.com/fyrsmithlabs/sessionsync/internal/transcript"
)

const instrumentationName = "github.com/fyrsmithlabs/sessionsync/internal/syncer"

// DefaultDoingColumn is the tracker column whose tasks receive activity.
const DefaultDoingColumn = "doing"

// Tracker is the task source and activity sink.
type Tracker interface {
	ListTasks(ctx context.Context) ([]tracker.Task, error)
	PostActivity(ctx context.Context, taskID tracker.TaskID, a tracker.Activity) error
}

// Config configures a Syncer.
type Config struct {
	AgentsDir   string
	StatePath   string
	User        string
	DoingColumn string
}

// RunOptions vary per run.
type RunOptions struct {
	// DryRun counts what would be delivered without posting or saving.
	DryRun bool
	// Now selects the day to sync. Zero means the current time.
	Now time.Time
}

// Syncer runs syncs. Runs must not overlap against the same state file.
type Syncer struct {
	cfg      Config
	tracker  Tracker
	redactor Redactor
	metrics  *Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
	clock    func() time.Time
}

// Option customizes a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// WithTracer sets the tracer for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Syncer) { s.tracer = t }
}

// WithRedactor masks secrets in summaries before delivery.
func WithRedactor(r Redactor) Option {
	return func(s *Syncer) { s.redactor = r }
}

// WithMetrics records run metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

// WithClock replaces time.Now for runs without RunOptions.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.clock = now }
}

// New creates a Syncer.
func New(cfg Config, tr Tracker, opts ...Option) (*Syncer, error) {
	if tr == nil {
		return nil, errors.New("tracker is required")
	}
	if cfg.AgentsDir == "" {
		return nil, errors.New("agents directory is required")
	}
	if cfg.StatePath == "" {
		return nil, errors.New("state path is required")
	}
	if cfg.User == "" {
		return nil, errors.New("user is required")
	}
	if cfg.DoingColumn == "" {
		cfg.DoingColumn = DefaultDoingColumn
	}

	s := &Syncer{
		cfg:     cfg,
		tracker: tr,
		logger:  logging.NewNop(),
		tracer:  otel.Tracer(instrumentationName),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Result reports the outcome of a run.
type Result struct {
	RunID    string
	DryRun   bool
	Window   transcript.Window
	Posted   int
	Skipped  int
	Tasks    int
	Sessions int
	// Ambiguous counts tool results attached by order while more than one
	// call was open, across retained sessions.
	Ambiguous int
	Redacted  int
	PerTask   []TaskResult
	Duration  time.Duration
}

// TaskResult is the per-task share of a run.
type TaskResult struct {
	ID       tracker.TaskID
	Name     string
	Sessions int
	Posted   int
	Skipped  int
}

// String is the one-line summary printed after a run.
func (r *Result) String() string {
	mode := "SYNCED"
	if r.DryRun {
		mode = "DRY RUN"
	}
	return fmt.Sprintf("%s: %d tool calls (%d skipped) across %d tasks / %d sessions.",
		mode, r.Posted, r.Skipped, r.Tasks, r.Sessions)
}

type session struct {
	file SessionFile
	ext  *transcript.Extraction
}

// Run performs one sync. On failure the returned *StepError names the step
// and the partial Result holds the counts reached so far; nothing from the
// failed run is saved.
func (s *Syncer) Run(ctx context.Context, opts RunOptions) (res *Result, err error) {
	started := time.Now()
	now := opts.Now
	if now.IsZero() {
		now = s.clock()
	}

	res = &Result{
		RunID:  uuid.NewString(),
		DryRun: opts.DryRun,
		Window: transcript.DayWindow(now),
	}

	ctx = logging.WithRunID(ctx, res.RunID)
	ctx, span := s.tracer.Start(ctx, "sync.run", trace.WithAttributes(
		attribute.String("run.id", res.RunID),
		attribute.Bool("sync.dry_run", opts.DryRun),
		attribute.String("sync.window.start", res.Window.Start.Format(time.RFC3339)),
	))
	defer func() {
		res.Duration = time.Since(started)
		s.metrics.observe(res, err, res.Duration)
		span.SetAttributes(
			attribute.Int("sync.posted", res.Posted),
			attribute.Int("sync.skipped", res.Skipped),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error(ctx, "sync run failed", zap.Error(err),
				zap.Int("posted", res.Posted), zap.Int("skipped", res.Skipped))
		}
		span.End()
	}()

	s.logger.Info(ctx, "sync run started",
		zap.Bool("dry_run", opts.DryRun),
		zap.Time("window_start", res.Window.Start),
		zap.Time("window_end", res.Window.End),
	)

	tasks, err := s.doingTasks(ctx)
	if err != nil {
		return res, stepError(ErrFetchTasks, err)
	}
	res.Tasks = len(tasks)

	sessions, err := s.loadSessions(ctx, res)
	if err != nil {
		return res, err
	}
	res.Sessions = len(sessions)

	state := s.loadState(ctx)
	// A dry run marks a scratch copy so repeated keys count as in a real run.
	working := state
	if opts.DryRun {
		working = state.Clone()
	}

	for _, task := range tasks {
		tr, err := s.syncTask(ctx, task, sessions, working, opts.DryRun, res)
		res.PerTask = append(res.PerTask, tr)
		if err != nil {
			return res, err
		}
	}

	if !opts.DryRun {
		if err := syncstate.Save(s.cfg.StatePath, working); err != nil {
			return res, stepError(ErrSaveState, err)
		}
	}

	s.logger.Info(ctx, "sync run complete",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("posted", res.Posted),
		zap.Int("skipped", res.Skipped),
		zap.Int("tasks", res.Tasks),
		zap.Int("sessions", res.Sessions),
		zap.Int("ambiguous", res.Ambiguous),
		zap.Duration("duration", time.Since(started)),
	)
	return res, nil
}

func (s *Syncer) doingTasks(ctx context.Context) ([]tracker.Task, error) {
	all, err := s.tracker.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	var doing []tracker.Task
	for _, t := range all {
		if !t.InColumn(s.cfg.DoingColumn) {
			continue
		}
		if t.ID == "" {
			s.logger.Warn(ctx, "skipping task without id", zap.String("task_name", t.Name))
			continue
		}
		doing = append(doing, t)
	}
	s.logger.Debug(ctx, "fetched tasks", zap.Int("total", len(all)), zap.Int("doing", len(doing)))
	return doing, nil
}

func (s *Syncer) loadSessions(ctx context.Context, res *Result) ([]session, error) {
	files, err := ListSessionFiles(s.cfg.AgentsDir, res.Window.Start)
	if err != nil {
		return nil, stepError(ErrListSessions, err)
	}

	parser := transcript.NewParser(res.Window)
	var sessions []session
	for _, f := range files {
		ext, err := parser.ParseFile(f.Path)
		if err != nil {
			return nil, stepError(ErrReadSession, err)
		}

		sctx := logging.WithSession(ctx, f.Agent, f.ID)
		st := ext.Stats
		s.logger.Debug(sctx, "parsed session",
			zap.Int("lines", st.Lines),
			zap.Int("unparseable", st.Unparseable),
			zap.Int("untimed", st.Untimed),
			zap.Int("out_of_window", st.OutOfWindow),
			zap.Int("tool_calls", len(ext.ToolCalls)),
			zap.Int("dropped_results", st.DroppedResults),
		)
		if ext.Empty() {
			continue
		}
		if n := ext.AmbiguousCalls(); n > 0 {
			res.Ambiguous += n
			s.logger.Warn(sctx, "tool results attached by order with several calls open",
				zap.Int("ambiguous", n))
		}
		sessions = append(sessions, session{file: f, ext: ext})
	}
	return sessions, nil
}

func (s *Syncer) loadState(ctx context.Context) *syncstate.State {
	state, err := syncstate.Load(s.cfg.StatePath)
	if err != nil {
		s.logger.Warn(ctx, "ignoring unusable sync state", zap.String("path", s.cfg.StatePath), zap.Error(err))
	}
	return state
}

func (s *Syncer) syncTask(ctx context.Context, task tracker.Task, sessions []session, state *syncstate.State, dryRun bool, res *Result) (tr TaskResult, err error) {
	taskID := string(task.ID)
	tr = TaskResult{ID: task.ID, Name: task.Name}

	ctx = logging.WithTaskID(ctx, taskID)
	ctx, span := s.tracer.Start(ctx, "sync.task", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer func() {
		span.SetAttributes(attribute.Int("sync.posted", tr.Posted), attribute.Int("sync.skipped", tr.Skipped))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	m := matcher.New(taskID, task.Name)
	for _, sess := range sessions {
		if !m.Match(sess.ext.Text) {
			continue
		}
		tr.Sessions++
		sctx := logging.WithSession(ctx, sess.file.Agent, sess.file.ID)

		for _, call := range sess.ext.ToolCalls {
			key := syncstate.CallKey(sess.file.ID, call.ID, call.Index)
			if state.IsSynced(taskID, key) {
				tr.Skipped++
				res.Skipped++
				continue
			}

			details, redacted := Summarize(call, s.redactor)
			res.Redacted += redacted
			if !dryRun {
				activity := tracker.ToolCallActivity(s.cfg.User, details, sess.file.ID)
				if err := s.tracker.PostActivity(sctx, task.ID, activity); err != nil {
					return tr, stepError(ErrDeliver, fmt.Errorf("call %s: %w", key, err))
				}
			}
			state.MarkSynced(taskID, key)
			tr.Posted++
			res.Posted++

			s.logger.Debug(sctx, "delivered tool call",
				zap.String("call_key", key),
				zap.String("tool", call.Tool),
				logging.RedactedString("details", details),
				zap.Bool("dry_run", dryRun),
			)
		}
	}
	return tr, nil
}
