package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/sessionsync/internal/syncer"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	active  int
	overlap bool
	err     error
	opts    []syncer.RunOptions
}

func (f *fakeRunner) Run(_ context.Context, opts syncer.RunOptions) (*syncer.Result, error) {
	f.mu.Lock()
	f.calls++
	f.active++
	if f.active > 1 {
		f.overlap = true
	}
	f.opts = append(f.opts, opts)
	err := f.err
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return &syncer.Result{RunID: "r", DryRun: opts.DryRun, Posted: 1}, err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func startWatcher(t *testing.T, cfg Config, r Runner) (*Watcher, context.CancelFunc, chan error) {
	t.Helper()
	w, err := New(cfg, r)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, cancel, done
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{AgentsDir: "x"}, nil)
	assert.Error(t, err)
	_, err = New(Config{}, &fakeRunner{})
	assert.Error(t, err)
	_, err = New(Config{AgentsDir: "x", Interval: -time.Second}, &fakeRunner{})
	assert.Error(t, err)

	w, err := New(Config{AgentsDir: "x"}, &fakeRunner{})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, w.cfg.Debounce)
}

func TestWatcher_RunsAtStartup(t *testing.T) {
	r := &fakeRunner{}
	w, _, _ := startWatcher(t, Config{AgentsDir: t.TempDir(), Debounce: time.Hour, DryRun: true}, r)

	require.Eventually(t, func() bool { return w.Status().Runs == 1 }, 2*time.Second, 10*time.Millisecond)
	st := w.Status()
	require.NotNil(t, st.LastRun)
	assert.Equal(t, TriggerStartup, st.LastRun.Trigger)
	assert.True(t, st.LastRun.DryRun)
	assert.Equal(t, 1, st.LastRun.Posted)
	assert.NotNil(t, st.LastSuccess)
	assert.True(t, r.opts[0].DryRun)
}

func TestWatcher_DebouncesTranscriptWrites(t *testing.T) {
	root := t.TempDir()
	sessions := filepath.Join(root, "main", "sessions")
	require.NoError(t, os.MkdirAll(sessions, 0o755))

	r := &fakeRunner{}
	w, _, _ := startWatcher(t, Config{AgentsDir: root, Debounce: 100 * time.Millisecond}, r)
	require.Eventually(t, func() bool { return w.Status().Runs == 1 }, 2*time.Second, 10*time.Millisecond)

	path := filepath.Join(sessions, "s1.jsonl")
	for i := 0; i < 5; i++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString("{}\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	require.Eventually(t, func() bool { return w.Status().Runs == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, TriggerChange, w.Status().LastRun.Trigger)

	// Writes are collapsed into a single run.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 2, r.count())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	sessions := filepath.Join(root, "main", "sessions")
	require.NoError(t, os.MkdirAll(sessions, 0o755))

	r := &fakeRunner{}
	w, _, _ := startWatcher(t, Config{AgentsDir: root, Debounce: 20 * time.Millisecond}, r)
	require.Eventually(t, func() bool { return w.Status().Runs == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sessions, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sessions, "s.deleted.1.jsonl"), []byte("x"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, r.count())
}

func TestWatcher_PicksUpNewAgents(t *testing.T) {
	root := t.TempDir()
	r := &fakeRunner{}
	w, _, _ := startWatcher(t, Config{AgentsDir: root, Debounce: 50 * time.Millisecond}, r)
	require.Eventually(t, func() bool { return w.Status().Runs == 1 }, 2*time.Second, 10*time.Millisecond)

	sessions := filepath.Join(root, "coder", "sessions")
	require.NoError(t, os.Mkdir(filepath.Join(root, "coder"), 0o755))
	// Give the watcher time to add the new agent directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.Mkdir(sessions, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sessions, "s.jsonl"), []byte("{}\n"), 0o644))

	require.Eventually(t, func() bool { return w.Status().Runs >= 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestWatcher_IntervalRuns(t *testing.T) {
	r := &fakeRunner{}
	w, _, _ := startWatcher(t, Config{AgentsDir: t.TempDir(), Debounce: time.Hour, Interval: 30 * time.Millisecond}, r)

	require.Eventually(t, func() bool { return w.Status().Runs >= 3 }, 3*time.Second, 10*time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.False(t, r.overlap)
}

func TestWatcher_ManualTriggerAndFailures(t *testing.T) {
	r := &fakeRunner{err: errors.New("fetch tasks: boom")}
	w, _, _ := startWatcher(t, Config{AgentsDir: t.TempDir(), Debounce: time.Hour}, r)
	require.Eventually(t, func() bool { return w.Status().Runs == 1 }, 2*time.Second, 10*time.Millisecond)

	w.Trigger()
	require.Eventually(t, func() bool { return w.Status().Runs == 2 }, 2*time.Second, 10*time.Millisecond)

	st := w.Status()
	assert.Equal(t, 2, st.Failures)
	assert.Nil(t, st.LastSuccess)
	assert.Equal(t, TriggerManual, st.LastRun.Trigger)
	assert.Equal(t, "fetch tasks: boom", st.LastRun.Error)
	assert.Empty(t, st.LastRun.Summary)
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	r := &fakeRunner{}
	w, err := New(Config{AgentsDir: filepath.Join(t.TempDir(), "missing")}, r)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return w.Status().Runs == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
