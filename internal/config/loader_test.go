package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadWithFile(filepath.Join(home, "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", cfg.Tracker.BaseURL)
	assert.Equal(t, "Ada", cfg.Tracker.User)
	assert.Equal(t, "doing", cfg.Tracker.DoingColumn)
	assert.Equal(t, 30*time.Second, cfg.Tracker.Timeout)
	assert.Equal(t, 3, cfg.Tracker.MaxRetries)
	assert.Equal(t, filepath.Join(home, ".clawdbot", "agents"), cfg.Sessions.AgentsDir)
	assert.Equal(t, filepath.Join(home, ".local", "state", "sessionsync", "state.json"), cfg.State.Path)
	assert.True(t, cfg.Redaction.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Watch.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	path := writeConfig(t, `
tracker:
  base_url: https://tracker.example.com
  user: Grace
  doing_column: In Progress
sessions:
  agents_dir: /var/agents
redaction:
  enabled: false
watch:
  debounce: 2s
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://tracker.example.com", cfg.Tracker.BaseURL)
	assert.Equal(t, "Grace", cfg.Tracker.User)
	assert.Equal(t, "In Progress", cfg.Tracker.DoingColumn)
	assert.Equal(t, "/var/agents", cfg.Sessions.AgentsDir)
	assert.False(t, cfg.Redaction.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
	// untouched keys keep defaults
	assert.Equal(t, 3, cfg.Tracker.MaxRetries)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "tracker:\n  user: Grace\n", 0600)
	t.Setenv("SESSIONSYNC_TRACKER_USER", "Linus")
	t.Setenv("SESSIONSYNC_TRACKER_BASE_URL", "http://10.0.0.5:3000")
	t.Setenv("SESSIONSYNC_STATE_PATH", "/tmp/state.json")
	t.Setenv("SESSIONSYNC_TRACKER_RATE_LIMIT", "2.5")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "Linus", cfg.Tracker.User)
	assert.Equal(t, "http://10.0.0.5:3000", cfg.Tracker.BaseURL)
	assert.Equal(t, "/tmp/state.json", cfg.State.Path)
	assert.InDelta(t, 2.5, cfg.Tracker.RateLimit, 1e-9)
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "tracker: [unclosed", 0600)
	_, err := LoadWithFile(path)
	assert.Error(t, err)
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not enforced on windows")
	}
	path := writeConfig(t, "tracker:\n  user: Grace\n", 0666)
	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_TooLarge(t *testing.T) {
	big := make([]byte, maxConfigFileSize+10)
	for i := range big {
		big[i] = '#'
	}
	path := writeConfig(t, string(big), 0600)
	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"SESSIONSYNC_TRACKER_BASE_URL":        "tracker.base_url",
		"SESSIONSYNC_SESSIONS_AGENTS_DIR":     "sessions.agents_dir",
		"SESSIONSYNC_LOG_LEVEL":               "log.level",
		"SESSIONSYNC_TELEMETRY_SAMPLING_RATE": "telemetry.sampling_rate",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandHome("~/a/b")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "a", "b"), got)

	got, err = ExpandHome("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)

	got, err = ExpandHome("~user/x")
	require.NoError(t, err)
	assert.Equal(t, "~user/x", got)
}
