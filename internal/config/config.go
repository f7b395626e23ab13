// Package config provides configuration loading for sessionsync.
//
// Values are layered: built-in defaults, an optional YAML file, then
// SESSIONSYNC_* environment variables. Command-line flags are applied by the
// caller on top of the loaded Config.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the complete sessionsync configuration.
type Config struct {
	Tracker   TrackerConfig   `koanf:"tracker"`
	Sessions  SessionsConfig  `koanf:"sessions"`
	State     StateConfig     `koanf:"state"`
	Redaction RedactionConfig `koanf:"redaction"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Watch     WatchConfig     `koanf:"watch"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// TrackerConfig describes the task-tracking API.
type TrackerConfig struct {
	BaseURL     string        `koanf:"base_url"`
	User        string        `koanf:"user"`
	Timeout     time.Duration `koanf:"timeout"`
	RateLimit   float64       `koanf:"rate_limit"` // requests per second, 0 disables
	Burst       int           `koanf:"burst"`
	MaxRetries  int           `koanf:"max_retries"`
	DoingColumn string        `koanf:"doing_column"`
}

// SessionsConfig locates agent transcripts.
type SessionsConfig struct {
	AgentsDir string `koanf:"agents_dir"`
}

// StateConfig locates the sync state file.
type StateConfig struct {
	Path string `koanf:"path"`
}

// RedactionConfig controls secret scrubbing of activity details.
type RedactionConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// MetricsConfig controls Prometheus export.
type MetricsConfig struct {
	PushURL string `koanf:"push_url"`
	Job     string `koanf:"job"`
}

// WatchConfig controls the long-running watch mode.
type WatchConfig struct {
	Debounce time.Duration `koanf:"debounce"`
	Interval time.Duration `koanf:"interval"`
	Listen   string        `koanf:"listen"`
}

// LogConfig selects log level and encoding.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Protocol     string  `koanf:"protocol"`
	Insecure     bool    `koanf:"insecure"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Tracker.BaseURL == "" {
		errs = append(errs, errors.New("tracker.base_url is required"))
	} else if u, err := url.Parse(c.Tracker.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("tracker.base_url must be an http(s) URL, got %q", c.Tracker.BaseURL))
	}
	if c.Tracker.User == "" {
		errs = append(errs, errors.New("tracker.user is required"))
	}
	if c.Tracker.DoingColumn == "" {
		errs = append(errs, errors.New("tracker.doing_column is required"))
	}
	if c.Tracker.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("tracker.rate_limit must be >= 0, got %v", c.Tracker.RateLimit))
	}
	if c.Tracker.RateLimit > 0 && c.Tracker.Burst < 1 {
		errs = append(errs, fmt.Errorf("tracker.burst must be >= 1 when rate limiting, got %d", c.Tracker.Burst))
	}
	if c.Tracker.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("tracker.max_retries must be >= 0, got %d", c.Tracker.MaxRetries))
	}
	if c.Sessions.AgentsDir == "" {
		errs = append(errs, errors.New("sessions.agents_dir is required"))
	}
	if c.State.Path == "" {
		errs = append(errs, errors.New("state.path is required"))
	}
	if c.Watch.Debounce < 0 || c.Watch.Interval < 0 {
		errs = append(errs, errors.New("watch durations must be >= 0"))
	}
	if !validLogLevels[c.Log.Level] {
		errs = append(errs, fmt.Errorf("log.level %q is not one of trace, debug, info, warn, error", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format must be 'json' or 'console', got %q", c.Log.Format))
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			errs = append(errs, fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol))
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sampling_rate must be in [0,1], got %v", c.Telemetry.SamplingRate))
		}
	}

	return errors.Join(errs...)
}
