package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessionsync/internal/config"
	"github.com/fyrsmithlabs/sessionsync/internal/logging"
	"github.com/fyrsmithlabs/sessionsync/internal/secrets"
	"github.com/fyrsmithlabs/sessionsync/internal/syncer"
	"github.com/fyrsmithlabs/sessionsync/internal/telemetry"
	"github.com/fyrsmithlabs/sessionsync/internal/tracker"
)

const instrumentationName = "github.com/fyrsmithlabs/sessionsync/cmd/sessionsync"

// app holds the dependencies shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
}

// newApp loads configuration, applies flag overrides and starts logging and
// telemetry.
func newApp(ctx context.Context, cmd *cobra.Command, flags *globalFlags) (*app, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger, err := initLogger(cfg, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, telemetry: tel}, nil
}

func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	cfg, err := config.LoadWithFile(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	changed := cmd.Flags().Changed
	if changed("api") {
		cfg.Tracker.BaseURL = flags.apiBase
	}
	if changed("user") {
		cfg.Tracker.User = flags.user
	}
	if changed("agents-dir") {
		if cfg.Sessions.AgentsDir, err = config.ExpandHome(flags.agentsDir); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	if changed("state") {
		if cfg.State.Path, err = config.ExpandHome(flags.statePath); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	if changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.Endpoint != "" {
		tc.Endpoint = cfg.Telemetry.Endpoint
	}
	if cfg.Telemetry.Protocol != "" {
		tc.Protocol = cfg.Telemetry.Protocol
	}
	tc.Insecure = cfg.Telemetry.Insecure
	tc.SamplingRate = cfg.Telemetry.SamplingRate
	tc.ServiceVersion = version

	tel, err := telemetry.New(ctx, tc)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	return tel, nil
}

func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	lc.Level = level
	lc.Format = cfg.Log.Format
	lc.Fields["version"] = version

	var provider log.LoggerProvider
	if cfg.Telemetry.Enabled {
		lc.Output.OTEL = true
		provider = tel.LoggerProvider()
	}

	logger, err := logging.NewLogger(lc, provider)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return logger, nil
}

// newSyncer wires the tracker client, redactor and metrics into a Syncer.
func (a *app) newSyncer() (*syncer.Syncer, *syncer.Metrics, error) {
	client, err := tracker.New(tracker.Config{
		BaseURL:   a.cfg.Tracker.BaseURL,
		Timeout:   a.cfg.Tracker.Timeout,
		RateLimit: a.cfg.Tracker.RateLimit,
		Burst:     a.cfg.Tracker.Burst,
		Retry:     &tracker.RetryConfig{MaxRetries: a.cfg.Tracker.MaxRetries},
	},
		tracker.WithLogger(a.logger.Named("tracker")),
		tracker.WithTracer(a.telemetry.Tracer(instrumentationName)),
		tracker.WithMeter(a.telemetry.Meter(instrumentationName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating tracker client: %w", err)
	}

	metrics := syncer.NewMetrics()
	opts := []syncer.Option{
		syncer.WithLogger(a.logger.Named("syncer")),
		syncer.WithTracer(a.telemetry.Tracer(instrumentationName)),
		syncer.WithMetrics(metrics),
	}

	if a.cfg.Redaction.Enabled {
		allowlist, err := secrets.LoadAllowlist(a.cfg.Redaction.AllowlistPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading redaction allowlist: %w", err)
		}
		redactor, err := secrets.New(allowlist)
		if err != nil {
			return nil, nil, fmt.Errorf("creating redactor: %w", err)
		}
		opts = append(opts, syncer.WithRedactor(redactor))
	}

	s, err := syncer.New(syncer.Config{
		AgentsDir:   a.cfg.Sessions.AgentsDir,
		StatePath:   a.cfg.State.Path,
		User:        a.cfg.Tracker.User,
		DoingColumn: a.cfg.Tracker.DoingColumn,
	}, client, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating syncer: %w", err)
	}
	return s, metrics, nil
}

// close flushes telemetry and logs.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
