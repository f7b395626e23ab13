package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessionsync/internal/syncer"
)

func newRunCmd(global *globalFlags) *cobra.Command {
	var run runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync today's session tool calls once",
		Long: `Sync today's session tool calls once and print a one-line summary.

Examples:
  # Post new tool calls
  sessionsync run

  # Count what would be posted for a given day
  sessionsync run --dry-run --now 2026-03-14T12:00:00+01:00`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, global, &run)
		},
	}
	addRunFlags(cmd, &run)
	return cmd
}

func parseNow(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --now %q: expected RFC3339", s)
	}
	// The synced day is the local calendar day containing t.
	return t.In(time.Local), nil
}

func runSync(cmd *cobra.Command, global *globalFlags, run *runFlags) error {
	now, err := parseNow(run.now)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd, global)
	if err != nil {
		return err
	}
	defer a.close()

	s, metrics, err := a.newSyncer()
	if err != nil {
		return err
	}

	res, runErr := s.Run(ctx, syncer.RunOptions{DryRun: run.dryRun, Now: now})

	if url := a.cfg.Metrics.PushURL; url != "" && !run.dryRun {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := metrics.Push(pushCtx, url, a.cfg.Metrics.Job); err != nil {
			a.logger.Warn(ctx, "metrics push failed", zap.Error(err))
		}
		cancel()
	}

	if runErr != nil {
		return runErr
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.String())
	return nil
}
