package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	sshttp "github.com/fyrsmithlabs/sessionsync/internal/http"
	"github.com/fyrsmithlabs/sessionsync/internal/watch"
)

func newWatchCmd(global *globalFlags) *cobra.Command {
	var (
		listen string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync continuously as session transcripts change",
		Long: `Watch every agent's sessions directory and sync after transcripts change,
plus once per interval. Runs never overlap.

With --listen, serves /health, /status, /metrics and POST /sync.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, global, listen, dryRun)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address for the status server (default from watch.listen)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count instead of posting")
	return cmd
}

func runWatch(cmd *cobra.Command, global *globalFlags, listen string, dryRun bool) error {
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

	w, err := watch.New(watch.Config{
		AgentsDir: a.cfg.Sessions.AgentsDir,
		Debounce:  a.cfg.Watch.Debounce,
		Interval:  a.cfg.Watch.Interval,
		DryRun:    dryRun,
	}, s, watch.WithLogger(a.logger.Named("watch")))
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	if listen == "" {
		listen = a.cfg.Watch.Listen
	}
	if listen != "" {
		srv, err := sshttp.NewServer(w, metrics.Registry(), a.logger.Named("http"), &sshttp.Config{Addr: listen})
		if err != nil {
			return fmt.Errorf("creating http server: %w", err)
		}
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error(ctx, "http server failed", zap.Error(err))
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn(shutdownCtx, "http server shutdown failed", zap.Error(err))
			}
		}()
	}

	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}
