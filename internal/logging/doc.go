// Package logging provides structured logging for sessionsync.
//
// # Overview
//
// Logger wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Stderr output, optionally teed into an OpenTelemetry log provider
//   - Context field injection (trace_id, run.id, task.id, session.id, agent)
//   - Encoder-level secret redaction
//   - Level-aware sampling (errors never sampled)
//
// Stdout is reserved for the run summary, so the default sink is stderr.
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithSession(ctx, "main", "sess-1")
//	logger.Debug(ctx, "session parsed", zap.Int("tool_calls", n))
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "run finished", zap.Int("posted", 3))
//	tl.AssertLogged(t, zapcore.InfoLevel, "run finished")
//	tl.AssertField(t, "run finished", "posted", int64(3))
package logging
