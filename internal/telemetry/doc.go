// Package telemetry provides OpenTelemetry instrumentation for sessionsync.
//
// Spans cover a sync run, each task and each tracker request. Tracker
// request counts and latencies are recorded as OTEL metrics; batch counters
// for the run itself live in Prometheus (see the syncer package).
//
// Telemetry is off by default. When enabled it exports over OTLP (gRPC or
// HTTP/protobuf). Exporter failures degrade to no-op providers instead of
// failing the run.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx, span := tel.Tracer("sessionsync/syncer").Start(ctx, "sync.run")
//	defer span.End()
package telemetry
