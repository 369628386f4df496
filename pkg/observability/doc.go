// Package observability wires OpenTelemetry tracing and RED metrics
// around job processing. It is ambient: a disabled or unreachable OTLP
// collector never changes a job's outcome, only what can be seen of it.
//
// Initialize a provider at application startup:
//
//	cfg := observability.DefaultConfig()
//	cfg.Enabled = true
//	cfg.OTLPEndpoint = "otel-collector:4317"
//	p, err := observability.New(ctx, cfg)
//	defer p.Shutdown(ctx)
//
// Wrap a job stage transition:
//
//	ctx, finish := p.TrackStage(ctx, "parsing", job.ID)
//	err := doParse(ctx)
//	finish(err)
//
// finish records the stage's duration, increments the stage and (on
// error) error counters, and ends the span — exactly once per call.
package observability
