// Package observability wires OpenTelemetry into mmalkit.
//
// PipelineMetrics carries the buffer circulation counters (buffers sent and
// released, completions, starvation, recovered callback failures) and the
// capture duration histogram. Until InitMeter installs a provider the
// instruments record into the global no-op provider.
//
//	mp, err := observability.InitMeter(ctx, &cfg.Metrics)
//	defer mp.Shutdown(ctx)
//	metrics := observability.DefaultPipelineMetrics()
//
// Captures are traced with StartSpan and EndSpan.
package observability
