// Package telemetry bundles the observability stack of the orchestrator.
//
// It provides four components built from a single Config:
//
//   - Logger: structured logging on zerolog with component and job fields.
//   - Tracer: OpenTelemetry tracing with stdout or OTLP gRPC exporters.
//   - Metrics: Prometheus collectors on a private registry covering job
//     submissions, status transitions, remote engine calls, queue depth and
//     reconciliation outcomes.
//   - EventPublisher: an in-process publisher for job lifecycle events with
//     filtered subscribers.
//
// Basic usage:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(ctx)
//
//	op := tel.StartJobOperation(ctx, "submit", "acme-co-prod")
//	defer op.End(err)
//
// Metrics are exposed through Metrics.Handler, which the API router mounts
// at /metrics. A dedicated listener can be started with
// Metrics.StartMetricsServer when Metrics.ListenAddress is set.
package telemetry
