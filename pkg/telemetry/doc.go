// Package telemetry provides observability instrumentation for puppet runs.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), and Prometheus metrics into a single handle that flows
// through the context.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Component loggers carry run and task fields:
//
//	logger := tel.Logger.NewComponentLogger("scheduler")
//	logger = logger.WithRunID(runID).WithTask(identityKey)
//	logger.Info("task started")
//
// Cloud service calls are instrumented with RecordCloudOperation, which
// times the call, records call and error counters, and attaches a span:
//
//	err := telemetry.RecordCloudOperation(ctx, "catalog", "provision", func(ctx context.Context) error {
//	    return catalog.Provision(ctx, input)
//	})
//
// Key metrics exposed:
//
//   - puppet_runs_started_total{mode}
//   - puppet_runs_completed_total{status}
//   - puppet_tasks_executed_total{kind,status}
//   - puppet_task_duration_seconds{kind}
//   - puppet_task_cache_hits_total{kind}
//   - puppet_cloud_calls_total{service,operation}
//   - puppet_errors_by_class_total{class}
//
// Metrics are exposed via HTTP at /metrics when enabled.
package telemetry
