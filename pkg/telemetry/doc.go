// Package telemetry provides observability instrumentation for batch planning
// and execution.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing behind a single
// Telemetry value that travels in the context.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Code that receives such a context reports through package-level helpers.
// Every helper is a no-op when the context carries no telemetry, so the engine
// can be used as a library without any setup:
//
//	ctx = telemetry.WithExecutionContext(ctx, executionID, planID, "dependency", 12)
//	defer telemetry.EndExecutionContext(ctx, executionID, status, cost, duration, err)
//
//	ctx = telemetry.WithOperationContext(ctx, executionID, "op-1", "swap", "ETH-USDC")
//	telemetry.RecordRetry(ctx, "swap")
//	telemetry.EndOperationContext(ctx, executionID, "op-1", "swap", "success", 0.02, 2, false, nil)
//
// # Structured Logging
//
//	logger := telemetry.FromContext(ctx).WithOperationID("op-1")
//	logger.WithError(err).Warn("Operation failed, retrying")
//
// Without a logger in the context, FromContext returns a stderr logger at info level.
//
// # Metrics
//
// Metrics are registered on a private registry and served at
// MetricsConfig.Path (default :9090/metrics). Key series:
//
//   - liqbatch_plans_created_total{strategy}
//   - liqbatch_executions_completed_total{status}
//   - liqbatch_execution_duration_seconds{status}
//   - liqbatch_operations_executed_total{type,status}
//   - liqbatch_operation_retries_total{type}
//   - liqbatch_operations_skipped_total{type,reason}
//   - liqbatch_operation_cache_hits_total{type}
//   - liqbatch_rollbacks_total{trigger}
//   - liqbatch_venue_calls_total{venue,operation}
//   - liqbatch_errors_by_class_total{class}
//
// # Events
//
// Events are delivered to subscribers in publish order. With EnableAsync the
// publisher buffers them and Shutdown drains the buffer.
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Println(event.Type, event.OperationID)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// # Tracing
//
// Supported exporters are "otlp" (gRPC), "stdout" (pretty-printed to stderr)
// and "none".
package telemetry
