package telemetry_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/liqbatch/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"
	cfg.Logging.Output = "discard"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	telemetry.FromContext(ctx).Info("Application started")

	fmt.Println("ready")
	// Output: ready
}

// Example_executionInstrumentation demonstrates instrumenting an execution
// and one of its operations.
func Example_executionInstrumentation() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "discard"
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Println(event.Type, event.OperationID)
	}, telemetry.FilterByType(telemetry.EventTypeOperationCompleted, telemetry.EventTypeOperationFailed))

	ctx := tel.WithContext(context.Background())
	ctx = telemetry.WithExecutionContext(ctx, "exec-1", "plan-1", "sequential", 2)

	opCtx := telemetry.WithOperationContext(ctx, "exec-1", "open", "create_position", "ETH-USDC")
	telemetry.EndOperationContext(opCtx, "exec-1", "open", "create_position", "success", 0.02, 1, false, nil)

	opCtx = telemetry.WithOperationContext(ctx, "exec-1", "swap", "swap", "ETH-USDC")
	telemetry.EndOperationContext(opCtx, "exec-1", "swap", "swap", "failed", 0.01, 3, false, errors.New("reverted"))

	telemetry.EndExecutionContext(ctx, "exec-1", "partial", 0.03, 40*time.Millisecond, errors.New("execution partial"))

	// Output:
	// operation.completed open
	// operation.failed swap
}

// Example_venueCall demonstrates timing a call to a venue.
func Example_venueCall() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "discard"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	err := telemetry.RecordVenueCall(ctx, "paper", "swap", func(ctx context.Context) error {
		return nil
	})
	if err == nil {
		fmt.Println("venue call recorded")
	}

	// Output: venue call recorded
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()
	cfg.ServiceVersion = "1.2.3"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}
