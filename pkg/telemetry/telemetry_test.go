package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type labeledError struct{}

func (labeledError) Error() string      { return "rate limited" }
func (labeledError) ErrorClass() string { return "throttled" }
func (labeledError) ErrorCode() string  { return "RATE_LIMITED" }

func quietConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Output = "discard"
	cfg.Events.EnableAsync = false
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"no service name", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, true},
		{"no metrics address", func(c *Config) { c.Metrics.ListenAddress = "" }, true},
		{"no event buffer", func(c *Config) { c.Events.BufferSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "info").
		WithExecutionID("exec-1").
		WithOperationID("op-1").
		WithResourceKey("ETH-USDC")

	logger.WithError(errors.New("boom")).Warn("Operation failed")
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	for key, want := range map[string]string{
		"execution_id": "exec-1",
		"operation_id": "op-1",
		"resource_key": "ETH-USDC",
		"error":        "boom",
		"level":        "warn",
		"message":      "Operation failed",
	} {
		if entry[key] != want {
			t.Errorf("Expected %s=%s, got %v", key, want, entry[key])
		}
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("Expected a default logger")
	}

	logger := NewJSONLogger(io.Discard, "info")
	ctx := logger.WithContext(context.Background())
	if FromContext(ctx) != logger {
		t.Error("Expected the logger stored in the context")
	}
}

func TestHelpers_NoTelemetry(t *testing.T) {
	ctx := context.Background()

	// none of these may panic without telemetry in the context
	ctx = WithExecutionContext(ctx, "exec-1", "plan-1", "parallel", 1)
	opCtx := WithOperationContext(ctx, "exec-1", "op-1", "swap", "pool")
	RecordRetry(opCtx, "swap")
	RecordOperationSkipped(ctx, "exec-1", "op-2", "swap", "DEPENDENCY_FAILED")
	EndOperationContext(opCtx, "exec-1", "op-1", "swap", "success", 1, 1, false, nil)
	RecordRollback(ctx, "failure_rate", 1, 0, time.Millisecond)
	EndExecutionContext(ctx, "exec-1", "completed", 1, time.Millisecond, nil)
	RecordPlanningFailure(ctx, "NO_OPERATIONS")
	RecordPlanCreated(ctx, "plan-1", "parallel", 1, 0.5)

	if err := RecordVenueCall(ctx, "paper", "swap", func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestMetrics_ExecutionLifecycle(t *testing.T) {
	tel, err := NewTelemetry(quietConfig())
	if err != nil {
		t.Fatalf("Failed to create telemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	ctx = WithExecutionContext(ctx, "exec-1", "plan-1", "dependency", 3)

	if got := testutil.ToFloat64(tel.Metrics.activeExecutions); got != 1 {
		t.Errorf("Expected 1 active execution, got %v", got)
	}

	opCtx := WithOperationContext(ctx, "exec-1", "op-1", "swap", "pool")
	RecordRetry(opCtx, "swap")
	EndOperationContext(opCtx, "exec-1", "op-1", "swap", "failed", 0.5, 2, false, labeledError{})

	cached := WithOperationContext(ctx, "exec-1", "op-2", "swap", "pool")
	EndOperationContext(cached, "exec-1", "op-2", "swap", "success", 0, 0, true, nil)

	RecordOperationSkipped(ctx, "exec-1", "op-3", "add_liquidity", "DEPENDENCY_FAILED")
	EndExecutionContext(ctx, "exec-1", "partial", 0.5, 10*time.Millisecond, errors.New("execution partial"))

	m := tel.Metrics
	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"active", testutil.ToFloat64(m.activeExecutions), 0},
		{"in flight", testutil.ToFloat64(m.inFlightOperations), 0},
		{"failed ops", testutil.ToFloat64(m.operationsExecuted.WithLabelValues("swap", "failed")), 1},
		{"retries", testutil.ToFloat64(m.operationRetries.WithLabelValues("swap")), 1},
		{"cache hits", testutil.ToFloat64(m.cacheHits.WithLabelValues("swap")), 1},
		{"skipped", testutil.ToFloat64(m.operationsSkipped.WithLabelValues("add_liquidity", "DEPENDENCY_FAILED")), 1},
		{"class", testutil.ToFloat64(m.errorsByClass.WithLabelValues("throttled")), 1},
		{"code", testutil.ToFloat64(m.errorsByCode.WithLabelValues("RATE_LIMITED")), 1},
		{"completed", testutil.ToFloat64(m.executionsCompleted.WithLabelValues("partial")), 1},
		{"cost", testutil.ToFloat64(m.executionCost.WithLabelValues("partial")), 0.5},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
}

func TestMetrics_Handler(t *testing.T) {
	tel, err := NewTelemetry(quietConfig())
	if err != nil {
		t.Fatalf("Failed to create telemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	tel.Metrics.RecordPlanCreated("hybrid", 4)
	tel.Metrics.RecordRollback("failure_rate", 2, 1, time.Second)

	rec := httptest.NewRecorder()
	tel.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`liqbatch_plans_created_total{strategy="hybrid"} 1`,
		`liqbatch_rollback_steps_total{outcome="compensated"} 2`,
		`liqbatch_rollbacks_total{trigger="failure_rate"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %q in metrics output", want)
		}
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// no-op instance must tolerate every call
	m.RecordExecutionStarted("sequential")
	m.RecordOperationStarted()
	m.RecordOperationExecution("swap", "success", time.Second, 1, true)
	m.RecordRollback("caller_abort", 1, 0, time.Second)
	m.RecordVenueCall("paper", "swap", time.Second)
	m.RecordError("permanent", "EXECUTION_FAILED")

	if m.Registry() != nil {
		t.Error("Expected no registry when disabled")
	}
	if err := m.StartMetricsServer(); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestEventPublisher_AsyncDrainOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 16, MaxBatchSize: 4, EnableAsync: true})
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	var mu sync.Mutex
	var got []string
	ep.Subscribe(func(event Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, event.OperationID)
	}, FilterByExecutionID("exec-1"))

	for _, id := range []string{"a", "b", "c"} {
		if err := ep.PublishOperationSkipped("exec-1", id, "swap", "CANCELLED"); err != nil {
			t.Fatalf("Failed to publish: %v", err)
		}
	}
	_ = ep.PublishOperationSkipped("exec-2", "z", "swap", "CANCELLED")

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Failed to shut down: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("Expected [a b c] in order, got %v", got)
	}
}

func TestEventPublisher_Filters(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 1})

	var levels []string
	ep.Subscribe(func(event Event) {
		levels = append(levels, event.Level)
	}, FilterByLevel(EventLevelWarning))

	_ = ep.PublishExecutionStarted("exec-1", "plan-1", "parallel", 2)
	_ = ep.PublishOperationSkipped("exec-1", "a", "swap", "CANCELLED")
	_ = ep.PublishRollback("failure_rate", 1, 1, time.Second)

	if strings.Join(levels, ",") != "warning,error" {
		t.Errorf("Expected [warning error], got %v", levels)
	}
}
