package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Initialize tracer
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	// Initialize metrics
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	// Initialize event publisher
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	return t.Metrics.Shutdown(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// InstrumentedContext creates a context with telemetry, logger fields, and a trace span.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	// Start trace span
	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	// Create logger with operation field
	logger := tel.Logger.WithField("operation", operation)

	if traceID := TraceID(spanCtx); traceID != "" {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": traceID,
			"span_id":  SpanID(spanCtx),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// errorLabels is satisfied by classified errors that expose their class and code.
type errorLabels interface {
	ErrorClass() string
	ErrorCode() string
}

func recordErrorMetric(tel *Telemetry, err error) {
	var labeled errorLabels
	if errors.As(err, &labeled) {
		tel.Metrics.RecordError(labeled.ErrorClass(), labeled.ErrorCode())
		return
	}
	tel.Metrics.RecordError("unclassified", "")
}

// RecordPlanningFailure records a batch that could not be planned.
func RecordPlanningFailure(ctx context.Context, code string) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordPlanningFailure(code)
}

// RecordPlanCreated records metrics and events for a new plan.
func RecordPlanCreated(ctx context.Context, planID, strategy string, operations int, estimatedCost float64) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordPlanCreated(strategy, operations)
	_ = tel.Events.PublishPlanCreated(planID, strategy, operations, estimatedCost)
}

// executionSpanKey is the context key for execution spans.
type executionSpanKey struct{}

// WithExecutionContext creates a context enriched with execution-specific telemetry.
// Without telemetry in ctx it still attaches an execution-scoped logger.
func WithExecutionContext(ctx context.Context, executionID, planID, strategy string, total int) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return FromContext(ctx).WithExecutionID(executionID).WithPlanID(planID).WithContext(ctx)
	}

	spanCtx, span := tel.Tracer.StartExecutionSpan(ctx, executionID, planID, strategy)

	logger := tel.Logger.WithExecutionID(executionID).WithPlanID(planID)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordExecutionStarted(strategy)
	_ = tel.Events.PublishExecutionStarted(executionID, planID, strategy, total)

	return context.WithValue(spanCtx, executionSpanKey{}, span)
}

// EndExecutionContext completes the execution context, recording metrics and events.
func EndExecutionContext(ctx context.Context, executionID, status string, totalCost float64, duration time.Duration, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(executionSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrExecutionStatus.String(status))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	tel.Metrics.RecordExecutionCompleted(status, totalCost, duration)

	if err != nil {
		_ = tel.Events.PublishExecutionFailed(executionID, status, err.Error())
	} else {
		_ = tel.Events.PublishExecutionCompleted(executionID, status, totalCost, duration)
	}
}

// operationSpanKey is the context key for operation spans.
type operationSpanKey struct{}

// operationTimerKey is the context key for operation timers.
type operationTimerKey struct{}

// WithOperationContext creates a context enriched with operation-specific telemetry.
func WithOperationContext(ctx context.Context, executionID, operationID, opType, resourceKey string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return FromContext(ctx).WithOperationID(operationID).WithContext(ctx)
	}

	spanCtx, span := tel.Tracer.StartOperationSpan(ctx, operationID, opType, resourceKey)

	logger := FromContext(ctx).
		WithOperationID(operationID).
		WithResourceKey(resourceKey).
		WithField("operation_type", opType)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordOperationStarted()
	_ = tel.Events.PublishOperationStarted(executionID, operationID, opType, resourceKey)

	spanCtx = context.WithValue(spanCtx, operationSpanKey{}, span)
	return context.WithValue(spanCtx, operationTimerKey{}, NewTimer())
}

// EndOperationContext completes the operation context, recording metrics and events.
func EndOperationContext(ctx context.Context, executionID, operationID, opType, status string, cost float64, attempts int, cached bool, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(operationSpanKey{}).(trace.Span); ok {
		span.SetAttributes(
			AttrAttempts.Int(attempts),
			AttrCost.Float64(cost),
			AttrCached.Bool(cached),
		)
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(operationTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel.Metrics.RecordOperationExecution(opType, status, duration, cost, cached)

	if err != nil {
		recordErrorMetric(tel, err)
		_ = tel.Events.PublishOperationFailed(executionID, operationID, opType, err.Error())
	} else {
		_ = tel.Events.PublishOperationCompleted(executionID, operationID, opType, cost, attempts, cached)
	}
}

// RecordRetry records one retry of an operation.
func RecordRetry(ctx context.Context, opType string) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordRetry(opType)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("retry")
	}
}

// RecordOperationSkipped records an operation that was skipped without running.
func RecordOperationSkipped(ctx context.Context, executionID, operationID, opType, reason string) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordOperationSkipped(opType, reason)
	_ = tel.Events.PublishOperationSkipped(executionID, operationID, opType, reason)
}

// RecordRollback records a finished rollback.
func RecordRollback(ctx context.Context, trigger string, compensated, failed int, duration time.Duration) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordRollback(trigger, compensated, failed, duration)
	_ = tel.Events.PublishRollback(trigger, compensated, failed, duration)
}

// RecordVenueCall records a venue call with metrics and tracing.
func RecordVenueCall(ctx context.Context, venue, operation string, fn func(ctx context.Context) error) error {
	tel := FromTelemetryContext(ctx)

	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartVenueSpan(ctx, venue, operation)
		defer span.End()
	}

	timer := NewTimer()

	err := fn(ctx)

	if tel != nil {
		tel.Metrics.RecordVenueCall(venue, operation, timer.Duration())
		if err != nil {
			tel.Metrics.RecordVenueError(venue, operation)
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}

	return err
}

// RecordPolicyViolation publishes a policy violation found while planning.
func RecordPolicyViolation(ctx context.Context, planID, policyName, message string) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	_ = tel.Events.PublishPolicyViolation(planID, policyName, message)
}
