package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for planning and execution.
type Metrics struct {
	config MetricsConfig

	// Planning metrics
	plansCreated     *prometheus.CounterVec
	planningFailures *prometheus.CounterVec
	planOperations   *prometheus.HistogramVec

	// Execution metrics
	executionsStarted   *prometheus.CounterVec
	executionsCompleted *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec
	executionCost       *prometheus.CounterVec

	// Operation metrics
	operationsExecuted *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	operationCost      *prometheus.CounterVec
	operationRetries   *prometheus.CounterVec
	operationsSkipped  *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec

	// Rollback metrics
	rollbacks        *prometheus.CounterVec
	rollbackSteps    *prometheus.CounterVec
	rollbackDuration prometheus.Histogram

	// Venue metrics
	venueCalls    *prometheus.CounterVec
	venueDuration *prometheus.HistogramVec
	venueErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeExecutions   prometheus.Gauge
	inFlightOperations prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		plansCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_created_total",
				Help:      "Total number of execution plans created",
			},
			[]string{"strategy"},
		),
		planningFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "planning_failures_total",
				Help:      "Total number of batches that could not be planned",
			},
			[]string{"code"},
		),
		planOperations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_operations",
				Help:      "Number of operations accepted into a plan",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"strategy"},
		),

		executionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_started_total",
				Help:      "Total number of plan executions started",
			},
			[]string{"strategy"},
		),
		executionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_completed_total",
				Help:      "Total number of plan executions finished",
			},
			[]string{"status"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of plan execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		executionCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "execution_cost_total",
				Help:      "Sum of realized execution cost",
			},
			[]string{"status"},
		),

		operationsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_executed_total",
				Help:      "Total number of operations finished, by final status",
			},
			[]string{"type", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operation execution including retries",
				Buckets:   buckets,
			},
			[]string{"type"},
		),
		operationCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_cost_total",
				Help:      "Sum of realized operation cost",
			},
			[]string{"type"},
		),
		operationRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_retries_total",
				Help:      "Total number of operation retry attempts",
			},
			[]string{"type"},
		),
		operationsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_skipped_total",
				Help:      "Total number of operations skipped without execution",
			},
			[]string{"type", "reason"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_cache_hits_total",
				Help:      "Total number of operations answered from the result cache",
			},
			[]string{"type"},
		),

		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Total number of rollbacks, by trigger",
			},
			[]string{"trigger"},
		),
		rollbackSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollback_steps_total",
				Help:      "Total number of rollback steps, by outcome",
			},
			[]string{"outcome"},
		),
		rollbackDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rollback_duration_seconds",
				Help:      "Duration of rollbacks in seconds",
				Buckets:   buckets,
			},
		),

		venueCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "venue_calls_total",
				Help:      "Total number of calls made to a venue",
			},
			[]string{"venue", "operation"},
		),
		venueDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "venue_call_duration_seconds",
				Help:      "Duration of venue calls in seconds",
				Buckets:   buckets,
			},
			[]string{"venue", "operation"},
		),
		venueErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "venue_errors_total",
				Help:      "Total number of failed venue calls",
			},
			[]string{"venue", "operation"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_executions",
				Help:      "Current number of running executions",
			},
		),
		inFlightOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_operations",
				Help:      "Current number of operations being executed",
			},
		),
	}

	registry.MustRegister(
		m.plansCreated,
		m.planningFailures,
		m.planOperations,
		m.executionsStarted,
		m.executionsCompleted,
		m.executionDuration,
		m.executionCost,
		m.operationsExecuted,
		m.operationDuration,
		m.operationCost,
		m.operationRetries,
		m.operationsSkipped,
		m.cacheHits,
		m.rollbacks,
		m.rollbackSteps,
		m.rollbackDuration,
		m.venueCalls,
		m.venueDuration,
		m.venueErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.activeExecutions,
		m.inFlightOperations,
	)

	return m, nil
}

// Planning Metrics

// RecordPlanCreated records a successfully built plan.
func (m *Metrics) RecordPlanCreated(strategy string, operations int) {
	if m.plansCreated == nil {
		return
	}
	m.plansCreated.WithLabelValues(strategy).Inc()
	m.planOperations.WithLabelValues(strategy).Observe(float64(operations))
}

// RecordPlanningFailure records a batch that failed planning.
func (m *Metrics) RecordPlanningFailure(code string) {
	if m.planningFailures == nil {
		return
	}
	m.planningFailures.WithLabelValues(code).Inc()
}

// Execution Metrics

// RecordExecutionStarted increments the counter for started executions.
func (m *Metrics) RecordExecutionStarted(strategy string) {
	if m.executionsStarted == nil {
		return
	}
	m.executionsStarted.WithLabelValues(strategy).Inc()
	m.activeExecutions.Inc()
}

// RecordExecutionCompleted records a finished execution with its status, cost and duration.
func (m *Metrics) RecordExecutionCompleted(status string, cost float64, duration time.Duration) {
	if m.executionsCompleted == nil {
		return
	}
	m.executionsCompleted.WithLabelValues(status).Inc()
	m.executionDuration.WithLabelValues(status).Observe(duration.Seconds())
	if cost > 0 {
		m.executionCost.WithLabelValues(status).Add(cost)
	}
	m.activeExecutions.Dec()
}

// Operation Metrics

// RecordOperationStarted marks an operation as in flight.
func (m *Metrics) RecordOperationStarted() {
	if m.inFlightOperations == nil {
		return
	}
	m.inFlightOperations.Inc()
}

// RecordOperationExecution records a finished operation.
func (m *Metrics) RecordOperationExecution(opType, status string, duration time.Duration, cost float64, cached bool) {
	if m.operationsExecuted == nil {
		return
	}
	m.inFlightOperations.Dec()
	m.operationsExecuted.WithLabelValues(opType, status).Inc()
	m.operationDuration.WithLabelValues(opType).Observe(duration.Seconds())
	if cost > 0 {
		m.operationCost.WithLabelValues(opType).Add(cost)
	}
	if cached {
		m.cacheHits.WithLabelValues(opType).Inc()
	}
}

// RecordRetry records one retry attempt.
func (m *Metrics) RecordRetry(opType string) {
	if m.operationRetries == nil {
		return
	}
	m.operationRetries.WithLabelValues(opType).Inc()
}

// RecordOperationSkipped records an operation that never ran.
func (m *Metrics) RecordOperationSkipped(opType, reason string) {
	if m.operationsSkipped == nil {
		return
	}
	m.operationsSkipped.WithLabelValues(opType, reason).Inc()
}

// Rollback Metrics

// RecordRollback records a finished rollback.
func (m *Metrics) RecordRollback(trigger string, compensated, failed int, duration time.Duration) {
	if m.rollbacks == nil {
		return
	}
	m.rollbacks.WithLabelValues(trigger).Inc()
	m.rollbackSteps.WithLabelValues("compensated").Add(float64(compensated))
	m.rollbackSteps.WithLabelValues("failed").Add(float64(failed))
	m.rollbackDuration.Observe(duration.Seconds())
}

// Venue Metrics

// RecordVenueCall records a venue call with its duration.
func (m *Metrics) RecordVenueCall(venue, operation string, duration time.Duration) {
	if m.venueCalls == nil {
		return
	}
	m.venueCalls.WithLabelValues(venue, operation).Inc()
	m.venueDuration.WithLabelValues(venue, operation).Observe(duration.Seconds())
}

// RecordVenueError records a failed venue call.
func (m *Metrics) RecordVenueError(venue, operation string) {
	if m.venueErrors == nil {
		return
	}
	m.venueErrors.WithLabelValues(venue, operation).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Registry exposes the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func(server *http.Server) {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Log error but don't fail the application
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
		}
	}(m.server)

	return nil
}

// Shutdown stops the metrics server if one was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
