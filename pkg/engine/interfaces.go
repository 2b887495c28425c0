package engine

import (
	"context"
	"time"
)

// OperationExecutor performs one operation against the remote venue.
// Implementations must be safe for concurrent use. They must be idempotent
// for at-least-once retry, or their operation types must be listed in
// RetryPolicy.NoRetryTypes.
type OperationExecutor interface {
	// Execute performs the operation and reports its outcome. A returned error
	// and an outcome with Success=false are both treated as failures.
	Execute(ctx context.Context, op Operation) (*OperationOutcome, error)
}

// OperationExecutorFunc adapts a function to OperationExecutor.
type OperationExecutorFunc func(ctx context.Context, op Operation) (*OperationOutcome, error)

// Execute calls f(ctx, op).
func (f OperationExecutorFunc) Execute(ctx context.Context, op Operation) (*OperationOutcome, error) {
	return f(ctx, op)
}

// Cache stores short-lived values by namespace and key.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the value and true when present and not expired.
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)

	// Set stores a value for ttl.
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error

	// Invalidate removes one key, or the whole namespace when key is empty.
	Invalidate(ctx context.Context, namespace, key string) error
}

// Compensator performs the compensating action for a completed operation.
type Compensator interface {
	// Compensate undoes the effect of op. Returning ErrNotCompensable marks the
	// step as not compensable rather than failed.
	Compensate(ctx context.Context, op Operation, result OperationResult) (*OperationOutcome, error)
}

// CompensatorFunc adapts a function to Compensator.
type CompensatorFunc func(ctx context.Context, op Operation, result OperationResult) (*OperationOutcome, error)

// Compensate calls f(ctx, op, result).
func (f CompensatorFunc) Compensate(ctx context.Context, op Operation, result OperationResult) (*OperationOutcome, error) {
	return f(ctx, op, result)
}

// ErrNotCompensable is returned by compensators for operations that cannot be undone.
var ErrNotCompensable = NewPermanentError("operation is not compensable", nil).WithCode("NOT_COMPENSABLE")

// PolicyEvaluator evaluates risk policies against a plan before it is returned.
type PolicyEvaluator interface {
	// EvaluatePlan evaluates policies against a plan.
	EvaluatePlan(ctx context.Context, plan *ExecutionPlan) (*PolicyResult, error)
}

// PlanRecorder persists plans as they are created.
type PlanRecorder interface {
	// SavePlan persists a plan.
	SavePlan(ctx context.Context, plan *ExecutionPlan) error
}

// HistoryRecorder persists execution results.
type HistoryRecorder interface {
	// RecordExecution persists a finished execution result.
	RecordExecution(ctx context.Context, result *ExecutionResult) error
}

type costSettingsKey struct{}

// WithCostSettings returns a context carrying the plan's cost optimization settings.
func WithCostSettings(ctx context.Context, settings CostOptimization) context.Context {
	return context.WithValue(ctx, costSettingsKey{}, settings)
}

// CostSettingsFromContext returns the cost optimization settings for the
// operation being executed, if any.
func CostSettingsFromContext(ctx context.Context) (CostOptimization, bool) {
	settings, ok := ctx.Value(costSettingsKey{}).(CostOptimization)
	return settings, ok
}
