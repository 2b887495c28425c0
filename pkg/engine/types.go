package engine

import (
	"time"
)

// PlanOptions configures how the planner builds and how the engine runs a plan.
type PlanOptions struct {
	// Strategy is the scheduling strategy for the plan.
	Strategy Strategy `json:"strategy" yaml:"strategy" validate:"required"`

	// Execution holds scheduling and failure-handling settings.
	Execution ExecutionOptions `json:"execution" yaml:"execution"`

	// CostOptimization holds fee settings passed to executors.
	CostOptimization CostOptimization `json:"cost_optimization" yaml:"cost_optimization"`

	// Risk holds emergency-stop thresholds.
	Risk RiskManagement `json:"risk" yaml:"risk"`

	// Rollback holds the rollback policy.
	Rollback RollbackPolicy `json:"rollback" yaml:"rollback"`
}

// ExecutionOptions controls concurrency, retries and failure handling.
type ExecutionOptions struct {
	// FailureHandling decides what happens after an operation fails.
	FailureHandling FailureHandling `json:"failure_handling" yaml:"failure_handling" validate:"required"`

	// MaxConcurrency bounds the number of operations in flight at once.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" validate:"gte=1"`

	// BatchSize is the window size for the parallel strategy. Left unset, it
	// follows MaxConcurrency.
	BatchSize int `json:"batch_size" yaml:"batch_size" validate:"gte=1"`

	// MaxGroupSize caps the size of parallel groups.
	MaxGroupSize int `json:"max_group_size" yaml:"max_group_size" validate:"gte=1"`

	// Retry controls retries of recoverable failures under retry_failed.
	Retry RetryPolicy `json:"retry" yaml:"retry"`

	// OperationTimeout bounds a single executor call.
	OperationTimeout time.Duration `json:"operation_timeout" yaml:"operation_timeout" validate:"gt=0"`

	// DependencyFailureMode decides whether dependents of failed operations run.
	DependencyFailureMode DependencyFailureMode `json:"dependency_failure_mode" yaml:"dependency_failure_mode" validate:"required"`

	// CacheTTL is how long successful outcomes are replayed from cache. Zero
	// takes the default; CacheDisabled turns lookups and writes off.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" validate:"gte=-1"`
}

// CacheDisabled as CacheTTL turns outcome caching off for a plan.
const CacheDisabled time.Duration = -1

// cacheEnabled reports whether outcomes are looked up and stored.
func (e ExecutionOptions) cacheEnabled() bool {
	return e.CacheTTL > 0
}

// RetryPolicy controls retry attempts and backoff.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt. Zero takes
	// the default; RetryDisabled allows no retries at all.
	MaxRetries int `json:"max_retries" yaml:"max_retries" validate:"gte=-1"`

	// BaseDelay is the first backoff delay.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay" validate:"gte=0"`

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay" validate:"gte=0"`

	// NoRetryTypes lists operation types whose executors are not idempotent.
	NoRetryTypes []OperationType `json:"no_retry_types,omitempty" yaml:"no_retry_types,omitempty"`
}

// RetryDisabled as MaxRetries turns retries off, for executors that are not
// idempotent.
const RetryDisabled = -1

// retries returns the effective retry count.
func (r RetryPolicy) retries() int {
	if r.MaxRetries < 0 {
		return 0
	}
	return r.MaxRetries
}

// allows reports whether the policy permits retrying the given type.
func (r RetryPolicy) allows(t OperationType) bool {
	for _, nt := range r.NoRetryTypes {
		if nt == t {
			return false
		}
	}
	return true
}

// CostOptimization holds fee settings. Executors read them from the context
// with CostSettingsFromContext.
type CostOptimization struct {
	// Enabled turns on fee optimization.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// FeeMultiplier scales the venue's suggested fee.
	FeeMultiplier float64 `json:"fee_multiplier" yaml:"fee_multiplier" validate:"gte=0"`

	// MaxCostPerOperation rejects operations estimated above this cost at plan time.
	// Zero disables the cap.
	MaxCostPerOperation float64 `json:"max_cost_per_operation" yaml:"max_cost_per_operation" validate:"gte=0"`
}

// RiskManagement holds the thresholds that halt a run.
type RiskManagement struct {
	// MaxFailureRate halts the run when failures/attempted exceeds it.
	MaxFailureRate float64 `json:"max_failure_rate" yaml:"max_failure_rate" validate:"gt=0,lte=1"`

	// MinSampleSize is the number of attempted operations before the failure
	// rate is checked. Set it to 1 to check after every operation.
	MinSampleSize int `json:"min_sample_size" yaml:"min_sample_size" validate:"gte=1"`

	// MaxCostMultiplier halts the run when measured cost exceeds this multiple of the estimate.
	MaxCostMultiplier float64 `json:"max_cost_multiplier" yaml:"max_cost_multiplier" validate:"gt=0"`

	// MaxExecutionTime halts the run when exceeded. Zero disables the limit.
	MaxExecutionTime time.Duration `json:"max_execution_time" yaml:"max_execution_time" validate:"gte=0"`
}

// RollbackPolicy decides whether, when and how completed operations are unwound.
type RollbackPolicy struct {
	// Enabled allows rollback for this plan.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Automatic runs rollback without caller involvement when a trigger fires.
	Automatic bool `json:"automatic" yaml:"automatic"`

	// Triggers lists the conditions that start a rollback.
	Triggers []RollbackTrigger `json:"triggers,omitempty" yaml:"triggers,omitempty"`

	// Order is the unwind order.
	Order RollbackOrder `json:"order" yaml:"order" validate:"required"`

	// MaxAttempts bounds compensation attempts per operation.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" validate:"gte=1"`

	// StopOnFailure abandons the remaining steps after a failed compensation.
	StopOnFailure bool `json:"stop_on_failure" yaml:"stop_on_failure"`
}

// HasTrigger reports whether the policy lists the trigger.
func (r RollbackPolicy) HasTrigger(t RollbackTrigger) bool {
	for _, tr := range r.Triggers {
		if tr == t {
			return true
		}
	}
	return false
}

// ExecutionPlan is the validated, ordered, strategy-bound set of operations.
// The engine treats it as read-only.
type ExecutionPlan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// CreatedAt is when the plan was built.
	CreatedAt time.Time `json:"created_at"`

	// Strategy is the scheduling strategy.
	Strategy Strategy `json:"strategy"`

	// Operations is the topologically ordered list of accepted operations.
	Operations []Operation `json:"operations"`

	// Dependencies maps each operation ID to the IDs it waits on.
	Dependencies map[string][]string `json:"dependencies"`

	// ExplicitDependencies holds caller-declared edges only.
	ExplicitDependencies map[string][]string `json:"explicit_dependencies,omitempty"`

	// ImplicitDependencies holds edges derived from conflict rules only.
	ImplicitDependencies map[string][]string `json:"implicit_dependencies,omitempty"`

	// Groups are parallel-eligible groups of operation IDs in plan order.
	Groups [][]string `json:"groups"`

	// Levels are dependency levels; operations in one level are independent.
	Levels [][]string `json:"levels"`

	// Execution holds scheduling and failure-handling settings.
	Execution ExecutionOptions `json:"execution"`

	// CostOptimization holds fee settings.
	CostOptimization CostOptimization `json:"cost_optimization"`

	// Risk holds emergency-stop thresholds.
	Risk RiskManagement `json:"risk"`

	// Rollback holds the rollback policy.
	Rollback RollbackPolicy `json:"rollback"`

	// Estimate is the aggregate cost and duration estimate.
	Estimate PlanEstimate `json:"estimate"`

	// Expected is the aggregate expected-result estimate.
	Expected ExpectedResult `json:"expected"`

	// Rejected lists operations dropped during validation.
	Rejected []RejectedOperation `json:"rejected,omitempty"`

	// Warnings lists non-fatal planning warnings.
	Warnings []string `json:"warnings,omitempty"`

	// Policy is the policy evaluation result, if a policy evaluator was configured.
	Policy *PolicyResult `json:"policy,omitempty"`
}

// Operation returns the operation with the given ID.
func (p *ExecutionPlan) Operation(id string) (Operation, bool) {
	for _, op := range p.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return Operation{}, false
}

// PlanEstimate is the aggregate estimate for a plan.
type PlanEstimate struct {
	// TotalCost is the sum of per-operation cost estimates.
	TotalCost float64 `json:"total_cost"`

	// Duration is the expected wall-clock duration under the plan's strategy.
	Duration time.Duration `json:"duration"`

	// CriticalPath is the longest dependency chain by estimated duration.
	CriticalPath []string `json:"critical_path,omitempty"`
}

// ExpectedResult is the aggregate expected outcome of a plan.
type ExpectedResult struct {
	// SuccessProbability is the estimated probability that every operation succeeds.
	SuccessProbability float64 `json:"success_probability"`

	// ExpectedCost is the estimated cost including expected retries.
	ExpectedCost float64 `json:"expected_cost"`

	// RiskScore is a 0..1 score combining the risk factors.
	RiskScore float64 `json:"risk_score"`

	// RiskLevel buckets RiskScore.
	RiskLevel RiskLevel `json:"risk_level"`

	// Factors describes what contributed to the risk score.
	Factors []string `json:"factors,omitempty"`
}

// RejectedOperation is an operation dropped during planning.
type RejectedOperation struct {
	// ID is the rejected operation ID.
	ID string `json:"id"`

	// Type is the rejected operation type.
	Type OperationType `json:"type"`

	// Reason explains why the operation was rejected.
	Reason string `json:"reason"`
}

// OperationOutcome is what an executor reports for one call.
type OperationOutcome struct {
	// Success indicates the venue accepted and completed the operation.
	Success bool `json:"success"`

	// Cost is the cost actually consumed, even on failure.
	Cost float64 `json:"cost"`

	// Duration is the venue-reported duration. The engine measures its own when zero.
	Duration time.Duration `json:"duration"`

	// Error describes a failure reported without a Go error.
	Error string `json:"error,omitempty"`

	// Metadata holds venue-specific details such as transaction ids.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// OperationResult is the single terminal result of an operation in a run.
type OperationResult struct {
	// OperationID is the operation this result belongs to.
	OperationID string `json:"operation_id"`

	// Type is the operation type.
	Type OperationType `json:"type"`

	// ResourceKey is the operation's target.
	ResourceKey string `json:"resource_key"`

	// Status is the terminal status.
	Status OperationStatus `json:"status"`

	// Cost is the cost actually consumed.
	Cost float64 `json:"cost"`

	// Duration is how long the operation took, retries included.
	Duration time.Duration `json:"duration"`

	// Attempts is the number of executor calls made.
	Attempts int `json:"attempts"`

	// Cached indicates the result was replayed from cache.
	Cached bool `json:"cached,omitempty"`

	// Error is the classified failure, if any.
	Error *EngineError `json:"error,omitempty"`

	// SkipReason explains why the operation did not run.
	SkipReason string `json:"skip_reason,omitempty"`

	// StartedAt is when the first attempt started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the result became terminal.
	CompletedAt time.Time `json:"completed_at"`

	// Metadata holds venue and caller metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ExecutionError is a failure surfaced at the run level.
type ExecutionError struct {
	// OperationID is the failing operation, empty for run-level errors.
	OperationID string `json:"operation_id,omitempty"`

	// Class is the error class.
	Class ErrorClass `json:"class"`

	// Code is the error code.
	Code string `json:"code"`

	// Message is the error message.
	Message string `json:"message"`

	// Recoverable indicates the failure was classified as recoverable.
	Recoverable bool `json:"recoverable"`

	// OperationIDs lists the operations involved, such as a stalled set.
	OperationIDs []string `json:"operation_ids,omitempty"`
}

// ExecutionMetrics summarises a run.
type ExecutionMetrics struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	RolledBack  int     `json:"rolled_back"`
	Retries     int     `json:"retries"`
	CacheHits   int     `json:"cache_hits"`
	SuccessRate float64 `json:"success_rate"`

	// Throughput is terminal operations per second of wall-clock time.
	Throughput float64 `json:"throughput"`
}

// ExecutionResult is the aggregate outcome of one engine run. It is built
// once when the run ends and never changed afterwards.
type ExecutionResult struct {
	// ExecutionID identifies the run.
	ExecutionID string `json:"execution_id"`

	// PlanID is the plan that was run.
	PlanID string `json:"plan_id"`

	// Strategy is the strategy the run used.
	Strategy Strategy `json:"strategy"`

	// Status is the overall outcome.
	Status ExecutionStatus `json:"status"`

	// State is the terminal engine state.
	State EngineState `json:"state"`

	// Results holds one result per plan operation, in plan order.
	Results []OperationResult `json:"results"`

	// TotalCost is the sum of result costs.
	TotalCost float64 `json:"total_cost"`

	// EstimatedCost is the plan's estimate, for comparison.
	EstimatedCost float64 `json:"estimated_cost"`

	// StartedAt is when the run entered Running.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run ended.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the observed wall-clock duration.
	Duration time.Duration `json:"duration"`

	// Metrics summarises the run.
	Metrics ExecutionMetrics `json:"metrics"`

	// Errors lists execution, deadlock and rollback errors.
	Errors []ExecutionError `json:"errors,omitempty"`

	// HaltReason explains an early stop, if any.
	HaltReason string `json:"halt_reason,omitempty"`

	// RollbackExecuted indicates the rollback coordinator ran.
	RollbackExecuted bool `json:"rollback_executed"`

	// Rollback is the rollback outcome when RollbackExecuted is true.
	Rollback *RollbackOutcome `json:"rollback,omitempty"`
}

// Result returns the result for the given operation ID.
func (r *ExecutionResult) Result(operationID string) (OperationResult, bool) {
	for _, res := range r.Results {
		if res.OperationID == operationID {
			return res, true
		}
	}
	return OperationResult{}, false
}

// Progress is a progress notification for a run.
type Progress struct {
	// ExecutionID identifies the run.
	ExecutionID string `json:"execution_id"`

	// Completed is the number of operations with a terminal result.
	Completed int `json:"completed"`

	// Total is the number of operations in the plan.
	Total int `json:"total"`

	// OperationID is the operation whose result triggered this notification.
	OperationID string `json:"operation_id"`

	// Status is that operation's status.
	Status OperationStatus `json:"status"`
}

// ProgressFunc receives progress notifications on the engine's control goroutine.
type ProgressFunc func(Progress)

// CompletedOperation is an operation that completed in a run, with its result.
type CompletedOperation struct {
	Operation Operation       `json:"operation"`
	Result    OperationResult `json:"result"`

	// Sequence is the completion order within the run, starting at 1.
	Sequence int `json:"sequence"`

	// PlanIndex is the operation's position in the plan.
	PlanIndex int `json:"plan_index"`
}

// RollbackStep is the outcome of compensating one operation.
type RollbackStep struct {
	OperationID string             `json:"operation_id"`
	Type        OperationType      `json:"type"`
	Status      RollbackStepStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	Cost        float64            `json:"cost"`
	Duration    time.Duration      `json:"duration"`
	Error       string             `json:"error,omitempty"`
}

// RollbackOutcome is the aggregate outcome of a rollback.
type RollbackOutcome struct {
	// Trigger is the condition that started the rollback.
	Trigger RollbackTrigger `json:"trigger"`

	// Steps holds one entry per completed operation, in unwind order.
	Steps []RollbackStep `json:"steps"`

	// Succeeded is true when no step failed.
	Succeeded bool `json:"succeeded"`

	// FailedSteps lists the operation IDs whose compensation failed.
	FailedSteps []string `json:"failed_steps,omitempty"`

	// TotalCost is the cost consumed by compensations.
	TotalCost float64 `json:"total_cost"`

	// Duration is how long the rollback took.
	Duration time.Duration `json:"duration"`
}

// PolicyResult represents the result of policy evaluation.
type PolicyResult struct {
	// Allowed indicates if the plan is allowed.
	Allowed bool `json:"allowed"`

	// Violations lists policy violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists policy warnings.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the policy name that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity (error, warning).
	Severity string `json:"severity"`

	// OperationID is the operation that violated the policy, if applicable.
	OperationID string `json:"operation_id,omitempty"`
}
