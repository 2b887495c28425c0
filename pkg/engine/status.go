package engine

import (
	"encoding/json"
	"fmt"
)

// OperationType identifies the kind of state change an operation requests.
type OperationType string

const (
	// OperationCreatePosition opens a new liquidity position.
	OperationCreatePosition OperationType = "create_position"

	// OperationAddLiquidity deposits liquidity into a pool position.
	OperationAddLiquidity OperationType = "add_liquidity"

	// OperationRemoveLiquidity withdraws liquidity from a pool position.
	OperationRemoveLiquidity OperationType = "remove_liquidity"

	// OperationSwap exchanges one token for another through a pool.
	OperationSwap OperationType = "swap"

	// OperationRebalance moves a position to a new range or ratio.
	OperationRebalance OperationType = "rebalance"

	// OperationClaimFees collects accrued fees from a position.
	OperationClaimFees OperationType = "claim_fees"

	// OperationClosePosition closes a position entirely.
	OperationClosePosition OperationType = "close_position"
)

// AllOperationTypes lists every supported operation type in a stable order.
var AllOperationTypes = []OperationType{
	OperationCreatePosition,
	OperationAddLiquidity,
	OperationRemoveLiquidity,
	OperationSwap,
	OperationRebalance,
	OperationClaimFees,
	OperationClosePosition,
}

// IsSafeParallel returns true if operations of this type may run concurrently
// with each other on the same resource key.
func (o OperationType) IsSafeParallel() bool {
	return o == OperationSwap || o == OperationClaimFees
}

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationCreatePosition, OperationAddLiquidity, OperationRemoveLiquidity,
		OperationSwap, OperationRebalance, OperationClaimFees, OperationClosePosition:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (o OperationType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(o))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (o *OperationType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*o = OperationType(str)
	return o.Validate()
}

// Strategy selects how the engine schedules a plan.
type Strategy string

const (
	// StrategySequential runs operations one at a time in plan order.
	StrategySequential Strategy = "sequential"

	// StrategyParallel runs fixed-size windows of operations concurrently.
	StrategyParallel Strategy = "parallel"

	// StrategyHybrid runs independence groups, concurrently when a group has
	// more than one member.
	StrategyHybrid Strategy = "hybrid"

	// StrategyDependency runs rounds of ready operations.
	StrategyDependency Strategy = "dependency"
)

// Validate checks if the strategy is valid.
func (s Strategy) Validate() error {
	switch s {
	case StrategySequential, StrategyParallel, StrategyHybrid, StrategyDependency:
		return nil
	default:
		return fmt.Errorf("invalid strategy: %s", s)
	}
}

// FailureHandling decides what a run does after an operation fails.
type FailureHandling string

const (
	// FailureAbortAll stops dispatching after the first failure.
	FailureAbortAll FailureHandling = "abort_all"

	// FailureContinue keeps going after failures.
	FailureContinue FailureHandling = "continue_on_failure"

	// FailureRetry retries recoverable failures before moving on.
	FailureRetry FailureHandling = "retry_failed"

	// FailureRollbackPartial halts on failure and unwinds completed operations.
	FailureRollbackPartial FailureHandling = "rollback_partial"
)

// Validate checks if the failure handling policy is valid.
func (f FailureHandling) Validate() error {
	switch f {
	case FailureAbortAll, FailureContinue, FailureRetry, FailureRollbackPartial:
		return nil
	default:
		return fmt.Errorf("invalid failure handling: %s", f)
	}
}

// DependencyFailureMode decides whether dependents of a failed operation run.
type DependencyFailureMode string

const (
	// DependencyFailureSkip skips operations whose dependencies failed or were skipped.
	DependencyFailureSkip DependencyFailureMode = "skip"

	// DependencyFailureProceed treats a failed dependency as finished and runs dependents anyway.
	DependencyFailureProceed DependencyFailureMode = "proceed"
)

// Validate checks if the dependency failure mode is valid.
func (m DependencyFailureMode) Validate() error {
	switch m {
	case DependencyFailureSkip, DependencyFailureProceed:
		return nil
	default:
		return fmt.Errorf("invalid dependency failure mode: %s", m)
	}
}

// OperationStatus is the terminal status of a single operation.
type OperationStatus string

const (
	// OperationStatusSuccess indicates the operation completed.
	OperationStatusSuccess OperationStatus = "success"

	// OperationStatusFailed indicates the operation failed.
	OperationStatusFailed OperationStatus = "failed"

	// OperationStatusSkipped indicates the operation never ran.
	OperationStatusSkipped OperationStatus = "skipped"

	// OperationStatusRolledBack indicates the operation completed and was later compensated.
	OperationStatusRolledBack OperationStatus = "rolled_back"
)

// Validate checks if the operation status is valid.
func (s OperationStatus) Validate() error {
	switch s {
	case OperationStatusSuccess, OperationStatusFailed, OperationStatusSkipped, OperationStatusRolledBack:
		return nil
	default:
		return fmt.Errorf("invalid operation status: %s", s)
	}
}

// ExecutionStatus is the overall outcome of a run.
type ExecutionStatus string

const (
	// ExecutionStatusCompleted indicates every operation succeeded.
	ExecutionStatusCompleted ExecutionStatus = "completed"

	// ExecutionStatusPartial indicates some operations succeeded and some did not.
	ExecutionStatusPartial ExecutionStatus = "partial"

	// ExecutionStatusFailed indicates no operation succeeded.
	ExecutionStatusFailed ExecutionStatus = "failed"

	// ExecutionStatusAborted indicates the run was cancelled or hit an emergency stop.
	ExecutionStatusAborted ExecutionStatus = "aborted"

	// ExecutionStatusRolledBack indicates completed operations were unwound.
	ExecutionStatusRolledBack ExecutionStatus = "rolled_back"
)

// Validate checks if the execution status is valid.
func (s ExecutionStatus) Validate() error {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusPartial, ExecutionStatusFailed,
		ExecutionStatusAborted, ExecutionStatusRolledBack:
		return nil
	default:
		return fmt.Errorf("invalid execution status: %s", s)
	}
}

// State returns the engine state a run ends in for this status.
func (s ExecutionStatus) State() EngineState {
	switch s {
	case ExecutionStatusCompleted:
		return StateCompleted
	case ExecutionStatusAborted:
		return StateAborted
	case ExecutionStatusRolledBack:
		return StateRolledBack
	default:
		return StatePartiallyCompleted
	}
}

// EngineState is the lifecycle state of a run.
type EngineState string

const (
	// StateQueued indicates the run has been accepted but not started.
	StateQueued EngineState = "queued"

	// StateRunning indicates the run is dispatching operations.
	StateRunning EngineState = "running"

	// StateCompleted indicates every operation succeeded.
	StateCompleted EngineState = "completed"

	// StatePartiallyCompleted indicates the run finished with failures or skips.
	StatePartiallyCompleted EngineState = "partially_completed"

	// StateAborted indicates the run was halted early.
	StateAborted EngineState = "aborted"

	// StateRolledBack indicates the run was unwound.
	StateRolledBack EngineState = "rolled_back"
)

// IsTerminal returns true if the state is final.
func (s EngineState) IsTerminal() bool {
	return s == StateCompleted || s == StatePartiallyCompleted ||
		s == StateAborted || s == StateRolledBack
}

// RollbackTrigger names a condition that may start a rollback.
type RollbackTrigger string

const (
	// TriggerFailureRate fires when the failure rate exceeds the plan threshold.
	TriggerFailureRate RollbackTrigger = "failure_rate"

	// TriggerCostExhausted fires when measured cost exceeds the allowed multiple of the estimate.
	TriggerCostExhausted RollbackTrigger = "cost_exhausted"

	// TriggerCallerAbort fires when the caller cancels the run.
	TriggerCallerAbort RollbackTrigger = "caller_abort"

	// TriggerTimeLimit fires when the run exceeds its time limit.
	TriggerTimeLimit RollbackTrigger = "time_limit"

	// TriggerOperationFailure fires on the first failure under rollback_partial.
	TriggerOperationFailure RollbackTrigger = "operation_failure"
)

// Validate checks if the trigger is valid.
func (t RollbackTrigger) Validate() error {
	switch t {
	case TriggerFailureRate, TriggerCostExhausted, TriggerCallerAbort,
		TriggerTimeLimit, TriggerOperationFailure:
		return nil
	default:
		return fmt.Errorf("invalid rollback trigger: %s", t)
	}
}

// RollbackOrder decides the unwind order.
type RollbackOrder string

const (
	// RollbackReverseCompletion unwinds the most recently completed operation first.
	RollbackReverseCompletion RollbackOrder = "reverse_completion"

	// RollbackReversePlan unwinds in reverse plan order.
	RollbackReversePlan RollbackOrder = "reverse_plan"
)

// Validate checks if the rollback order is valid.
func (o RollbackOrder) Validate() error {
	switch o {
	case RollbackReverseCompletion, RollbackReversePlan:
		return nil
	default:
		return fmt.Errorf("invalid rollback order: %s", o)
	}
}

// RollbackStepStatus is the outcome of compensating one operation.
type RollbackStepStatus string

const (
	RollbackStepCompensated    RollbackStepStatus = "compensated"
	RollbackStepFailed         RollbackStepStatus = "failed"
	RollbackStepNotCompensable RollbackStepStatus = "not_compensable"
	RollbackStepNotAttempted   RollbackStepStatus = "not_attempted"
)

// RiskLevel buckets a plan's risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)
