package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/openfroyo/liqbatch/pkg/telemetry"
)

// RollbackCoordinator unwinds completed operations by invoking their
// compensating actions. Compensation failures are reported, not retried
// beyond the policy's MaxAttempts for recoverable errors.
type RollbackCoordinator struct {
	compensator Compensator
	policy      RollbackPolicy
}

// NewRollbackCoordinator creates a coordinator. A nil compensator marks
// every step as not compensable.
func NewRollbackCoordinator(compensator Compensator, policy RollbackPolicy) *RollbackCoordinator {
	if policy.Order == "" {
		policy.Order = RollbackReverseCompletion
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &RollbackCoordinator{
		compensator: compensator,
		policy:      policy,
	}
}

// Rollback compensates the completed operations in unwind order and returns
// the aggregate outcome. The input slice is not modified.
func (c *RollbackCoordinator) Rollback(ctx context.Context, trigger RollbackTrigger, completed []CompletedOperation) *RollbackOutcome {
	started := time.Now()
	logger := telemetry.FromContext(ctx).WithField("trigger", trigger)
	logger.WithField("operations", len(completed)).Warn("Rollback started")

	ordered := c.unwindOrder(completed)

	outcome := &RollbackOutcome{
		Trigger: trigger,
		Steps:   make([]RollbackStep, 0, len(ordered)),
	}

	stopped := false
	for _, item := range ordered {
		if stopped {
			outcome.Steps = append(outcome.Steps, RollbackStep{
				OperationID: item.Operation.ID,
				Type:        item.Operation.Type,
				Status:      RollbackStepNotAttempted,
			})
			continue
		}

		step := c.compensate(ctx, item)
		outcome.Steps = append(outcome.Steps, step)
		outcome.TotalCost += step.Cost

		if step.Status == RollbackStepFailed {
			outcome.FailedSteps = append(outcome.FailedSteps, step.OperationID)
			logger.WithField("operation_id", step.OperationID).
				WithField("error", step.Error).
				Error("Compensation failed")
			if c.policy.StopOnFailure {
				stopped = true
			}
		}
	}

	outcome.Succeeded = len(outcome.FailedSteps) == 0
	outcome.Duration = time.Since(started)

	compensated := 0
	for _, step := range outcome.Steps {
		if step.Status == RollbackStepCompensated {
			compensated++
		}
	}
	telemetry.RecordRollback(ctx, string(trigger), compensated, len(outcome.FailedSteps), outcome.Duration)
	logger.WithFields(map[string]interface{}{
		"compensated": compensated,
		"failed":      len(outcome.FailedSteps),
		"cost":        outcome.TotalCost,
	}).Info("Rollback finished")

	return outcome
}

// unwindOrder sorts a copy of completed into unwind order.
func (c *RollbackCoordinator) unwindOrder(completed []CompletedOperation) []CompletedOperation {
	ordered := make([]CompletedOperation, len(completed))
	copy(ordered, completed)

	switch c.policy.Order {
	case RollbackReversePlan:
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].PlanIndex > ordered[j].PlanIndex
		})
	default:
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Sequence > ordered[j].Sequence
		})
	}
	return ordered
}

// compensate runs the compensating action for one operation.
func (c *RollbackCoordinator) compensate(ctx context.Context, item CompletedOperation) (step RollbackStep) {
	step = RollbackStep{
		OperationID: item.Operation.ID,
		Type:        item.Operation.Type,
	}

	if c.compensator == nil {
		step.Status = RollbackStepNotCompensable
		step.Error = "no compensator configured"
		return step
	}

	started := time.Now()
	defer func() { step.Duration = time.Since(started) }()

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		step.Attempts = attempt

		outcome, err := c.call(ctx, item)
		if outcome != nil {
			step.Cost += outcome.Cost
		}

		if err == nil && outcome != nil && outcome.Success {
			step.Status = RollbackStepCompensated
			step.Error = ""
			return step
		}

		if errors.Is(err, ErrNotCompensable) {
			step.Status = RollbackStepNotCompensable
			step.Error = err.Error()
			return step
		}

		if err == nil {
			message := "compensation reported failure"
			if outcome != nil && outcome.Error != "" {
				message = outcome.Error
			}
			err = errors.New(message)
		}

		classified := Classify(err)
		step.Status = RollbackStepFailed
		step.Error = classified.Error()
		if !classified.Recoverable() {
			return step
		}
	}

	return step
}

// call invokes the compensator, converting a panic into a permanent error.
func (c *RollbackCoordinator) call(ctx context.Context, item CompletedOperation) (outcome *OperationOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			outcome = nil
			err = NewPermanentError(fmt.Sprintf("compensator panicked: %v", p), nil).WithCode(ErrCodeRollbackFailed)
		}
	}()
	return c.compensator.Compensate(ctx, item.Operation, item.Result)
}
