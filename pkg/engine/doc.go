// Package engine plans and executes batches of liquidity operations against a
// remote execution venue.
//
// # Overview
//
// A batch flows through three stages:
//
//  1. Plan - validate operations, derive dependencies, order and group them (Planner)
//  2. Execute - run the plan under a strategy and failure policy (Engine)
//  3. Rollback - compensate completed operations when a trigger fires (RollbackCoordinator)
//
// # Operations
//
// An Operation is one state-changing request against a pool: create a
// position, add or remove liquidity, swap, rebalance, claim fees or close a
// position. Each type carries its own Params variant. Operations on the same
// resource key (pool and user) are ordered by implicit rules; callers add
// explicit edges through DependsOn.
//
// # Planning
//
// The Planner rejects invalid operations with a warning and keeps planning the
// rest. Duplicate IDs, unknown dependencies and cycles fail the whole batch:
//
//	planner := engine.NewPlanner()
//	plan, err := planner.Plan(ctx, ops, engine.PlanOptions{Strategy: engine.StrategyDependency})
//	if errors.Is(err, engine.ErrCyclicDependency) {
//	    // the batch cannot be ordered
//	}
//
// # Execution
//
// The Engine runs a plan with one of four strategies:
//
//   - sequential: one operation at a time in plan order
//   - parallel: windows of BatchSize operations, joined before the next window
//   - hybrid: the plan's groups in order, each group concurrently
//   - dependency: rounds of ready operations until all are terminal
//
// Concurrency never exceeds MaxConcurrency. Operations that conflict on a
// resource key never run at the same time unless both types are safe-parallel.
// Failure handling decides whether the run continues after a failure:
// abort_all, continue_on_failure, retry_failed or rollback_partial.
//
// Every operation yields exactly one OperationResult. Once a run has started,
// failures are reported in the ExecutionResult rather than as an error.
//
// # Errors
//
// Executor errors are classified into transient, throttled, conflict and
// permanent classes. Timeouts, rate limits, insufficient fees and stale block
// references are recoverable and may be retried under retry_failed.
package engine
