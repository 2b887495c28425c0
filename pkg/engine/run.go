package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/liqbatch/pkg/telemetry"
)

// executionRun holds the control-flow state of one Execute call. Every field
// except the ExecutionContext's cancel flag is owned by the goroutine that
// calls execute; worker goroutines only run attempt and return values.
type executionRun struct {
	engine *Engine
	ctx    context.Context
	ec     *ExecutionContext
	plan   *ExecutionPlan
	opts   PlanOptions

	byID  map[string]Operation
	index map[string]int

	results     map[string]*OperationResult
	completions []string

	succeeded int
	failed    int
	skipped   int
	cost      float64
	retries   int
	cacheHits int

	errors     []ExecutionError
	haltReason string
	haltCode   string
	trigger    RollbackTrigger
	aborted    bool
	halted     bool

	rollback *RollbackOutcome
}

// batchSource returns the next batch of operations to dispatch, or nil when
// the strategy has nothing left.
type batchSource func() []Operation

func newExecutionRun(e *Engine, ctx context.Context, ec *ExecutionContext) *executionRun {
	plan := ec.Plan
	r := &executionRun{
		engine:  e,
		ctx:     ctx,
		ec:      ec,
		plan:    plan,
		byID:    make(map[string]Operation, len(plan.Operations)),
		index:   make(map[string]int, len(plan.Operations)),
		results: make(map[string]*OperationResult, len(plan.Operations)),
		opts: PlanOptions{
			Strategy:         plan.Strategy,
			Execution:        plan.Execution,
			CostOptimization: plan.CostOptimization,
			Risk:             plan.Risk,
			Rollback:         plan.Rollback,
		}.Normalize(DefaultPlanOptions()),
	}
	for i, op := range plan.Operations {
		r.byID[op.ID] = op
		r.index[op.ID] = i
	}
	return r
}

// execute runs the plan under its strategy and builds the final result.
func (r *executionRun) execute() *ExecutionResult {
	logger := telemetry.FromContext(r.ctx)
	logger.WithFields(map[string]interface{}{
		"strategy":         r.plan.Strategy,
		"operations":       len(r.plan.Operations),
		"failure_handling": r.opts.Execution.FailureHandling,
	}).Info("Execution started")

	var next batchSource
	switch r.plan.Strategy {
	case StrategySequential:
		next = r.sequentialBatches()
	case StrategyParallel:
		next = r.parallelBatches()
	case StrategyHybrid:
		next = r.hybridBatches()
	case StrategyDependency:
		next = r.dependencyBatches()
	}

	r.loop(next)
	r.skipRemaining()
	r.maybeRollback()

	result := r.buildResult()
	logger.WithFields(map[string]interface{}{
		"status":      result.Status,
		"succeeded":   result.Metrics.Succeeded,
		"failed":      result.Metrics.Failed,
		"skipped":     result.Metrics.Skipped,
		"total_cost":  result.TotalCost,
		"duration_ms": result.Duration.Milliseconds(),
		"rolled_back": result.RollbackExecuted,
	}).Info("Execution finished")

	return result
}

// loop dispatches batches until the source is exhausted or the run halts.
func (r *executionRun) loop(next batchSource) {
	for {
		if r.checkInterrupts() {
			return
		}

		batch := next()
		if len(batch) == 0 {
			return
		}

		runnable := r.filterDependencies(batch)
		results := r.dispatch(runnable)

		failedNow := make([]string, 0)
		for _, res := range results {
			r.record(res)
			if res.Status == OperationStatusFailed {
				failedNow = append(failedNow, res.OperationID)
			}
		}

		if len(failedNow) > 0 && r.applyFailurePolicy(failedNow[0]) {
			return
		}
		if r.checkThresholds() {
			return
		}
	}
}

// dispatch runs a batch. Single operations run inline; larger batches run
// concurrently, bounded by MaxConcurrency, and are joined before returning.
// One operation's failure does not cancel its siblings.
func (r *executionRun) dispatch(batch []Operation) []OperationResult {
	if len(batch) == 0 {
		return nil
	}
	if len(batch) == 1 {
		return []OperationResult{r.attempt(batch[0])}
	}

	results := make([]OperationResult, len(batch))
	var g errgroup.Group
	g.SetLimit(r.opts.Execution.MaxConcurrency)
	for i, op := range batch {
		i, op := i, op
		g.Go(func() error {
			results[i] = r.attempt(op)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// filterDependencies records skip results for operations whose dependencies
// did not succeed, and returns the operations that may run.
func (r *executionRun) filterDependencies(batch []Operation) []Operation {
	runnable := make([]Operation, 0, len(batch))
	for _, op := range batch {
		if _, done := r.results[op.ID]; done {
			continue
		}

		if dep, reason := r.blockingDependency(op); dep != "" {
			if r.opts.Execution.DependencyFailureMode == DependencyFailureSkip || reason == "has not completed" {
				r.recordSkip(op, fmt.Sprintf("dependency %s %s", dep, reason), ErrCodeDependencyFailed)
				continue
			}
		}
		runnable = append(runnable, op)
	}
	return runnable
}

// blockingDependency returns the first dependency that did not succeed.
func (r *executionRun) blockingDependency(op Operation) (string, string) {
	for _, dep := range r.plan.Dependencies[op.ID] {
		res, ok := r.results[dep]
		if !ok {
			return dep, "has not completed"
		}
		switch res.Status {
		case OperationStatusFailed:
			return dep, "failed"
		case OperationStatusSkipped:
			return dep, "was skipped"
		}
	}
	return "", ""
}

// record stores a result, replacing any earlier result for the same operation.
func (r *executionRun) record(res OperationResult) {
	if prev, exists := r.results[res.OperationID]; exists {
		r.uncount(prev)
	}

	stored := res
	r.results[res.OperationID] = &stored
	r.count(&stored)
	r.ec.completed.Store(int64(len(r.results)))

	if stored.Status == OperationStatusSuccess && !stored.Cached {
		r.completions = append(r.completions, stored.OperationID)
	}
	if stored.Status == OperationStatusFailed && stored.Error != nil {
		r.errors = append(r.errors, ExecutionError{
			OperationID: stored.OperationID,
			Class:       stored.Error.Class,
			Code:        stored.Error.Code,
			Message:     stored.Error.Error(),
			Recoverable: stored.Error.Recoverable(),
		})
	}

	if r.ec.progress != nil {
		r.ec.progress(Progress{
			ExecutionID: r.ec.ID,
			Completed:   len(r.results),
			Total:       r.ec.total,
			OperationID: stored.OperationID,
			Status:      stored.Status,
		})
	}
}

func (r *executionRun) count(res *OperationResult) {
	switch res.Status {
	case OperationStatusSuccess:
		r.succeeded++
	case OperationStatusFailed:
		r.failed++
	case OperationStatusSkipped:
		r.skipped++
	}
	r.cost += res.Cost
	if res.Attempts > 1 {
		r.retries += res.Attempts - 1
	}
	if res.Cached {
		r.cacheHits++
	}
}

func (r *executionRun) uncount(res *OperationResult) {
	switch res.Status {
	case OperationStatusSuccess:
		r.succeeded--
	case OperationStatusFailed:
		r.failed--
	case OperationStatusSkipped:
		r.skipped--
	}
	r.cost -= res.Cost
	if res.Attempts > 1 {
		r.retries -= res.Attempts - 1
	}
	if res.Cached {
		r.cacheHits--
	}
}

// recordSkip records a skipped result for an operation that never ran.
func (r *executionRun) recordSkip(op Operation, reason, code string) {
	now := time.Now()
	telemetry.RecordOperationSkipped(r.ctx, r.ec.ID, op.ID, string(op.Type), reason)
	r.record(OperationResult{
		OperationID: op.ID,
		Type:        op.Type,
		ResourceKey: op.Target(),
		Status:      OperationStatusSkipped,
		Error:       NewPermanentError(reason, nil).WithCode(code).WithOperation(op.ID),
		SkipReason:  reason,
		StartedAt:   now,
		CompletedAt: now,
		Metadata:    operationMetadata(op),
	})
}

// applyFailurePolicy reacts to failures in the last batch and reports
// whether the run must halt.
func (r *executionRun) applyFailurePolicy(failedID string) bool {
	switch r.opts.Execution.FailureHandling {
	case FailureAbortAll:
		r.halt(fmt.Sprintf("operation %s failed and failure handling is abort_all", failedID), "", false)
		return true
	case FailureRollbackPartial:
		r.halt(fmt.Sprintf("operation %s failed and failure handling is rollback_partial", failedID), TriggerOperationFailure, false)
		return true
	default:
		return false
	}
}

// checkInterrupts checks cancellation and the time limit before a batch.
func (r *executionRun) checkInterrupts() bool {
	if r.ec.Cancelled() {
		r.halt("cancelled by caller", TriggerCallerAbort, true)
		return true
	}
	if limit := r.opts.Risk.MaxExecutionTime; limit > 0 && time.Since(r.ec.StartedAt) > limit {
		r.halt(fmt.Sprintf("time limit %s exceeded", limit), TriggerTimeLimit, true)
		return true
	}
	return false
}

// checkThresholds applies the emergency-stop thresholds after a batch.
func (r *executionRun) checkThresholds() bool {
	attempted := r.succeeded + r.failed
	if attempted >= r.opts.Risk.MinSampleSize && attempted > 0 {
		rate := float64(r.failed) / float64(attempted)
		if rate > r.opts.Risk.MaxFailureRate {
			r.halt(fmt.Sprintf("failure rate %.2f exceeds threshold %.2f", rate, r.opts.Risk.MaxFailureRate),
				TriggerFailureRate, true)
			return true
		}
	}

	if estimate := r.plan.Estimate.TotalCost; estimate > 0 {
		limit := estimate * r.opts.Risk.MaxCostMultiplier
		if r.cost > limit {
			r.halt(fmt.Sprintf("measured cost %.6f exceeds %.1fx estimate %.6f", r.cost, r.opts.Risk.MaxCostMultiplier, estimate),
				TriggerCostExhausted, true)
			return true
		}
	}

	return false
}

// halt stops dispatching. Emergency stops mark the run aborted.
func (r *executionRun) halt(reason string, trigger RollbackTrigger, emergency bool) {
	r.halted = true
	r.haltReason = reason
	r.trigger = trigger
	r.aborted = emergency
	telemetry.FromContext(r.ctx).WithField("reason", reason).Warn("Execution halted")
}

// skipRemaining records a skip result for every operation without one.
func (r *executionRun) skipRemaining() {
	reason := "not executed"
	code := ErrCodeExecutionFailed
	if r.halted {
		reason = "execution halted: " + r.haltReason
		switch {
		case r.haltCode != "":
			code = r.haltCode
		case r.trigger == TriggerCallerAbort:
			code = ErrCodeCancelled
		}
	}

	for _, op := range r.plan.Operations {
		if _, done := r.results[op.ID]; !done {
			r.recordSkip(op, reason, code)
		}
	}
}

// maybeRollback runs the rollback coordinator when the policy allows it and
// a configured trigger fired.
func (r *executionRun) maybeRollback() {
	policy := r.opts.Rollback
	if r.trigger == "" || !policy.Enabled || !policy.HasTrigger(r.trigger) {
		return
	}
	if !policy.Automatic {
		telemetry.FromContext(r.ctx).WithField("trigger", r.trigger).Warn("Rollback trigger fired but automatic rollback is disabled")
		return
	}
	if len(r.completions) == 0 {
		return
	}

	completed := make([]CompletedOperation, 0, len(r.completions))
	for i, id := range r.completions {
		completed = append(completed, CompletedOperation{
			Operation: r.byID[id],
			Result:    *r.results[id],
			Sequence:  i + 1,
			PlanIndex: r.index[id],
		})
	}

	coordinator := NewRollbackCoordinator(r.engine.compensator, policy)
	outcome := coordinator.Rollback(r.ctx, r.trigger, completed)
	r.rollback = outcome

	for _, step := range outcome.Steps {
		switch step.Status {
		case RollbackStepCompensated:
			res := r.results[step.OperationID]
			res.Status = OperationStatusRolledBack
			if res.Metadata == nil {
				res.Metadata = make(map[string]interface{})
			}
			res.Metadata["compensation_cost"] = step.Cost
		case RollbackStepFailed:
			r.errors = append(r.errors, ExecutionError{
				OperationID: step.OperationID,
				Class:       ErrorClassPermanent,
				Code:        ErrCodeRollbackFailed,
				Message:     fmt.Sprintf("compensation failed: %s", step.Error),
			})
		}
	}
}

// buildResult assembles the immutable execution result.
func (r *executionRun) buildResult() *ExecutionResult {
	completedAt := time.Now()
	duration := completedAt.Sub(r.ec.StartedAt)

	results := make([]OperationResult, 0, len(r.plan.Operations))
	var totalCost float64
	metrics := ExecutionMetrics{Total: len(r.plan.Operations)}
	for _, op := range r.plan.Operations {
		res := *r.results[op.ID]
		results = append(results, res)
		totalCost += res.Cost

		switch res.Status {
		case OperationStatusSuccess:
			metrics.Succeeded++
		case OperationStatusFailed:
			metrics.Failed++
		case OperationStatusSkipped:
			metrics.Skipped++
		case OperationStatusRolledBack:
			metrics.RolledBack++
		}
		if res.Attempts > 1 {
			metrics.Retries += res.Attempts - 1
		}
		if res.Cached {
			metrics.CacheHits++
		}
	}

	// rolled back operations completed before they were compensated
	completedOK := metrics.Succeeded + metrics.RolledBack
	if metrics.Total > 0 {
		metrics.SuccessRate = float64(completedOK) / float64(metrics.Total)
	}
	if secs := duration.Seconds(); secs > 0 {
		metrics.Throughput = float64(completedOK+metrics.Failed) / secs
	}

	status := r.status(completedOK, metrics.Total)

	return &ExecutionResult{
		ExecutionID:      r.ec.ID,
		PlanID:           r.plan.ID,
		Strategy:         r.plan.Strategy,
		Status:           status,
		State:            status.State(),
		Results:          results,
		TotalCost:        totalCost,
		EstimatedCost:    r.plan.Estimate.TotalCost,
		StartedAt:        r.ec.StartedAt,
		CompletedAt:      completedAt,
		Duration:         duration,
		Metrics:          metrics,
		Errors:           append([]ExecutionError(nil), r.errors...),
		HaltReason:       r.haltReason,
		RollbackExecuted: r.rollback != nil,
		Rollback:         r.rollback,
	}
}

// status derives the overall status from how the run ended.
func (r *executionRun) status(succeeded, total int) ExecutionStatus {
	switch {
	case r.rollback != nil:
		return ExecutionStatusRolledBack
	case r.aborted:
		return ExecutionStatusAborted
	case succeeded == total:
		return ExecutionStatusCompleted
	case succeeded == 0:
		return ExecutionStatusFailed
	default:
		return ExecutionStatusPartial
	}
}

// operationMetadata copies caller labels into result metadata.
func operationMetadata(op Operation) map[string]interface{} {
	if len(op.Metadata) == 0 {
		return nil
	}
	md := make(map[string]interface{}, len(op.Metadata))
	for k, v := range op.Metadata {
		md[k] = v
	}
	return md
}
