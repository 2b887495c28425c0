package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openfroyo/liqbatch/pkg/telemetry"
)

// Planner validates a batch of operations and turns it into an ExecutionPlan.
type Planner struct {
	analyzer *DependencyAnalyzer
	validate *validator.Validate
	policy   PolicyEvaluator
	recorder PlanRecorder
	defaults PlanOptions
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithPolicyEvaluator evaluates every plan against risk policies before it is returned.
func WithPolicyEvaluator(policy PolicyEvaluator) PlannerOption {
	return func(p *Planner) { p.policy = policy }
}

// WithPlanRecorder persists every plan that is created.
func WithPlanRecorder(recorder PlanRecorder) PlannerOption {
	return func(p *Planner) { p.recorder = recorder }
}

// WithDefaultOptions replaces the options used to fill unset plan options.
func WithDefaultOptions(defaults PlanOptions) PlannerOption {
	return func(p *Planner) { p.defaults = defaults.Normalize(DefaultPlanOptions()) }
}

// NewPlanner creates a new planner.
func NewPlanner(opts ...PlannerOption) *Planner {
	p := &Planner{
		analyzer: NewDependencyAnalyzer(),
		validate: validator.New(),
		defaults: DefaultPlanOptions(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan builds an execution plan. Invalid operations are dropped and listed in
// the plan's Rejected field; duplicate IDs, unknown dependencies, cycles and
// policy denials fail the whole batch. The input slice is never modified.
func (p *Planner) Plan(ctx context.Context, ops []Operation, opts PlanOptions) (plan *ExecutionPlan, err error) {
	ic := telemetry.StartOperation(ctx, "engine.plan")
	ctx = ic.Ctx
	defer func() {
		ic.End(err)
		if err != nil {
			telemetry.RecordPlanningFailure(ctx, errorCode(err))
		}
	}()

	logger := telemetry.FromContext(ctx)

	opts = opts.Normalize(p.defaults)
	if err := p.validateOptions(opts); err != nil {
		return nil, err
	}

	if len(ops) == 0 {
		return nil, NewPermanentError("no operations submitted", nil).WithCode(ErrCodeNoOperations)
	}

	if err := checkDuplicates(ops); err != nil {
		return nil, err
	}

	accepted, rejected := p.validateOperations(ops, opts)
	for _, r := range rejected {
		logger.WithField("operation_id", r.ID).WithField("reason", r.Reason).Warn("Operation rejected")
	}
	if len(accepted) == 0 {
		return nil, NewPermanentError("no valid operations remain after validation", nil).
			WithCode(ErrCodeNoOperations).WithDetail("rejected", len(rejected))
	}

	explicit, err := p.analyzer.ExplicitEdges(accepted)
	if err != nil {
		return nil, err
	}
	implicit := p.analyzer.ImplicitEdges(accepted)
	deps := MergeDependencies(explicit, implicit)

	graph, err := NewDAGBuilder().Build(accepted, deps)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Operation, len(accepted))
	for _, op := range accepted {
		byID[op.ID] = op
	}
	ordered := make([]Operation, 0, len(graph.Order))
	for _, id := range graph.Order {
		ordered = append(ordered, byID[id])
	}

	groups := GroupOperations(ordered, deps, opts.Execution.MaxGroupSize)

	plan = &ExecutionPlan{
		ID:                   uuid.New().String(),
		CreatedAt:            time.Now(),
		Strategy:             opts.Strategy,
		Operations:           ordered,
		Dependencies:         deps,
		ExplicitDependencies: explicit,
		ImplicitDependencies: implicit,
		Groups:               groups,
		Levels:               graph.Levels,
		Execution:            opts.Execution,
		CostOptimization:     opts.CostOptimization,
		Risk:                 opts.Risk,
		Rollback:             opts.Rollback,
		Estimate:             estimatePlan(ordered, deps, groups, opts.Strategy),
		Expected:             expectResult(ordered, opts),
		Rejected:             rejected,
		Warnings:             planWarnings(rejected, opts),
	}

	if p.policy != nil {
		result, err := p.policy.EvaluatePlan(ctx, plan)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate plan policies: %w", err)
		}
		plan.Policy = result
		plan.Warnings = append(plan.Warnings, result.Warnings...)
		if !result.Allowed {
			return nil, policyDenied(result)
		}
	}

	if p.recorder != nil {
		if err := p.recorder.SavePlan(ctx, plan); err != nil {
			logger.WithError(err).Warn("Failed to record plan")
		}
	}

	telemetry.RecordPlanCreated(ctx, plan.ID, string(plan.Strategy), len(plan.Operations), plan.Estimate.TotalCost)
	logger.WithFields(map[string]interface{}{
		"plan_id":        plan.ID,
		"strategy":       plan.Strategy,
		"operations":     len(plan.Operations),
		"rejected":       len(plan.Rejected),
		"estimated_cost": plan.Estimate.TotalCost,
		"risk_level":     plan.Expected.RiskLevel,
	}).Info("Plan created")

	return plan, nil
}

// validateOptions checks the normalized plan options.
func (p *Planner) validateOptions(opts PlanOptions) error {
	if err := p.validate.Struct(opts); err != nil {
		return NewPermanentError("invalid plan options", err).WithCode(ErrCodeValidation)
	}
	if err := opts.validateEnums(); err != nil {
		return NewPermanentError("invalid plan options", err).WithCode(ErrCodeValidation)
	}
	return nil
}

// checkDuplicates fails when two operations share an ID.
func checkDuplicates(ops []Operation) error {
	seen := make(map[string]bool, len(ops))
	for _, op := range ops {
		if op.ID == "" {
			continue
		}
		if seen[op.ID] {
			return NewPermanentError(fmt.Sprintf("duplicate operation ID: %s", op.ID), nil).
				WithCode(ErrCodeDuplicateOperation).WithOperation(op.ID)
		}
		seen[op.ID] = true
	}
	return nil
}

// validateOperations copies and validates every operation. Operations that
// depend on a rejected operation are rejected as well.
func (p *Planner) validateOperations(ops []Operation, opts PlanOptions) ([]Operation, []RejectedOperation) {
	rejected := make([]RejectedOperation, 0)
	rejectedIDs := make(map[string]bool)
	candidates := make([]Operation, 0, len(ops))

	for _, op := range ops {
		c := op.clone()
		if reason := p.validateOperation(c, opts); reason != "" {
			rejected = append(rejected, RejectedOperation{ID: c.ID, Type: c.Type, Reason: reason})
			if c.ID != "" {
				rejectedIDs[c.ID] = true
			}
			continue
		}
		if c.ResourceKey == "" {
			c.ResourceKey = c.Params.ResourceKey()
		}
		fillEstimates(&c)
		candidates = append(candidates, c)
	}

	// cascade until no more operations depend on a rejected one
	for changed := true; changed; {
		changed = false
		kept := candidates[:0]
		for _, op := range candidates {
			if dep := firstRejected(op.DependsOn, rejectedIDs); dep != "" {
				rejected = append(rejected, RejectedOperation{
					ID:     op.ID,
					Type:   op.Type,
					Reason: fmt.Sprintf("depends on rejected operation %s", dep),
				})
				rejectedIDs[op.ID] = true
				changed = true
				continue
			}
			kept = append(kept, op)
		}
		candidates = kept
	}

	return candidates, rejected
}

func firstRejected(deps []string, rejected map[string]bool) string {
	for _, dep := range deps {
		if rejected[dep] {
			return dep
		}
	}
	return ""
}

// validateOperation returns a rejection reason, or "" when the operation is valid.
func (p *Planner) validateOperation(op Operation, opts PlanOptions) string {
	if op.ID == "" {
		return "operation has empty ID"
	}
	if err := op.Type.Validate(); err != nil {
		return err.Error()
	}
	if op.Params == nil {
		return "operation has no parameters"
	}
	if op.Params.OperationType() != op.Type {
		return fmt.Sprintf("parameters are for %s, not %s", op.Params.OperationType(), op.Type)
	}
	if err := p.validate.Struct(op.Params); err != nil {
		return fmt.Sprintf("invalid parameters: %v", err)
	}
	if op.EstimatedCost < 0 {
		return "estimated cost is negative"
	}
	if op.EstimatedDuration < 0 {
		return "estimated duration is negative"
	}
	if op.Timeout < 0 {
		return "timeout is negative"
	}

	maxCost := opts.CostOptimization.MaxCostPerOperation
	if opts.CostOptimization.Enabled && maxCost > 0 && op.EstimatedCost > maxCost {
		return fmt.Sprintf("estimated cost %.6f exceeds per-operation cap %.6f", op.EstimatedCost, maxCost)
	}

	return ""
}

// planWarnings collects non-fatal observations about the plan.
func planWarnings(rejected []RejectedOperation, opts PlanOptions) []string {
	warnings := make([]string, 0)
	if len(rejected) > 0 {
		ids := make([]string, len(rejected))
		for i, r := range rejected {
			ids[i] = r.ID
		}
		warnings = append(warnings, fmt.Sprintf("%d operation(s) rejected: %s", len(rejected), strings.Join(ids, ", ")))
	}
	if opts.Rollback.Enabled && !opts.Rollback.Automatic {
		warnings = append(warnings, "rollback is enabled but not automatic; triggers will only be reported")
	}
	if opts.Execution.FailureHandling == FailureRollbackPartial && !(opts.Rollback.Enabled && opts.Rollback.Automatic) {
		warnings = append(warnings, "rollback_partial halts on failure but automatic rollback is disabled")
	}
	return warnings
}

// policyDenied builds the planning error for a denied plan.
func policyDenied(result *PolicyResult) *EngineError {
	messages := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		messages = append(messages, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return NewPermanentError(
		fmt.Sprintf("plan denied by policy: %s", strings.Join(messages, "; ")), nil,
	).WithCode(ErrCodePolicyDenied).WithDetail("violations", result.Violations)
}

// errorCode extracts the engine error code, if any.
func errorCode(err error) string {
	if e := Classify(err); e != nil && e.Code != "" {
		return e.Code
	}
	return ErrCodeInternal
}
