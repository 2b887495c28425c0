package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// Mock policy evaluator for testing
type mockPolicy struct {
	result *PolicyResult
	err    error
	calls  int
}

func (m *mockPolicy) EvaluatePlan(ctx context.Context, plan *ExecutionPlan) (*PolicyResult, error) {
	m.calls++
	return m.result, m.err
}

// Mock plan recorder for testing
type mockRecorder struct {
	plans []*ExecutionPlan
}

func (m *mockRecorder) SavePlan(ctx context.Context, plan *ExecutionPlan) error {
	m.plans = append(m.plans, plan)
	return nil
}

func TestNewPlanner(t *testing.T) {
	planner := NewPlanner()

	if planner == nil {
		t.Fatal("Expected non-nil planner")
	}
	if planner.analyzer == nil {
		t.Error("Expected analyzer to be initialized")
	}
	if planner.validate == nil {
		t.Error("Expected validator to be initialized")
	}
}

func TestPlanner_Plan_NoOperations(t *testing.T) {
	_, err := NewPlanner().Plan(context.Background(), nil, PlanOptions{})

	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != ErrCodeNoOperations {
		t.Errorf("Expected NO_OPERATIONS, got %v", err)
	}
}

func TestPlanner_Plan_DuplicateIDs(t *testing.T) {
	ops := []Operation{swapOp("s1", "pool-a"), swapOp("s1", "pool-b")}

	_, err := NewPlanner().Plan(context.Background(), ops, PlanOptions{})

	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != ErrCodeDuplicateOperation {
		t.Errorf("Expected DUPLICATE_OPERATION, got %v", err)
	}
}

func TestPlanner_Plan_Success(t *testing.T) {
	ops := []Operation{
		closeOp("close", "pool-a"),
		addOp("add", "pool-a"),
		createOp("create", "pool-a"),
		swapOp("swap", "pool-b"),
	}

	plan, err := NewPlanner().Plan(context.Background(), ops, PlanOptions{Strategy: StrategyDependency})
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}

	if plan.ID == "" {
		t.Error("Expected plan ID to be set")
	}
	if plan.Strategy != StrategyDependency {
		t.Errorf("Expected strategy dependency, got %s", plan.Strategy)
	}
	if len(plan.Operations) != 4 {
		t.Fatalf("Expected 4 operations, got %d", len(plan.Operations))
	}
	if err := ValidateOrder(ids(plan.Operations), plan.Dependencies); err != nil {
		t.Errorf("Plan order is not topological: %v", err)
	}

	// ready operations are taken in submission order
	want := []string{"create", "add", "close", "swap"}
	if !equalStrings(ids(plan.Operations), want) {
		t.Errorf("Expected order %v, got %v", want, ids(plan.Operations))
	}

	if plan.Estimate.TotalCost <= 0 {
		t.Error("Expected positive estimated cost")
	}
	if plan.Execution.FailureHandling != FailureAbortAll {
		t.Errorf("Expected default failure handling abort_all, got %s", plan.Execution.FailureHandling)
	}
	if plan.Risk.MaxFailureRate != 0.5 {
		t.Errorf("Expected default failure rate 0.5, got %v", plan.Risk.MaxFailureRate)
	}
	if plan.Risk.MaxCostMultiplier != 2.0 {
		t.Errorf("Expected default cost multiplier 2.0, got %v", plan.Risk.MaxCostMultiplier)
	}
	if plan.Rollback.Order != RollbackReverseCompletion {
		t.Errorf("Expected default rollback order reverse_completion, got %s", plan.Rollback.Order)
	}
}

func TestPlanner_Plan_DoesNotMutateInput(t *testing.T) {
	ops := []Operation{
		createOp("create", "pool-a"),
		addOp("add", "pool-a"),
	}

	_, err := NewPlanner().Plan(context.Background(), ops, PlanOptions{})
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}

	for _, op := range ops {
		if op.ResourceKey != "" {
			t.Errorf("Expected input ResourceKey to stay empty, got %s", op.ResourceKey)
		}
		if op.EstimatedCost != 0 {
			t.Errorf("Expected input EstimatedCost to stay 0, got %v", op.EstimatedCost)
		}
	}
}

func TestPlanner_Plan_InvalidOperationSkipped(t *testing.T) {
	bad := swapOp("bad", "pool-a")
	bad.Params = SwapParams{Pool: "pool-a", User: testUser, TokenIn: "USDC", TokenOut: "USDC", AmountIn: 100}

	mismatched := swapOp("mismatched", "pool-b")
	mismatched.Type = OperationClaimFees

	ops := []Operation{
		swapOp("good", "pool-c"),
		bad,
		mismatched,
		swapOp("follower", "pool-d", "bad"),
	}

	plan, err := NewPlanner().Plan(context.Background(), ops, PlanOptions{})
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}

	if !equalStrings(ids(plan.Operations), []string{"good"}) {
		t.Errorf("Expected only good to remain, got %v", ids(plan.Operations))
	}
	if len(plan.Rejected) != 3 {
		t.Fatalf("Expected 3 rejected operations, got %d", len(plan.Rejected))
	}
	if plan.Rejected[2].ID != "follower" || !strings.Contains(plan.Rejected[2].Reason, "rejected operation bad") {
		t.Errorf("Expected follower to be rejected because of bad, got %+v", plan.Rejected[2])
	}
	if len(plan.Warnings) == 0 {
		t.Error("Expected a warning about rejected operations")
	}
}

func TestPlanner_Plan_AllInvalid(t *testing.T) {
	bad := swapOp("bad", "pool-a")
	bad.Params = SwapParams{Pool: "pool-a"}

	_, err := NewPlanner().Plan(context.Background(), []Operation{bad}, PlanOptions{})

	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != ErrCodeNoOperations {
		t.Errorf("Expected NO_OPERATIONS, got %v", err)
	}
}

func TestPlanner_Plan_CyclicDependency(t *testing.T) {
	ops := []Operation{
		swapOp("a", "pool-1", "c"),
		swapOp("b", "pool-2", "a"),
		swapOp("c", "pool-3", "b"),
	}

	plan, err := NewPlanner().Plan(context.Background(), ops, PlanOptions{})
	if plan != nil {
		t.Error("Expected no plan for cyclic batch")
	}
	if !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("Expected CYCLIC_DEPENDENCY, got %v", err)
	}
}

func TestPlanner_Plan_UnknownDependency(t *testing.T) {
	ops := []Operation{swapOp("a", "pool-1", "ghost")}

	_, err := NewPlanner().Plan(context.Background(), ops, PlanOptions{})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("Expected UNKNOWN_DEPENDENCY, got %v", err)
	}
}

func TestPlanner_Plan_CostCap(t *testing.T) {
	expensive := swapOp("expensive", "pool-a")
	expensive.EstimatedCost = 5

	ops := []Operation{swapOp("cheap", "pool-b"), expensive}
	opts := PlanOptions{
		CostOptimization: CostOptimization{Enabled: true, MaxCostPerOperation: 1},
	}

	plan, err := NewPlanner().Plan(context.Background(), ops, opts)
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}

	if len(plan.Rejected) != 1 || plan.Rejected[0].ID != "expensive" {
		t.Errorf("Expected expensive to be rejected, got %+v", plan.Rejected)
	}
}

func TestPlanner_Plan_InvalidOptions(t *testing.T) {
	opts := PlanOptions{Strategy: "round_robin"}

	_, err := NewPlanner().Plan(context.Background(), []Operation{swapOp("a", "pool-1")}, opts)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected VALIDATION_ERROR, got %v", err)
	}
}

func TestPlanner_Plan_EstimatedCostMonotonic(t *testing.T) {
	ops := []Operation{
		swapOp("a", "pool-1"),
		swapOp("b", "pool-2"),
		swapOp("c", "pool-3"),
	}

	previous := 0.0
	for n := 1; n <= len(ops); n++ {
		plan := mustPlan(t, ops[:n], PlanOptions{})
		if plan.Estimate.TotalCost < previous {
			t.Errorf("Expected cost to grow with operations, got %v after %v", plan.Estimate.TotalCost, previous)
		}
		previous = plan.Estimate.TotalCost
	}
}

func TestPlanner_Plan_DurationEstimates(t *testing.T) {
	a := swapOp("a", "pool-1")
	a.EstimatedDuration = 10 * time.Second
	b := swapOp("b", "pool-2")
	b.EstimatedDuration = 20 * time.Second
	c := swapOp("c", "pool-3", "a")
	c.EstimatedDuration = 5 * time.Second
	ops := []Operation{a, b, c}

	tests := []struct {
		strategy Strategy
		want     time.Duration
	}{
		{StrategySequential, 35 * time.Second},
		{StrategyHybrid, 25 * time.Second},
		{StrategyDependency, 20 * time.Second},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			plan := mustPlan(t, ops, PlanOptions{Strategy: tt.strategy})
			if plan.Estimate.Duration != tt.want {
				t.Errorf("Expected duration %s, got %s", tt.want, plan.Estimate.Duration)
			}
		})
	}
}

func TestPlanner_Plan_PolicyDenied(t *testing.T) {
	policy := &mockPolicy{result: &PolicyResult{
		Allowed: false,
		Violations: []PolicyViolation{
			{Policy: "max_cost", Message: "too expensive", Severity: "error"},
		},
	}}

	planner := NewPlanner(WithPolicyEvaluator(policy))
	_, err := planner.Plan(context.Background(), []Operation{swapOp("a", "pool-1")}, PlanOptions{})

	if !errors.Is(err, ErrPolicyDenied) {
		t.Errorf("Expected POLICY_DENIED, got %v", err)
	}
	if policy.calls != 1 {
		t.Errorf("Expected policy to be evaluated once, got %d", policy.calls)
	}
}

func TestPlanner_Plan_PolicyWarningsAndRecorder(t *testing.T) {
	policy := &mockPolicy{result: &PolicyResult{
		Allowed:  true,
		Warnings: []string{"close without claim"},
	}}
	recorder := &mockRecorder{}

	planner := NewPlanner(WithPolicyEvaluator(policy), WithPlanRecorder(recorder))
	plan, err := planner.Plan(context.Background(), []Operation{swapOp("a", "pool-1")}, PlanOptions{})
	if err != nil {
		t.Fatalf("Failed to plan: %v", err)
	}

	found := false
	for _, w := range plan.Warnings {
		if w == "close without claim" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected policy warning in plan, got %v", plan.Warnings)
	}
	if len(recorder.plans) != 1 || recorder.plans[0].ID != plan.ID {
		t.Error("Expected plan to be recorded")
	}
}

func TestPlanner_Plan_RiskLevel(t *testing.T) {
	ops := make([]Operation, 0)
	for i := 0; i < 30; i++ {
		ops = append(ops, rebalanceOp(fmt.Sprintf("r%d", i), fmt.Sprintf("pool-%d", i)))
	}

	plan := mustPlan(t, ops, PlanOptions{Strategy: StrategyParallel})

	if plan.Expected.RiskLevel != RiskHigh {
		t.Errorf("Expected high risk for a large destructive parallel batch, got %s (score %.2f)",
			plan.Expected.RiskLevel, plan.Expected.RiskScore)
	}
	if plan.Expected.SuccessProbability >= 1 {
		t.Error("Expected success probability below 1")
	}
}
