package engine

import (
	"errors"
	"strings"
	"testing"
)

func TestDAGBuilder_Build_EmptyOperations(t *testing.T) {
	graph, err := NewDAGBuilder().Build(nil, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(graph.Order) != 0 {
		t.Errorf("Expected empty order, got %v", graph.Order)
	}
	if graph.Depth != 0 {
		t.Errorf("Expected depth 0, got %d", graph.Depth)
	}
}

func TestDAGBuilder_Build_LinearDependencies(t *testing.T) {
	ops := []Operation{
		swapOp("c", "pool-c", "b"),
		swapOp("b", "pool-b", "a"),
		swapOp("a", "pool-a"),
	}
	deps := map[string][]string{"c": {"b"}, "b": {"a"}}

	graph, err := NewDAGBuilder().Build(ops, deps)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !equalStrings(graph.Order, []string{"a", "b", "c"}) {
		t.Errorf("Expected order [a b c], got %v", graph.Order)
	}
	if graph.Depth != 3 {
		t.Errorf("Expected depth 3, got %d", graph.Depth)
	}
	if !equalStrings(graph.Roots, []string{"a"}) {
		t.Errorf("Expected roots [a], got %v", graph.Roots)
	}
	if len(graph.Edges) != 2 {
		t.Errorf("Expected 2 edges, got %d", len(graph.Edges))
	}
}

func TestDAGBuilder_Build_DiamondDependencies(t *testing.T) {
	ops := []Operation{
		swapOp("top", "pool-1"),
		swapOp("left", "pool-2", "top"),
		swapOp("right", "pool-3", "top"),
		swapOp("bottom", "pool-4", "left", "right"),
	}
	deps := map[string][]string{
		"left":   {"top"},
		"right":  {"top"},
		"bottom": {"left", "right"},
	}

	graph, err := NewDAGBuilder().Build(ops, deps)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := ValidateOrder(graph.Order, deps); err != nil {
		t.Errorf("Order is not topological: %v", err)
	}
	if len(graph.Levels) != 3 {
		t.Fatalf("Expected 3 levels, got %d", len(graph.Levels))
	}
	if !equalStrings(graph.Levels[1], []string{"left", "right"}) {
		t.Errorf("Expected level 1 [left right], got %v", graph.Levels[1])
	}
	if graph.Nodes["bottom"].Level != 2 {
		t.Errorf("Expected bottom at level 2, got %d", graph.Nodes["bottom"].Level)
	}
}

func TestDAGBuilder_Build_PriorityTieBreak(t *testing.T) {
	low := swapOp("low", "pool-1")
	high := swapOp("high", "pool-2")
	high.Priority = 10
	mid := swapOp("mid", "pool-3")
	mid.Priority = 5
	first := swapOp("first", "pool-4")
	second := swapOp("second", "pool-5")

	ops := []Operation{low, high, mid, first, second}

	graph, err := NewDAGBuilder().Build(ops, map[string][]string{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []string{"high", "mid", "low", "first", "second"}
	if !equalStrings(graph.Order, want) {
		t.Errorf("Expected order %v, got %v", want, graph.Order)
	}
}

func TestDAGBuilder_Build_PriorityNeverBreaksDependencies(t *testing.T) {
	base := swapOp("base", "pool-1")
	urgent := swapOp("urgent", "pool-2", "base")
	urgent.Priority = 100

	deps := map[string][]string{"urgent": {"base"}}
	graph, err := NewDAGBuilder().Build([]Operation{base, urgent}, deps)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !equalStrings(graph.Order, []string{"base", "urgent"}) {
		t.Errorf("Expected dependency to run first, got %v", graph.Order)
	}
}

func TestDAGBuilder_DetectCycles_SimpleCycle(t *testing.T) {
	ops := []Operation{
		swapOp("a", "pool-1", "b"),
		swapOp("b", "pool-2", "a"),
	}
	deps := map[string][]string{"a": {"b"}, "b": {"a"}}

	_, err := NewDAGBuilder().Build(ops, deps)
	if err == nil {
		t.Fatal("Expected error for cycle")
	}
	if !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("Expected CYCLIC_DEPENDENCY, got %v", err)
	}
	if !strings.Contains(err.Error(), "circular dependency") {
		t.Errorf("Expected circular dependency message, got %v", err)
	}
}

func TestDAGBuilder_DetectCycles_ReportsPath(t *testing.T) {
	ops := []Operation{
		swapOp("a", "pool-1"),
		swapOp("b", "pool-2", "a", "d"),
		swapOp("c", "pool-3", "b"),
		swapOp("d", "pool-4", "c"),
	}
	deps := map[string][]string{"b": {"a", "d"}, "c": {"b"}, "d": {"c"}}

	_, err := NewDAGBuilder().Build(ops, deps)

	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("Expected EngineError, got %v", err)
	}
	cycle, ok := engineErr.Details["cycle"].([]string)
	if !ok {
		t.Fatalf("Expected cycle detail, got %v", engineErr.Details)
	}
	if cycle[0] != cycle[len(cycle)-1] {
		t.Errorf("Expected cycle to start and end at the same node, got %v", cycle)
	}
	for _, id := range cycle {
		if id == "a" {
			t.Errorf("Expected a to be outside the cycle, got %v", cycle)
		}
	}
}

func TestDAGBuilder_UnknownDependency(t *testing.T) {
	ops := []Operation{swapOp("a", "pool-1")}
	deps := map[string][]string{"a": {"ghost"}}

	_, err := NewDAGBuilder().Build(ops, deps)
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("Expected UNKNOWN_DEPENDENCY, got %v", err)
	}
}

func TestDAGBuilder_DuplicateIDs(t *testing.T) {
	ops := []Operation{swapOp("a", "pool-1"), swapOp("a", "pool-2")}

	_, err := NewDAGBuilder().Build(ops, nil)

	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != ErrCodeDuplicateOperation {
		t.Errorf("Expected DUPLICATE_OPERATION, got %v", err)
	}
}

func TestValidateOrder(t *testing.T) {
	deps := map[string][]string{"b": {"a"}}

	if err := ValidateOrder([]string{"a", "b"}, deps); err != nil {
		t.Errorf("Expected valid order, got %v", err)
	}
	if err := ValidateOrder([]string{"b", "a"}, deps); err == nil {
		t.Error("Expected error for reversed order")
	}
}

func TestToDOT(t *testing.T) {
	plan := mustPlan(t, []Operation{
		createOp("create", "pool-a"),
		swapOp("swap", "pool-b"),
		addOp("add", "pool-a", "swap"),
	}, PlanOptions{})

	dot := ToDOT(plan)

	if !strings.HasPrefix(dot, "digraph ExecutionPlan {") {
		t.Errorf("Expected digraph header, got %q", dot)
	}
	if !strings.Contains(dot, `"swap" -> "add" [style=solid`) {
		t.Error("Expected explicit edge to be solid")
	}
	if !strings.Contains(dot, `"create" -> "add" [style=dashed`) {
		t.Error("Expected implicit edge to be dashed")
	}
}
