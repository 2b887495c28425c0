package engine

import (
	"errors"
	"testing"
)

func TestDependencyAnalyzer_ImplicitEdges_SameResource(t *testing.T) {
	ops := []Operation{
		createOp("create", "pool-a"),
		addOp("add", "pool-a"),
		removeOp("remove", "pool-a"),
		claimOp("claim", "pool-a"),
		rebalanceOp("rebalance", "pool-a"),
		closeOp("close", "pool-a"),
	}

	edges := NewDependencyAnalyzer().ImplicitEdges(ops)

	tests := []struct {
		id   string
		want []string
	}{
		{"create", []string{}},
		{"add", []string{"create"}},
		{"remove", []string{"create", "add"}},
		{"claim", []string{"create"}},
		{"rebalance", []string{"create", "add", "remove", "claim"}},
		{"close", []string{"create", "add", "remove", "claim", "rebalance"}},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if !equalStrings(edges[tt.id], tt.want) {
				t.Errorf("Expected %s to wait on %v, got %v", tt.id, tt.want, edges[tt.id])
			}
		})
	}
}

func TestDependencyAnalyzer_ImplicitEdges_DifferentResources(t *testing.T) {
	ops := []Operation{
		createOp("create", "pool-a"),
		addOp("add", "pool-b"),
		closeOp("close", "pool-c"),
	}

	edges := NewDependencyAnalyzer().ImplicitEdges(ops)

	for _, op := range ops {
		if len(edges[op.ID]) != 0 {
			t.Errorf("Expected no implicit edges for %s, got %v", op.ID, edges[op.ID])
		}
	}
}

func TestDependencyAnalyzer_ImplicitEdges_RepeatedRebalanceAndClose(t *testing.T) {
	ops := []Operation{
		rebalanceOp("r1", "pool-a"),
		rebalanceOp("r2", "pool-a"),
		closeOp("c1", "pool-a"),
		closeOp("c2", "pool-a"),
	}

	edges := NewDependencyAnalyzer().ImplicitEdges(ops)

	if !equalStrings(edges["r1"], []string{}) {
		t.Errorf("Expected r1 to have no edges, got %v", edges["r1"])
	}
	if !equalStrings(edges["r2"], []string{"r1"}) {
		t.Errorf("Expected r2 to wait on r1, got %v", edges["r2"])
	}
	if !equalStrings(edges["c2"], []string{"r1", "r2", "c1"}) {
		t.Errorf("Expected c2 to wait on r1, r2, c1, got %v", edges["c2"])
	}
}

func TestDependencyAnalyzer_ImplicitEdges_SwapsAreIndependent(t *testing.T) {
	ops := []Operation{
		swapOp("s1", "pool-a"),
		swapOp("s2", "pool-a"),
		claimOp("claim", "pool-a"),
	}

	edges := NewDependencyAnalyzer().ImplicitEdges(ops)

	for _, op := range ops {
		if len(edges[op.ID]) != 0 {
			t.Errorf("Expected no implicit edges for %s, got %v", op.ID, edges[op.ID])
		}
	}
}

func TestDependencyAnalyzer_ExplicitEdges_UnknownDependency(t *testing.T) {
	ops := []Operation{
		swapOp("s1", "pool-a", "missing"),
	}

	_, err := NewDependencyAnalyzer().ExplicitEdges(ops)
	if err == nil {
		t.Fatal("Expected error for unknown dependency")
	}
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("Expected UNKNOWN_DEPENDENCY, got %v", err)
	}
}

func TestDependencyAnalyzer_ExplicitEdges_SelfDependency(t *testing.T) {
	ops := []Operation{
		swapOp("s1", "pool-a", "s1"),
	}

	_, err := NewDependencyAnalyzer().ExplicitEdges(ops)
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("Expected UNKNOWN_DEPENDENCY for self dependency, got %v", err)
	}
}

func TestDependencyAnalyzer_ExplicitEdges_Deduplicates(t *testing.T) {
	ops := []Operation{
		swapOp("s1", "pool-a"),
		swapOp("s2", "pool-b", "s1", "s1"),
	}

	edges, err := NewDependencyAnalyzer().ExplicitEdges(ops)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !equalStrings(edges["s2"], []string{"s1"}) {
		t.Errorf("Expected s2 to depend on s1 once, got %v", edges["s2"])
	}
}

func TestDependencyAnalyzer_Analyze_MergesSources(t *testing.T) {
	ops := []Operation{
		createOp("create", "pool-a"),
		swapOp("swap", "pool-b"),
		addOp("add", "pool-a", "swap"),
	}

	deps, err := NewDependencyAnalyzer().Analyze(ops)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !equalStrings(deps["add"], []string{"create", "swap"}) {
		t.Errorf("Expected add to depend on create and swap, got %v", deps["add"])
	}
	if _, ok := deps["swap"]; !ok {
		t.Error("Expected every operation to appear as a key")
	}
}
