package engine

import (
	"fmt"
	"sort"
)

// DependencyAnalyzer derives the dependency graph of a batch. Implicit edges
// come from conflict rules between operations on the same resource key;
// explicit edges come from each operation's DependsOn list. The two sources
// are computed independently and merged by Analyze.
type DependencyAnalyzer struct{}

// NewDependencyAnalyzer creates a new dependency analyzer.
func NewDependencyAnalyzer() *DependencyAnalyzer {
	return &DependencyAnalyzer{}
}

// implicitWaitsOn lists, per operation type, the types it must wait for when
// they share a resource key. Rebalance and ClosePosition are handled
// separately because they also order against their own type.
var implicitWaitsOn = map[OperationType][]OperationType{
	OperationAddLiquidity:    {OperationCreatePosition},
	OperationRemoveLiquidity: {OperationCreatePosition, OperationAddLiquidity},
	OperationClaimFees:       {OperationCreatePosition},
}

// Analyze returns the merged dependency map: for each operation ID, the IDs it
// waits on. Every operation appears as a key. A dependency on an ID outside
// the batch fails with UNKNOWN_DEPENDENCY.
func (a *DependencyAnalyzer) Analyze(ops []Operation) (map[string][]string, error) {
	explicit, err := a.ExplicitEdges(ops)
	if err != nil {
		return nil, err
	}
	return MergeDependencies(explicit, a.ImplicitEdges(ops)), nil
}

// ExplicitEdges returns the caller-declared dependencies.
func (a *DependencyAnalyzer) ExplicitEdges(ops []Operation) (map[string][]string, error) {
	known := make(map[string]bool, len(ops))
	for _, op := range ops {
		known[op.ID] = true
	}

	edges := make(map[string][]string, len(ops))
	for _, op := range ops {
		deps := make([]string, 0, len(op.DependsOn))
		seen := make(map[string]bool, len(op.DependsOn))
		for _, dep := range op.DependsOn {
			if dep == op.ID {
				return nil, NewPermanentError(
					fmt.Sprintf("operation %s depends on itself", op.ID), nil,
				).WithCode(ErrCodeUnknownDependency).WithOperation(op.ID)
			}
			if !known[dep] {
				return nil, NewPermanentError(
					fmt.Sprintf("operation %s depends on unknown operation %s", op.ID, dep), nil,
				).WithCode(ErrCodeUnknownDependency).WithOperation(op.ID).WithDetail("dependency", dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			deps = append(deps, dep)
		}
		edges[op.ID] = deps
	}

	return edges, nil
}

// ImplicitEdges returns the dependencies derived from same-target conflict rules.
//
//   - AddLiquidity waits on CreatePosition.
//   - RemoveLiquidity waits on CreatePosition and AddLiquidity.
//   - ClaimFees waits on CreatePosition.
//   - Rebalance waits on every other operation except ClosePosition, and on
//     earlier Rebalances.
//   - ClosePosition waits on every other operation, and on earlier ClosePositions.
//
// The rules only point from lower to higher precedence, so they never form a cycle.
func (a *DependencyAnalyzer) ImplicitEdges(ops []Operation) map[string][]string {
	byTarget := make(map[string][]int)
	for i, op := range ops {
		target := op.Target()
		byTarget[target] = append(byTarget[target], i)
	}

	edges := make(map[string][]string, len(ops))
	for _, op := range ops {
		edges[op.ID] = make([]string, 0)
	}

	for _, indices := range byTarget {
		for _, wi := range indices {
			waiter := ops[wi]
			for _, di := range indices {
				if di == wi {
					continue
				}
				if waitsOn(waiter, wi, ops[di], di) {
					edges[waiter.ID] = append(edges[waiter.ID], ops[di].ID)
				}
			}
		}
	}

	return edges
}

// waitsOn reports whether waiter (at submission index wi) must wait for dep
// (at submission index di). Both share a resource key.
func waitsOn(waiter Operation, wi int, dep Operation, di int) bool {
	switch waiter.Type {
	case OperationRebalance:
		switch dep.Type {
		case OperationClosePosition:
			return false
		case OperationRebalance:
			return di < wi
		default:
			return true
		}
	case OperationClosePosition:
		if dep.Type == OperationClosePosition {
			return di < wi
		}
		return true
	}

	for _, t := range implicitWaitsOn[waiter.Type] {
		if dep.Type == t {
			return true
		}
	}
	return false
}

// MergeDependencies unions dependency maps. The result has sorted, unique
// dependency lists and contains every key of every input.
func MergeDependencies(sources ...map[string][]string) map[string][]string {
	merged := make(map[string][]string)
	sets := make(map[string]map[string]bool)

	for _, src := range sources {
		for id, deps := range src {
			if _, ok := sets[id]; !ok {
				sets[id] = make(map[string]bool)
			}
			for _, dep := range deps {
				sets[id][dep] = true
			}
		}
	}

	for id, set := range sets {
		deps := make([]string, 0, len(set))
		for dep := range set {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		merged[id] = deps
	}

	return merged
}
