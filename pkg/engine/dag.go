package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DAGBuilder builds a directed acyclic graph over a batch of operations.
// It detects cycles, computes a priority-aware topological order and assigns
// dependency levels.
type DAGBuilder struct {
	// ops maps operation IDs to their operations
	ops map[string]*Operation

	// index maps operation IDs to their submission position
	index map[string]int

	// dependents maps operation IDs to the operations waiting on them
	dependents map[string][]string

	// dependencies maps operation IDs to the operations they wait on
	dependencies map[string][]string

	// inDegree tracks the number of unfinished dependencies for each node
	inDegree map[string]int

	// ids holds operation IDs in submission order
	ids []string
}

// DependencyGraph is the built graph.
type DependencyGraph struct {
	// Nodes maps operation IDs to graph nodes.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Edges lists every dependency edge.
	Edges []GraphEdge `json:"edges"`

	// Roots lists operations without dependencies.
	Roots []string `json:"roots"`

	// Order is a topological order with priority tie-breaking.
	Order []string `json:"order"`

	// Levels groups operations by dependency depth.
	Levels [][]string `json:"levels"`

	// Depth is the number of levels.
	Depth int `json:"depth"`
}

// GraphNode is one operation in the graph.
type GraphNode struct {
	ID           string   `json:"id"`
	Level        int      `json:"level"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
}

// GraphEdge means From must complete before To starts.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		ops:          make(map[string]*Operation),
		index:        make(map[string]int),
		dependents:   make(map[string][]string),
		dependencies: make(map[string][]string),
		inDegree:     make(map[string]int),
	}
}

// Build constructs the graph for ops using the merged dependency map.
func (b *DAGBuilder) Build(ops []Operation, deps map[string][]string) (*DependencyGraph, error) {
	if len(ops) == 0 {
		return &DependencyGraph{
			Nodes:  make(map[string]*GraphNode),
			Edges:  make([]GraphEdge, 0),
			Roots:  make([]string, 0),
			Order:  make([]string, 0),
			Levels: make([][]string, 0),
		}, nil
	}

	if err := b.initialize(ops, deps); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	order, err := b.topologicalOrder()
	if err != nil {
		return nil, err
	}

	levels := b.computeLevels()

	return b.buildGraph(order, levels), nil
}

// initialize sets up the internal data structures.
func (b *DAGBuilder) initialize(ops []Operation, deps map[string][]string) error {
	for i := range ops {
		op := &ops[i]
		if op.ID == "" {
			return NewPermanentError("operation has empty ID", nil).
				WithCode(ErrCodeValidation)
		}

		if _, exists := b.ops[op.ID]; exists {
			return NewPermanentError(fmt.Sprintf("duplicate operation ID: %s", op.ID), nil).
				WithCode(ErrCodeDuplicateOperation).WithOperation(op.ID)
		}

		b.ops[op.ID] = op
		b.index[op.ID] = i
		b.ids = append(b.ids, op.ID)
		b.dependents[op.ID] = make([]string, 0)
		b.dependencies[op.ID] = make([]string, 0)
		b.inDegree[op.ID] = 0
	}

	for _, id := range b.ids {
		for _, dep := range deps[id] {
			if _, exists := b.ops[dep]; !exists {
				return NewPermanentError(
					fmt.Sprintf("operation %s depends on unknown operation %s", id, dep), nil,
				).WithCode(ErrCodeUnknownDependency).WithOperation(id)
			}

			// dependency must complete before the operation can start
			b.dependents[dep] = append(b.dependents[dep], id)
			b.dependencies[id] = append(b.dependencies[id], dep)
			b.inDegree[id]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range b.ids {
		if visited[id] {
			continue
		}
		if cycle := b.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
			return NewPermanentError(
				fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil,
			).WithCode(ErrCodeCyclicDependency).WithDetail("cycle", cycle)
		}
	}

	return nil
}

// detectCyclesUtil returns the cycle path as soon as a node is revisited while
// still on the recursion stack.
func (b *DAGBuilder) detectCyclesUtil(
	nodeID string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range b.dependents[nodeID] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					cycle := append([]string(nil), path[i:]...)
					return append(cycle, dependent)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// topologicalOrder runs Kahn's algorithm. Among ready operations the highest
// priority goes first, then the earliest submitted.
func (b *DAGBuilder) topologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegree[id] = degree
	}

	ready := make([]string, 0)
	for _, id := range b.ids {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(b.ids))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool {
			return b.before(ready[i], ready[j])
		})

		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range b.dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(b.ids) {
		return nil, NewPermanentError("failed to order all operations - possible cycle", nil).
			WithCode(ErrCodeInternal)
	}

	return order, nil
}

// before orders two ready operations: priority descending, then submission order.
func (b *DAGBuilder) before(x, y string) bool {
	px, py := b.ops[x].Priority, b.ops[y].Priority
	if px != py {
		return px > py
	}
	return b.index[x] < b.index[y]
}

// computeLevels assigns dependency levels. Operations in one level are
// independent of each other.
func (b *DAGBuilder) computeLevels() [][]string {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegree[id] = degree
	}

	current := make([]string, 0)
	for _, id := range b.ids {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	levels := make([][]string, 0)
	for len(current) > 0 {
		sort.SliceStable(current, func(i, j int) bool {
			return b.before(current[i], current[j])
		})
		levels = append(levels, current)

		next := make([]string, 0)
		for _, id := range current {
			for _, dependent := range b.dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	return levels
}

// buildGraph creates the final DependencyGraph structure.
func (b *DAGBuilder) buildGraph(order []string, levels [][]string) *DependencyGraph {
	graph := &DependencyGraph{
		Nodes:  make(map[string]*GraphNode, len(b.ids)),
		Edges:  make([]GraphEdge, 0),
		Roots:  make([]string, 0),
		Order:  order,
		Levels: levels,
		Depth:  len(levels),
	}

	for level, ids := range levels {
		for _, id := range ids {
			graph.Nodes[id] = &GraphNode{
				ID:           id,
				Level:        level,
				Dependencies: b.dependencies[id],
				Dependents:   b.dependents[id],
			}
			if level == 0 {
				graph.Roots = append(graph.Roots, id)
			}
		}
	}

	for _, id := range b.ids {
		for _, dep := range b.dependencies[id] {
			graph.Edges = append(graph.Edges, GraphEdge{From: dep, To: id})
		}
	}

	return graph
}

// ValidateOrder checks that order is a topological order of deps.
func ValidateOrder(order []string, deps map[string][]string) error {
	position := make(map[string]int, len(order))
	for i, id := range order {
		position[id] = i
	}

	for id, list := range deps {
		pos, ok := position[id]
		if !ok {
			continue
		}
		for _, dep := range list {
			depPos, ok := position[dep]
			if !ok {
				return fmt.Errorf("operation %s depends on %s which is not in the order", id, dep)
			}
			if depPos > pos {
				return fmt.Errorf("operation %s is ordered before its dependency %s", id, dep)
			}
		}
	}

	return nil
}

// ToDOT generates a DOT format representation of a plan's graph.
// Explicit edges are solid, implicit edges are dashed.
func ToDOT(plan *ExecutionPlan) string {
	var sb strings.Builder

	sb.WriteString("digraph ExecutionPlan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range plan.Levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, id := range ids {
			op, ok := plan.Operation(id)
			if !ok {
				continue
			}
			label := fmt.Sprintf("%s\\n%s\\n%s", id, op.Type, op.Target())
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				id, label, getOperationColor(op.Type)))
		}

		sb.WriteString("  }\n\n")
	}

	for _, op := range plan.Operations {
		explicit := make(map[string]bool)
		for _, dep := range plan.ExplicitDependencies[op.ID] {
			explicit[dep] = true
		}
		for _, dep := range plan.Dependencies[op.ID] {
			style := "style=dashed, color=blue"
			if explicit[dep] {
				style = "style=solid, color=black"
			}
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [%s];\n", dep, op.ID, style))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}

// getOperationColor returns a color for visualizing operation types.
func getOperationColor(op OperationType) string {
	switch op {
	case OperationCreatePosition, OperationAddLiquidity:
		return "lightgreen"
	case OperationSwap, OperationClaimFees:
		return "lightblue"
	case OperationRebalance:
		return "khaki"
	case OperationRemoveLiquidity, OperationClosePosition:
		return "lightcoral"
	default:
		return "white"
	}
}
