package engine

import (
	"fmt"
	"sort"
	"strings"
)

// sequentialBatches yields one operation at a time in plan order.
func (r *executionRun) sequentialBatches() batchSource {
	i := 0
	return func() []Operation {
		if i >= len(r.plan.Operations) {
			return nil
		}
		op := r.plan.Operations[i]
		i++
		return []Operation{op}
	}
}

// parallelBatches yields windows of up to BatchSize operations. A window is
// cut early so no member depends on, or conflicts with, another member.
func (r *executionRun) parallelBatches() batchSource {
	windows := windowOperations(r.plan.Operations, r.plan.Dependencies, r.opts.Execution.BatchSize)
	return r.fixedBatches(windows)
}

// hybridBatches yields the plan's groups in order. Groups are recomputed
// from the plan's order and dependencies when the plan has none, or when
// they leave an operation out.
func (r *executionRun) hybridBatches() batchSource {
	groupIDs := r.plan.Groups
	if !r.groupsCover(groupIDs) {
		groupIDs = GroupOperations(r.plan.Operations, r.plan.Dependencies, r.opts.Execution.MaxGroupSize)
	}

	groups := make([][]Operation, 0, len(groupIDs))
	seen := make(map[string]bool, len(r.plan.Operations))
	for _, group := range groupIDs {
		batch := make([]Operation, 0, len(group))
		for _, id := range group {
			if op, ok := r.byID[id]; ok && !seen[id] {
				batch = append(batch, op)
				seen[id] = true
			}
		}
		if len(batch) > 0 {
			groups = append(groups, batch)
		}
	}

	return r.fixedBatches(groups)
}

// groupsCover reports whether every plan operation appears in some group.
func (r *executionRun) groupsCover(groups [][]string) bool {
	if len(groups) == 0 {
		return len(r.plan.Operations) == 0
	}
	grouped := make(map[string]bool, len(r.plan.Operations))
	for _, group := range groups {
		for _, id := range group {
			grouped[id] = true
		}
	}
	for _, op := range r.plan.Operations {
		if !grouped[op.ID] {
			return false
		}
	}
	return true
}

func (r *executionRun) fixedBatches(batches [][]Operation) batchSource {
	i := 0
	return func() []Operation {
		for i < len(batches) {
			batch := batches[i]
			i++
			if len(batch) > 0 {
				return batch
			}
		}
		return nil
	}
}

// dependencyBatches yields rounds of ready operations. An operation is ready
// once every dependency has a terminal result. Within a round, operations that
// conflict on a resource key with an earlier ready operation wait for the
// next round. A round with unfinished operations but none ready is a deadlock.
func (r *executionRun) dependencyBatches() batchSource {
	return func() []Operation {
		pending := make([]Operation, 0)
		for _, op := range r.plan.Operations {
			if _, done := r.results[op.ID]; !done {
				pending = append(pending, op)
			}
		}
		if len(pending) == 0 {
			return nil
		}

		round := make([]Operation, 0)
		for _, op := range pending {
			if !r.ready(op) {
				continue
			}
			if !canJoin(op, round, r.plan.Dependencies) {
				continue
			}
			round = append(round, op)
		}

		if len(round) == 0 {
			r.deadlock(pending)
			return nil
		}
		return round
	}
}

// ready reports whether every dependency of op has a terminal result.
func (r *executionRun) ready(op Operation) bool {
	for _, dep := range r.plan.Dependencies[op.ID] {
		if _, done := r.results[dep]; !done {
			return false
		}
	}
	return true
}

// deadlock records a deadlock for the stalled operations and halts the run.
func (r *executionRun) deadlock(stalled []Operation) {
	ids := make([]string, len(stalled))
	for i, op := range stalled {
		ids[i] = op.ID
	}
	sort.Strings(ids)

	message := fmt.Sprintf("no operation is ready while %d remain: %s", len(ids), strings.Join(ids, ", "))
	r.errors = append(r.errors, ExecutionError{
		Class:        ErrorClassPermanent,
		Code:         ErrCodeDeadlock,
		Message:      message,
		OperationIDs: ids,
	})
	r.halt("deadlock: "+message, "", true)
	r.haltCode = ErrCodeDeadlock
}
