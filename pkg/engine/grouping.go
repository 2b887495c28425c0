package engine

// DefaultMaxGroupSize caps parallel group size when none is configured.
const DefaultMaxGroupSize = 3

// conflicts reports whether two operations may not run at the same time.
// Operations on different resource keys never conflict; on the same key only
// two safe-parallel types may overlap.
func conflicts(a, b Operation) bool {
	if a.Target() != b.Target() {
		return false
	}
	return !(a.Type.IsSafeParallel() && b.Type.IsSafeParallel())
}

// dependsOnAny reports whether op directly depends on any member.
func dependsOnAny(op Operation, members []Operation, deps map[string][]string) bool {
	for _, dep := range deps[op.ID] {
		for _, m := range members {
			if m.ID == dep {
				return true
			}
		}
	}
	return false
}

// canJoin reports whether op may run concurrently with every member.
func canJoin(op Operation, members []Operation, deps map[string][]string) bool {
	if dependsOnAny(op, members, deps) {
		return false
	}
	for _, m := range members {
		if conflicts(op, m) {
			return false
		}
	}
	return true
}

// GroupOperations folds adjacent operations of a topologically ordered list
// into parallel-eligible groups. An operation joins the current group when the
// group has room, it does not depend on a member, and it does not conflict
// with any member on its resource key.
func GroupOperations(ordered []Operation, deps map[string][]string, maxSize int) [][]string {
	if maxSize <= 0 {
		maxSize = DefaultMaxGroupSize
	}

	groups := make([][]string, 0)
	current := make([]Operation, 0, maxSize)

	flush := func() {
		if len(current) == 0 {
			return
		}
		ids := make([]string, len(current))
		for i, op := range current {
			ids[i] = op.ID
		}
		groups = append(groups, ids)
		current = make([]Operation, 0, maxSize)
	}

	for _, op := range ordered {
		if len(current) >= maxSize || !canJoin(op, current, deps) {
			flush()
		}
		current = append(current, op)
	}
	flush()

	return groups
}

// windowOperations slices ordered operations into windows of at most size.
// A window is cut early when the next operation depends on, or conflicts
// with, an operation already in the window.
func windowOperations(ordered []Operation, deps map[string][]string, size int) [][]Operation {
	if size <= 0 {
		size = 1
	}

	windows := make([][]Operation, 0)
	current := make([]Operation, 0, size)

	for _, op := range ordered {
		if len(current) >= size || !canJoin(op, current, deps) {
			windows = append(windows, current)
			current = make([]Operation, 0, size)
		}
		current = append(current, op)
	}
	if len(current) > 0 {
		windows = append(windows, current)
	}

	return windows
}
