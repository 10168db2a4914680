// Package scheduler orders work items by their declared dependencies.
//
// Input is pure structure: for each item index, the indices it depends on.
// Output is either a single total order or a sequence of batches where every
// item in batch k depends only on items in earlier batches. Ties among
// eligible items preserve original list order so file-generation order is
// predictable for a given plan.
package scheduler

import (
	"fmt"

	"github.com/gammazero/toposort"
)

// PlanInvalidError indicates a malformed dependency graph: a cycle, or a
// dependency index outside the item list. It is fatal; the caller must not
// attempt partial execution of an invalid plan.
type PlanInvalidError struct {
	Reason string
}

func (e *PlanInvalidError) Error() string {
	return fmt.Sprintf("invalid plan: %s", e.Reason)
}

// Batches groups item indices into dependency levels. Every index in batch k
// has all of its dependencies in batches < k. Within a batch, indices appear
// in original list order.
func Batches(deps [][]int) ([][]int, error) {
	if err := validate(deps); err != nil {
		return nil, err
	}

	n := len(deps)
	remaining := make([]int, n)
	dependents := make([][]int, n)
	for i, ds := range deps {
		remaining[i] = len(ds)
		for _, d := range ds {
			dependents[d] = append(dependents[d], i)
		}
	}

	var batches [][]int
	scheduled := 0
	ready := make([]bool, n)
	done := make([]bool, n)

	for scheduled < n {
		// Kahn level: everything with no unscheduled dependency, in
		// original order.
		var batch []int
		for i := 0; i < n; i++ {
			if !done[i] && !ready[i] && remaining[i] == 0 {
				batch = append(batch, i)
				ready[i] = true
			}
		}
		if len(batch) == 0 {
			// Unreachable after validate, which rejects cycles.
			return nil, &PlanInvalidError{Reason: "dependency cycle detected"}
		}
		for _, i := range batch {
			done[i] = true
			for _, dep := range dependents[i] {
				remaining[dep]--
			}
		}
		scheduled += len(batch)
		batches = append(batches, batch)
	}

	return batches, nil
}

// Schedule returns a single total order consistent with all dependency
// edges: the concatenation of Batches, so the stable tie-break carries over.
func Schedule(deps [][]int) ([]int, error) {
	batches, err := Batches(deps)
	if err != nil {
		return nil, err
	}
	order := make([]int, 0, len(deps))
	for _, batch := range batches {
		order = append(order, batch...)
	}
	return order, nil
}

// validate checks index bounds and runs a topological sort purely to detect
// cycles before any ordering work happens.
func validate(deps [][]int) error {
	n := len(deps)
	var edges []toposort.Edge
	for i, ds := range deps {
		if len(ds) == 0 {
			edges = append(edges, toposort.Edge{nil, i})
			continue
		}
		for _, d := range ds {
			if d < 0 || d >= n {
				return &PlanInvalidError{Reason: fmt.Sprintf("item %d depends on out-of-range index %d", i, d)}
			}
			if d == i {
				return &PlanInvalidError{Reason: fmt.Sprintf("item %d depends on itself", i)}
			}
			edges = append(edges, toposort.Edge{d, i})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return &PlanInvalidError{Reason: fmt.Sprintf("dependency cycle: %v", err)}
	}
	return nil
}
