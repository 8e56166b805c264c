// Package scheduler linearizes step graphs with Kahn's algorithm.
//
// Ordering is deterministic: the ready queue is seeded with zero in-degree
// steps in declaration order and successors are released in edge order.
package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aescanero/a2aflow/pkg/domain"
)

var (
	// ErrCycle groups every CycleError for errors.Is
	ErrCycle = errors.New("cycle detected")
	// ErrInvalidGraph is returned for structurally broken graphs
	ErrInvalidGraph = errors.New("invalid graph")
)

// CycleError carries the steps left with residual in-degree after scheduling
type CycleError struct {
	Steps []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s among steps: %s", ErrCycle.Error(), strings.Join(e.Steps, ", "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// DroppedEdge is an edge ignored because an endpoint is not a step of the graph
type DroppedEdge struct {
	Edge   domain.Edge
	Reason string
}

// Schedule returns the step ids of g in a valid execution order together with
// the edges it had to drop. A graph that is not fully orderable fails with a
// *CycleError and no partial order.
func Schedule(g *domain.Graph) ([]string, []DroppedEdge, error) {
	if g == nil || len(g.Steps) == 0 {
		return []string{}, nil, nil
	}

	index := make(map[string]int, len(g.Steps))
	for i, s := range g.Steps {
		if s.ID == "" {
			return nil, nil, fmt.Errorf("%w: step %d has no id", ErrInvalidGraph, i)
		}
		if _, dup := index[s.ID]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate step id %q", ErrInvalidGraph, s.ID)
		}
		index[s.ID] = i
	}

	indeg := make([]int, len(g.Steps))
	successors := make([][]int, len(g.Steps))
	var dropped []DroppedEdge

	for _, e := range g.AllEdges() {
		from, okFrom := index[e.From]
		to, okTo := index[e.To]
		switch {
		case !okFrom && !okTo:
			dropped = append(dropped, DroppedEdge{Edge: e, Reason: "unknown source and target"})
			continue
		case !okFrom:
			dropped = append(dropped, DroppedEdge{Edge: e, Reason: "unknown source"})
			continue
		case !okTo:
			dropped = append(dropped, DroppedEdge{Edge: e, Reason: "unknown target"})
			continue
		}
		successors[from] = append(successors[from], to)
		indeg[to]++
	}

	queue := make([]int, 0, len(g.Steps))
	for i := range g.Steps {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]string, 0, len(g.Steps))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, g.Steps[n].ID)
		for _, m := range successors[n] {
			indeg[m]--
			if indeg[m] == 0 {
				queue = append(queue, m)
			}
		}
	}

	if len(order) < len(g.Steps) {
		var remaining []string
		for i, s := range g.Steps {
			if indeg[i] > 0 {
				remaining = append(remaining, s.ID)
			}
		}
		return nil, dropped, &CycleError{Steps: remaining}
	}

	return order, dropped, nil
}
