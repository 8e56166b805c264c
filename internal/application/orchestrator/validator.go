package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/aescanero/a2aflow/internal/scheduler"
	"github.com/aescanero/a2aflow/pkg/domain"
	"github.com/aescanero/a2aflow/pkg/ports"
)

// ErrInvalidGraph is returned for graphs rejected before execution
var ErrInvalidGraph = errors.New("invalid graph")

// Validation is the outcome of validating a graph
type Validation struct {
	Order   []string      `json:"order"`
	Dropped []domain.Edge `json:"dropped_edges,omitempty"`
	// Unresolved lists steps whose agent or method the directory could not resolve
	Unresolved []UnresolvedStep `json:"unresolved,omitempty"`
}

// UnresolvedStep names a step that would fail its directory lookup
type UnresolvedStep struct {
	StepID string `json:"step_id"`
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
}

// Validator validates graph structures
type Validator struct {
	directory ports.Directory
}

// NewValidator creates a new graph validator. dir may be nil, in which case
// capabilities are not resolved.
func NewValidator(dir ports.Directory) *Validator {
	return &Validator{directory: dir}
}

// Validate checks the structure of g and returns its schedule
func (v *Validator) Validate(g *domain.Graph) (*Validation, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: graph is nil", ErrInvalidGraph)
	}

	for i, s := range g.Steps {
		if err := v.validateStep(s); err != nil {
			return nil, fmt.Errorf("%w: step %d: %w", ErrInvalidGraph, i, err)
		}
	}

	order, dropped, err := scheduler.Schedule(g)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	out := &Validation{Order: order}
	for _, d := range dropped {
		out.Dropped = append(out.Dropped, d.Edge)
	}
	return out, nil
}

// Resolve is Validate plus a directory lookup of every step. Lookup
// failures are reported, not returned.
func (v *Validator) Resolve(ctx context.Context, g *domain.Graph) (*Validation, error) {
	out, err := v.Validate(g)
	if err != nil || v.directory == nil {
		return out, err
	}

	for _, s := range g.Steps {
		desc, err := v.directory.Lookup(ctx, s.Agent)
		if err != nil {
			out.Unresolved = append(out.Unresolved, UnresolvedStep{StepID: s.ID, Ref: s.Ref(), Reason: err.Error()})
			continue
		}
		if _, ok := desc.FindMethod(s.Method); !ok {
			out.Unresolved = append(out.Unresolved, UnresolvedStep{StepID: s.ID, Ref: s.Ref(), Reason: "unknown method"})
		}
	}
	return out, nil
}

// validateStep validates a single step
func (v *Validator) validateStep(s domain.Step) error {
	if s.ID == "" {
		return fmt.Errorf("step ID is required")
	}
	if s.Agent == "" {
		return fmt.Errorf("step %s: agent is required", s.ID)
	}
	if s.Method == "" {
		return fmt.Errorf("step %s: method is required", s.ID)
	}
	return nil
}
