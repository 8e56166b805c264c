package engine

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/aescanero/a2aflow/internal/state"
	"github.com/aescanero/a2aflow/pkg/domain"
)

// runComposite executes a composite capability's nested graph. The child
// starts from the composite seed overlaid by a snapshot of the parent state
// and then the step's authored inputs. Whatever the child verdict, the keys
// its steps wrote are merged back and its logs become the step's children.
// Seeded keys the child never wrote stay out of the parent.
func (e *Engine) runComposite(ctx context.Context, logger *zap.Logger, entry *domain.LogEntry, step domain.Step,
	def *domain.CompositeDefinition, st *state.State, f frame) outcome {
	if slices.Contains(f.active, def.Name) {
		chain := append(slices.Clone(f.active), def.Name)
		return e.fail(logger, entry, &RecursionError{Name: def.Name, Chain: chain})
	}
	if f.depth+1 > e.config.MaxDepth {
		return e.fail(logger, entry, &RecursionError{Name: def.Name, Depth: e.config.MaxDepth})
	}

	seed := state.CopyRecord(def.Seed)
	for k, v := range st.Snapshot() {
		seed[k] = v
	}
	for k, v := range step.Inputs {
		seed[k] = state.DeepCopy(v)
	}
	if len(step.Inputs) > 0 {
		entry.Inputs = state.CopyRecord(step.Inputs)
	}

	logger.Debug("entering composite",
		zap.String("composite", def.Name),
		zap.Int("depth", f.depth+1))

	child := state.Seed(seed)
	sub := e.run(ctx, &def.Graph, child, f.nested(def.Name, step.ID))

	st.Merge(child.Written())
	entry.Children = sub.Logs
	entry.Status = sub.Verdict.StepStatus()
	if def.OutputKey != "" {
		entry.Result = sub.FinalState[def.OutputKey]
	} else {
		entry.Result = sub.FinalState
	}

	switch sub.Verdict {
	case domain.VerdictCompleted:
		return outcomeOK
	case domain.VerdictPartialSuccess:
		return outcomeDegraded
	}

	entry.Error, entry.ErrorKind = compositeFailure(def.Name, sub)
	logger.Warn("composite failed",
		zap.String("composite", def.Name),
		zap.String("error_kind", entry.ErrorKind))
	return outcomeFatal
}

// compositeFailure names the reason a nested execution failed
func compositeFailure(name string, sub *domain.Result) (string, string) {
	if sub.Error != nil {
		return fmt.Sprintf("composite %s: %s", name, sub.Error.Message), sub.Error.Kind
	}
	for i := len(sub.Logs) - 1; i >= 0; i-- {
		if l := sub.Logs[i]; l.Status == domain.StepStatusError {
			return fmt.Sprintf("composite %s: step %s: %s", name, l.StepID, l.Error), l.ErrorKind
		}
	}
	return fmt.Sprintf("composite %s failed", name), domain.ErrorKindInternal
}
