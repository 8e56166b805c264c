package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aescanero/a2aflow/internal/binding"
	"github.com/aescanero/a2aflow/internal/rpc"
	"github.com/aescanero/a2aflow/internal/state"
	"github.com/aescanero/a2aflow/pkg/domain"
)

// runFanOut calls the method once per item of the list under the fan-out
// input key. Items are isolated from each other; only a transport failure
// aborts the batch. Outputs are committed in item order once all items finish.
func (e *Engine) runFanOut(ctx context.Context, logger *zap.Logger, entry *domain.LogEntry, step domain.Step,
	desc *domain.Descriptor, method *domain.Method, src state.Source, st *state.State, f frame) outcome {
	spec := method.FanOut

	raw, ok := src.Get(spec.InputKey)
	if !ok {
		return e.fail(logger, entry, &binding.TypeCoercionError{
			Name: spec.InputKey, DeclaredType: "array", Reason: "fan-out input is missing",
		})
	}
	entry.Inputs = map[string]any{spec.InputKey: raw}

	items, ok := state.AsList(raw)
	if !ok {
		return e.fail(logger, entry, &binding.TypeCoercionError{
			Name: spec.InputKey, DeclaredType: "array", RawValue: raw, Reason: "fan-out input is not a list",
		})
	}

	if len(items) == 0 {
		entry.Status = domain.StepStatusSuccess
		entry.Result = []any{}
		entry.Children = []domain.LogEntry{}
		return outcomeOK
	}

	children := make([]domain.LogEntry, len(items))
	outputs := make([]any, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.FanOutConcurrency)

	for i, item := range items {
		g.Go(func() error {
			child := domain.LogEntry{
				StepID:        step.ID,
				Agent:         step.Agent,
				Method:        step.Method,
				Status:        domain.StepStatusPending,
				CorrelationID: f.correlation(step.ID, i),
			}
			defer func() {
				if r := recover(); r != nil {
					child.Status = domain.StepStatusError
					child.Error = fmt.Sprintf("internal error: %v", r)
					child.ErrorKind = domain.ErrorKindInternal
					children[i] = child
				}
			}()

			if err := gctx.Err(); err != nil {
				child.Status = domain.StepStatusError
				child.Error = fmt.Sprintf("skipped: %v", err)
				child.ErrorKind = domain.ErrorKindCanceled
				children[i] = child
				return nil
			}

			start := time.Now()
			out, err := e.runItem(gctx, &child, desc, method, item)
			child.DurationMS = float64(time.Since(start).Microseconds()) / 1000
			if err != nil {
				child.Status = domain.StepStatusError
				child.Error = err.Error()
				child.ErrorKind = ErrorKind(err)
			} else {
				child.Status = domain.StepStatusSuccess
				child.Result = out
				outputs[i] = out
			}
			children[i] = child
			e.metrics.RecordFanOutItem(string(child.Status))

			if rpc.IsFatal(err) {
				return err
			}
			return nil
		})
	}

	fatal := g.Wait()
	entry.Children = children

	succeeded := make([]any, 0, len(items))
	var failures []string
	for i, child := range children {
		if child.Status == domain.StepStatusSuccess {
			succeeded = append(succeeded, outputs[i])
		} else {
			failures = append(failures, child.CorrelationID)
		}
	}
	entry.Result = succeeded

	logger.Info("fan-out finished",
		zap.Int("items", len(items)),
		zap.Int("failed", len(failures)))

	if fatal != nil {
		return e.fail(logger, entry, fatal)
	}

	switch {
	case len(failures) == 0:
		entry.Status = domain.StepStatusSuccess
		st.MergeResult(succeeded, method)
		return outcomeOK

	case len(failures) < len(items):
		entry.Status = domain.StepStatusPartialSuccess
		entry.Error = fmt.Sprintf("%d of %d items failed: %s", len(failures), len(items), strings.Join(failures, ", "))
		st.MergeResult(succeeded, method)
		return outcomeDegraded

	default:
		err := fmt.Errorf("%s: %w", step.ID, ErrBatchFailed)
		if spec.TolerateTotalFailure {
			entry.Status = domain.StepStatusError
			entry.Error = err.Error()
			entry.ErrorKind = ErrorKind(err)
			logger.Warn("fan-out failed on every item, tolerated")
			return outcomeDegraded
		}
		return e.fail(logger, entry, err)
	}
}

// runItem validates one item and invokes the method with it
func (e *Engine) runItem(ctx context.Context, child *domain.LogEntry, desc *domain.Descriptor,
	method *domain.Method, item any) (any, error) {
	rec, ok := state.AsRecord(item)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidItem, state.KindOf(item))
	}
	rec = state.CopyRecord(rec)
	child.Inputs = rec

	for _, field := range method.FanOut.ItemFields {
		if v, present := rec[field]; !present || blank(v) {
			return nil, &binding.MissingParameterError{Name: field}
		}
	}

	params := rec
	if len(method.Params) > 0 {
		b, err := binding.Bind(method, record(rec))
		child.Params = b.Params
		if err != nil {
			return nil, err
		}
		params = b.Params
	} else {
		child.Params = rec
	}

	return e.invoke(ctx, desc, method, params, child.CorrelationID)
}

// blank reports values that do not satisfy a required item field
func blank(v any) bool {
	switch state.KindOf(v) {
	case state.KindNull:
		return true
	case state.KindString:
		s, _ := v.(string)
		return strings.TrimSpace(s) == ""
	case state.KindList:
		l, _ := state.AsList(v)
		return len(l) == 0
	case state.KindRecord:
		r, _ := state.AsRecord(v)
		return len(r) == 0
	}
	return false
}
