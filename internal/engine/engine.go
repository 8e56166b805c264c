// Package engine executes step graphs against remote capabilities.
//
// Steps run one at a time in scheduler order over a single shared state.
// A step either invokes one primitive method, fans out one call per item of
// a list, or recurses into a composite capability's nested graph. Failures
// are caught at the step boundary: a hard failure halts the graph with verdict
// failed, a partial failure downgrades the verdict and execution continues.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/a2aflow/internal/binding"
	"github.com/aescanero/a2aflow/internal/directory"
	"github.com/aescanero/a2aflow/internal/rpc"
	"github.com/aescanero/a2aflow/internal/scheduler"
	"github.com/aescanero/a2aflow/internal/state"
	"github.com/aescanero/a2aflow/pkg/domain"
	"github.com/aescanero/a2aflow/pkg/ports"
)

const (
	kindPrimitive = "primitive"
	kindFanOut    = "fanout"
	kindComposite = "composite"
)

// outcome is the effect of one step on the enclosing loop
type outcome int

const (
	outcomeOK outcome = iota
	outcomeDegraded
	outcomeFatal
)

// Invoker sends one call to a remote capability
type Invoker interface {
	Invoke(ctx context.Context, call rpc.Call) (any, error)
}

// Observer is notified around every top-level step
type Observer interface {
	StepStarted(ctx context.Context, step domain.Step)
	StepFinished(ctx context.Context, entry domain.LogEntry)
}

// Config holds engine configuration
type Config struct {
	// FanOutConcurrency bounds in-flight item calls of one fan-out step
	FanOutConcurrency int
	// MaxDepth bounds composite nesting
	MaxDepth int
}

// Engine runs graphs. It is safe for concurrent use; each Execute call owns
// its own state.
type Engine struct {
	directory ports.Directory
	invoker   Invoker
	metrics   ports.MetricsCollector
	config    Config
	logger    *zap.Logger
}

// New creates an engine. metrics and logger may be nil.
func New(cfg Config, dir ports.Directory, invoker Invoker, metrics ports.MetricsCollector, logger *zap.Logger) *Engine {
	if cfg.FanOutConcurrency <= 0 {
		cfg.FanOutConcurrency = 4
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 32
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		directory: dir,
		invoker:   invoker,
		metrics:   metrics,
		config:    cfg,
		logger:    logger.With(zap.String("component", "engine")),
	}
}

// frame carries per-level recursion context
type frame struct {
	depth    int
	active   []string
	prefix   string
	observer Observer
}

func (f frame) correlation(stepID string, index int) string {
	return rpc.CorrelationID(f.prefix+stepID, index)
}

func (f frame) nested(composite, stepID string) frame {
	active := make([]string, len(f.active), len(f.active)+1)
	copy(active, f.active)
	return frame{
		depth:  f.depth + 1,
		active: append(active, composite),
		prefix: f.prefix + stepID + "/",
	}
}

// Execute runs g seeded with initial. It always returns a result; failures
// are reported through the verdict, the logs and Result.Error.
func (e *Engine) Execute(ctx context.Context, g *domain.Graph, initial map[string]any) *domain.Result {
	return e.ExecuteObserved(ctx, g, initial, nil)
}

// ExecuteObserved is Execute with top-level step notifications
func (e *Engine) ExecuteObserved(ctx context.Context, g *domain.Graph, initial map[string]any, obs Observer) *domain.Result {
	if g == nil {
		g = &domain.Graph{}
	}
	return e.run(ctx, g, state.Seed(initial), frame{observer: obs})
}

func (e *Engine) run(ctx context.Context, g *domain.Graph, st *state.State, f frame) (res *domain.Result) {
	logs := []domain.LogEntry{}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("execution panicked",
				zap.Any("panic", r),
				zap.Int("depth", f.depth),
				zap.Stack("stack"))
			msg := fmt.Sprintf("internal error: %v", r)
			res = &domain.Result{
				Verdict: domain.VerdictFailed,
				Logs: append(logs, domain.LogEntry{
					StepID:    domain.OrchestratorStepID,
					Status:    domain.StepStatusError,
					Error:     msg,
					ErrorKind: domain.ErrorKindInternal,
				}),
				FinalState: st.Snapshot(),
				Error:      &domain.ErrorInfo{Kind: domain.ErrorKindInternal, Message: msg},
			}
		}
	}()

	order, dropped, err := scheduler.Schedule(g)
	for _, d := range dropped {
		e.logger.Warn("edge dropped",
			zap.String("from", d.Edge.From),
			zap.String("to", d.Edge.To),
			zap.String("reason", d.Reason))
	}
	if err != nil {
		info := &domain.ErrorInfo{Kind: domain.ErrorKindValidation, Message: err.Error()}
		var cycle *scheduler.CycleError
		if errors.As(err, &cycle) {
			info.Kind = domain.ErrorKindCycle
			info.Steps = cycle.Steps
		}
		e.logger.Warn("graph rejected", zap.Error(err))
		return &domain.Result{Verdict: domain.VerdictFailed, Logs: logs, FinalState: st.Snapshot(), Error: info}
	}

	verdict := domain.VerdictCompleted
	var info *domain.ErrorInfo

loop:
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			e.logger.Info("execution halted", zap.String("next_step", id), zap.Error(err))
			verdict = domain.VerdictFailed
			info = &domain.ErrorInfo{Kind: domain.ErrorKindCanceled, Message: err.Error()}
			break
		}

		step, _ := g.Step(id)
		if f.observer != nil {
			f.observer.StepStarted(ctx, step)
		}

		start := time.Now()
		entry, out, kind := e.runStep(ctx, step, st, f)
		elapsed := time.Since(start)
		entry.DurationMS = float64(elapsed.Microseconds()) / 1000

		logs = append(logs, entry)
		e.metrics.RecordStep(kind, string(entry.Status), elapsed)
		if f.observer != nil {
			f.observer.StepFinished(ctx, entry)
		}

		switch out {
		case outcomeDegraded:
			verdict = verdict.Worsen(domain.VerdictPartialSuccess)
		case outcomeFatal:
			verdict = domain.VerdictFailed
			break loop
		}
	}

	return &domain.Result{Verdict: verdict, Logs: logs, FinalState: st.Snapshot(), Error: info}
}

func (e *Engine) runStep(ctx context.Context, step domain.Step, st *state.State, f frame) (domain.LogEntry, outcome, string) {
	entry := domain.LogEntry{
		StepID:        step.ID,
		Agent:         step.Agent,
		Method:        step.Method,
		Status:        domain.StepStatusPending,
		CorrelationID: f.correlation(step.ID, -1),
	}

	logger := e.logger.With(
		zap.String("step_id", step.ID),
		zap.String("capability", step.Agent),
		zap.String("method", step.Method))

	desc, err := e.directory.Lookup(ctx, step.Agent)
	if err != nil {
		return entry, e.fail(logger, &entry, err), kindPrimitive
	}
	method, ok := desc.FindMethod(step.Method)
	if !ok {
		return entry, e.fail(logger, &entry, &directory.UnknownCapabilityError{Name: step.Agent, Method: step.Method}), kindPrimitive
	}

	src := overlay{inputs: step.Inputs, base: st}

	switch {
	case desc.IsComposite():
		return entry, e.runComposite(ctx, logger, &entry, step, desc.Composite, st, f), kindComposite
	case method.FanOut != nil:
		return entry, e.runFanOut(ctx, logger, &entry, step, desc, method, src, st, f), kindFanOut
	default:
		return entry, e.runPrimitive(ctx, logger, &entry, desc, method, src, st), kindPrimitive
	}
}

func (e *Engine) runPrimitive(ctx context.Context, logger *zap.Logger, entry *domain.LogEntry,
	desc *domain.Descriptor, method *domain.Method, src state.Source, st *state.State) outcome {
	b, err := binding.Bind(method, src)
	entry.Inputs = b.Inputs
	entry.Params = b.Params
	if err != nil {
		return e.fail(logger, entry, err)
	}

	result, err := e.invoke(ctx, desc, method, b.Params, entry.CorrelationID)
	if err != nil {
		return e.fail(logger, entry, err)
	}

	entry.Result = result
	entry.Status = domain.StepStatusSuccess
	st.MergeResult(result, method)

	logger.Debug("step succeeded", zap.String("correlation_id", entry.CorrelationID))
	return outcomeOK
}

func (e *Engine) invoke(ctx context.Context, desc *domain.Descriptor, method *domain.Method,
	params map[string]any, correlationID string) (any, error) {
	addr := desc.Address()
	if addr == "" {
		return nil, fmt.Errorf("%s: %w", desc.Name, ErrNoAddress)
	}

	result, err := e.invoker.Invoke(ctx, rpc.Call{
		Address:       addr,
		Capability:    desc.Name,
		Method:        method.Name,
		Params:        params,
		CorrelationID: correlationID,
		Timeouts:      rpc.Timeouts{Read: method.ReadTimeout()},
	})
	e.metrics.RecordInvocation(rpc.Outcome(err))
	return result, err
}

// fail finalizes entry as an error. Every step-level error halts the graph.
func (e *Engine) fail(logger *zap.Logger, entry *domain.LogEntry, err error) outcome {
	entry.Status = domain.StepStatusError
	entry.Error = err.Error()
	entry.ErrorKind = ErrorKind(err)

	logger.Warn("step failed",
		zap.String("correlation_id", entry.CorrelationID),
		zap.String("error_kind", entry.ErrorKind),
		zap.Bool("fatal", rpc.IsFatal(err)),
		zap.Error(err))
	return outcomeFatal
}

// overlay resolves authored step inputs before shared state
type overlay struct {
	inputs map[string]any
	base   state.Source
}

func (o overlay) Get(key string) (any, bool) {
	if v, ok := o.inputs[key]; ok {
		return v, true
	}
	return o.base.Get(key)
}

// record exposes a fan-out item as a binding source
type record map[string]any

func (r record) Get(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}
