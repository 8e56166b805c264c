package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/a2aflow/internal/application/workers"
	"github.com/aescanero/a2aflow/internal/engine"
	"github.com/aescanero/a2aflow/pkg/domain"
	"github.com/aescanero/a2aflow/pkg/ports"
)

// Topic is the event bus topic execution events are published on
const Topic = "executions"

var (
	// ErrNotFound is returned for unknown execution ids
	ErrNotFound = ports.ErrNotFound
	// ErrAlreadyFinished is returned when cancelling a finished execution
	ErrAlreadyFinished = errors.New("execution already finished")
)

// Executor runs one graph
type Executor interface {
	ExecuteObserved(ctx context.Context, g *domain.Graph, initial map[string]any, obs engine.Observer) *domain.Result
}

// Queue accepts asynchronous jobs
type Queue interface {
	Submit(job workers.Job) error
}

// Manager coordinates graph execution
type Manager struct {
	executor  Executor
	store     ports.ExecutionStore
	eventBus  ports.EventBus
	metrics   ports.MetricsCollector
	queue     Queue
	validator *Validator
	logger    *zap.Logger

	// Track active executions
	executions sync.Map // map[string]*executionContext
	active     atomic.Int64

	executionTimeout time.Duration
	now              func() time.Time
}

// executionContext holds the cancel handle of one queued or running execution
type executionContext struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Options configures a Manager
type Options struct {
	Executor  Executor
	Store     ports.ExecutionStore
	EventBus  ports.EventBus
	Metrics   ports.MetricsCollector
	Queue     Queue
	Validator *Validator
	Logger    *zap.Logger

	// ExecutionTimeout bounds a whole execution when positive
	ExecutionTimeout time.Duration
}

// NewManager creates a new orchestrator manager. EventBus, Metrics, Queue,
// Validator and Logger are optional; without a Queue, Submit fails.
func NewManager(opts Options) *Manager {
	m := &Manager{
		executor:         opts.Executor,
		store:            opts.Store,
		eventBus:         opts.EventBus,
		metrics:          opts.Metrics,
		queue:            opts.Queue,
		validator:        opts.Validator,
		logger:           opts.Logger,
		executionTimeout: opts.ExecutionTimeout,
		now:              time.Now,
	}
	if m.metrics == nil {
		m.metrics = ports.NopMetrics{}
	}
	if m.validator == nil {
		m.validator = NewValidator(nil)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.With(zap.String("component", "orchestrator"))
	return m
}

// Validate schedules g and resolves its steps against the directory
func (m *Manager) Validate(ctx context.Context, g *domain.Graph) (*Validation, error) {
	return m.validator.Resolve(ctx, g)
}

// Run executes g synchronously and returns the stored record. A structurally
// invalid graph is still recorded, with verdict failed and no logs.
func (m *Manager) Run(ctx context.Context, g *domain.Graph, initial map[string]any) (*domain.Execution, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: graph is nil", ErrInvalidGraph)
	}

	exec := m.newExecution(g, initial)
	if err := m.store.Save(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to save execution: %w", err)
	}

	runCtx, cancel := m.withTimeout(ctx)
	defer cancel()
	ec := &executionContext{cancel: cancel}
	m.executions.Store(exec.ID, ec)
	defer m.executions.Delete(exec.ID)

	m.execute(runCtx, exec, ec)
	return exec, nil
}

// Submit validates g and queues it for execution, returning the execution id
func (m *Manager) Submit(ctx context.Context, g *domain.Graph, initial map[string]any) (string, error) {
	if _, err := m.validator.Validate(g); err != nil {
		m.logger.Info("graph validation failed", zap.Error(err))
		m.metrics.RecordSubmission("rejected")
		return "", err
	}
	if m.queue == nil {
		m.metrics.RecordSubmission("rejected")
		return "", fmt.Errorf("asynchronous execution disabled: %w", workers.ErrPoolStopped)
	}

	exec := m.newExecution(g, initial)
	if err := m.store.Save(ctx, exec); err != nil {
		return "", fmt.Errorf("failed to save execution: %w", err)
	}

	runCtx, cancel := m.withTimeout(context.Background())
	ec := &executionContext{cancel: cancel}
	m.executions.Store(exec.ID, ec)

	job := func(workerCtx context.Context) {
		defer cancel()
		defer m.executions.Delete(exec.ID)

		stop := context.AfterFunc(workerCtx, cancel)
		defer stop()

		if err := runCtx.Err(); err != nil {
			m.finishUnstarted(exec, ec, err)
			return
		}
		m.execute(runCtx, exec, ec)
	}

	if err := m.queue.Submit(job); err != nil {
		cancel()
		m.executions.Delete(exec.ID)
		if delErr := m.store.Delete(context.WithoutCancel(ctx), exec.ID); delErr != nil {
			m.logger.Warn("failed to delete rejected execution",
				zap.String("execution_id", exec.ID),
				zap.Error(delErr))
		}
		m.metrics.RecordSubmission("rejected")
		return "", fmt.Errorf("failed to queue execution: %w", err)
	}

	m.metrics.RecordSubmission("accepted")
	m.logger.Info("execution submitted", zap.String("execution_id", exec.ID))
	return exec.ID, nil
}

// Get retrieves an execution record
func (m *Manager) Get(ctx context.Context, id string) (*domain.Execution, error) {
	exec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}
	return exec, nil
}

// Cancel cancels a queued or running execution. Steps already applied are
// kept; the execution finishes with status cancelled.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	val, ok := m.executions.Load(id)
	if !ok {
		exec, err := m.store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get execution %s: %w", id, err)
		}
		if exec.Status.IsTerminal() {
			return fmt.Errorf("%s is %s: %w", id, exec.Status, ErrAlreadyFinished)
		}
		return fmt.Errorf("execution %s is not active: %w", id, ErrNotFound)
	}

	ec := val.(*executionContext)
	ec.cancelled.Store(true)
	ec.cancel()

	m.logger.Info("execution cancel requested", zap.String("execution_id", id))
	return nil
}

// Shutdown cancels every active execution
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.executions.Range(func(_, value any) bool {
		value.(*executionContext).cancel()
		return true
	})

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}

// Active returns the number of executions currently running
func (m *Manager) Active() int {
	return int(m.active.Load())
}

func (m *Manager) newExecution(g *domain.Graph, initial map[string]any) *domain.Execution {
	return &domain.Execution{
		ID:          uuid.New().String(),
		Status:      domain.ExecutionStatusPending,
		Graph:       g,
		Inputs:      initial,
		SubmittedAt: m.now(),
	}
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.executionTimeout > 0 {
		return context.WithTimeout(ctx, m.executionTimeout)
	}
	return context.WithCancel(ctx)
}

// execute runs exec to completion and persists each transition
func (m *Manager) execute(ctx context.Context, exec *domain.Execution, ec *executionContext) {
	logger := m.logger.With(zap.String("execution_id", exec.ID))
	bg := context.WithoutCancel(ctx)

	started := m.now()
	exec.Status = domain.ExecutionStatusRunning
	exec.StartedAt = &started
	m.save(bg, logger, exec)

	m.metrics.SetActiveExecutions(int(m.active.Add(1)))
	defer func() { m.metrics.SetActiveExecutions(int(m.active.Add(-1))) }()

	m.publish(bg, exec.ID, domain.EventTypeExecutionStarted, map[string]any{
		"steps": len(exec.Graph.Steps),
	})
	logger.Info("execution started", zap.Int("steps", len(exec.Graph.Steps)))

	res := m.executor.ExecuteObserved(ctx, exec.Graph, exec.Inputs, &publisher{m: m, executionID: exec.ID})

	completed := m.now()
	exec.Result = res
	exec.CompletedAt = &completed
	exec.Status = domain.ExecutionStatus(res.Verdict)
	if res.Error != nil {
		exec.Error = res.Error.Message
	}
	if ec.cancelled.Load() {
		exec.Status = domain.ExecutionStatusCancelled
	} else if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		exec.Error = "execution timeout"
	}
	m.save(bg, logger, exec)

	duration := completed.Sub(started)
	m.metrics.RecordExecution(string(exec.Status), duration)
	m.publish(bg, exec.ID, domain.EventTypeExecutionFinished, map[string]any{
		"status":      string(exec.Status),
		"verdict":     string(res.Verdict),
		"duration_ms": float64(duration.Microseconds()) / 1000,
	})

	logger.Info("execution finished",
		zap.String("status", string(exec.Status)),
		zap.Int("logged_steps", len(res.Logs)),
		zap.Duration("duration", duration))
}

// finishUnstarted records an execution cancelled while it was still queued
func (m *Manager) finishUnstarted(exec *domain.Execution, ec *executionContext, cause error) {
	logger := m.logger.With(zap.String("execution_id", exec.ID))
	now := m.now()

	exec.CompletedAt = &now
	exec.Error = cause.Error()
	exec.Status = domain.ExecutionStatusFailed
	if ec.cancelled.Load() {
		exec.Status = domain.ExecutionStatusCancelled
	}
	m.save(context.Background(), logger, exec)

	m.metrics.RecordExecution(string(exec.Status), 0)
	m.publish(context.Background(), exec.ID, domain.EventTypeExecutionFinished, map[string]any{
		"status": string(exec.Status),
	})
	logger.Info("execution dropped before start", zap.String("status", string(exec.Status)))
}

func (m *Manager) save(ctx context.Context, logger *zap.Logger, exec *domain.Execution) {
	if err := m.store.Save(ctx, exec); err != nil {
		logger.Error("failed to save execution",
			zap.String("status", string(exec.Status)),
			zap.Error(err))
	}
}

// publish sends one event; failures are logged and never affect the run
func (m *Manager) publish(ctx context.Context, executionID string, eventType domain.EventType, data map[string]any) {
	if m.eventBus == nil {
		return
	}
	event := domain.Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		ExecutionID: executionID,
		Timestamp:   m.now(),
		Data:        data,
	}
	if err := m.eventBus.Publish(ctx, Topic, event); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("execution_id", executionID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

// publisher turns engine step notifications into bus events
type publisher struct {
	m           *Manager
	executionID string
}

func (p *publisher) StepStarted(ctx context.Context, step domain.Step) {
	p.m.publish(context.WithoutCancel(ctx), p.executionID, domain.EventTypeStepStarted, map[string]any{
		"step_id": step.ID,
		"agent":   step.Agent,
		"method":  step.Method,
	})
}

func (p *publisher) StepFinished(ctx context.Context, entry domain.LogEntry) {
	data := map[string]any{
		"step_id":     entry.StepID,
		"status":      string(entry.Status),
		"duration_ms": entry.DurationMS,
	}
	if entry.Error != "" {
		data["error"] = entry.Error
		data["error_kind"] = entry.ErrorKind
	}
	p.m.publish(context.WithoutCancel(ctx), p.executionID, domain.EventTypeStepFinished, data)
}
