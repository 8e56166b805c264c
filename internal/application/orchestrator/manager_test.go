package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/a2aflow/internal/application/workers"
	"github.com/aescanero/a2aflow/internal/engine"
	"github.com/aescanero/a2aflow/internal/rpc"
	"github.com/aescanero/a2aflow/internal/scheduler"
	eventsmemory "github.com/aescanero/a2aflow/pkg/adapters/events/memory"
	storagememory "github.com/aescanero/a2aflow/pkg/adapters/storage/memory"
	"github.com/aescanero/a2aflow/pkg/domain"
	"github.com/aescanero/a2aflow/pkg/ports"
)

type stubDirectory map[string]*domain.Descriptor

func (d stubDirectory) Lookup(_ context.Context, name string) (*domain.Descriptor, error) {
	if desc, ok := d[name]; ok {
		return desc, nil
	}
	return nil, fmt.Errorf("capability %s: %w", name, ports.ErrNotFound)
}

func (d stubDirectory) ListAll(context.Context) ([]domain.Descriptor, error) {
	return nil, nil
}

type invokerFunc func(ctx context.Context, call rpc.Call) (any, error)

func (f invokerFunc) Invoke(ctx context.Context, call rpc.Call) (any, error) { return f(ctx, call) }

type heldQueue struct {
	jobs []workers.Job
	err  error
}

func (q *heldQueue) Submit(job workers.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) handle(_ context.Context, e domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) types() []domain.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

type verdictMetrics struct {
	ports.NopMetrics
	mu         sync.Mutex
	verdicts   []string
	submission []string
}

func (m *verdictMetrics) RecordExecution(verdict string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts = append(m.verdicts, verdict)
}

func (m *verdictMetrics) RecordSubmission(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submission = append(m.submission, status)
}

var echoDirectory = stubDirectory{
	"echo": {Name: "echo", URL: "http://echo.local", Methods: []domain.Method{{Name: "say"}}},
}

func echoGraph(ids ...string) *domain.Graph {
	g := &domain.Graph{}
	for i, id := range ids {
		g.Steps = append(g.Steps, domain.Step{ID: id, Agent: "echo", Method: "say"})
		if i > 0 {
			g.Edges = append(g.Edges, domain.Edge{From: ids[i-1], To: id})
		}
	}
	return g
}

type fixture struct {
	manager *Manager
	store   *storagememory.ExecutionStore
	bus     *eventsmemory.EventBus
	metrics *verdictMetrics
}

func newFixture(t *testing.T, inv engine.Invoker, queue Queue, timeout time.Duration) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := storagememory.NewExecutionStore()
	bus := eventsmemory.NewEventBus(logger)
	t.Cleanup(func() { bus.Close() })
	metrics := &verdictMetrics{}

	m := NewManager(Options{
		Executor:         engine.New(engine.Config{}, echoDirectory, inv, nil, logger),
		Store:            store,
		EventBus:         bus,
		Metrics:          metrics,
		Queue:            queue,
		Validator:        NewValidator(echoDirectory),
		Logger:           logger,
		ExecutionTimeout: timeout,
	})
	return &fixture{manager: m, store: store, bus: bus, metrics: metrics}
}

func replyStep(_ context.Context, c rpc.Call) (any, error) {
	return map[string]any{c.CorrelationID: true}, nil
}

// blockUntilDone signals entered and waits for the call's context to end
func blockUntilDone(entered chan<- struct{}) invokerFunc {
	return func(ctx context.Context, _ rpc.Call) (any, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func TestManager_RunPersistsAndPublishes(t *testing.T) {
	f := newFixture(t, invokerFunc(replyStep), nil, 0)

	events := &eventLog{}
	require.NoError(t, f.bus.Subscribe(context.Background(), Topic, events.handle))

	exec, err := f.manager.Run(context.Background(), echoGraph("a", "b"), map[string]any{"seed": 1})
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	require.NotNil(t, exec.Result)
	assert.Equal(t, map[string]any{"seed": 1, "a": true, "b": true}, exec.Result.FinalState)
	assert.NotNil(t, exec.StartedAt)
	assert.NotNil(t, exec.CompletedAt)

	stored, err := f.manager.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, stored.Status)
	assert.Len(t, stored.Result.Logs, 2)

	want := []domain.EventType{
		domain.EventTypeExecutionStarted,
		domain.EventTypeStepStarted, domain.EventTypeStepFinished,
		domain.EventTypeStepStarted, domain.EventTypeStepFinished,
		domain.EventTypeExecutionFinished,
	}
	assert.Eventually(t, func() bool { return len(events.types()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, events.types())
	assert.Equal(t, []string{"completed"}, f.metrics.verdicts)
	assert.Equal(t, 0, f.manager.Active())
}

func TestManager_RunRecordsRejectedGraph(t *testing.T) {
	f := newFixture(t, invokerFunc(replyStep), nil, 0)

	g := echoGraph("a", "b")
	g.Edges = append(g.Edges, domain.Edge{From: "b", To: "a"})

	exec, err := f.manager.Run(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Result.Error)
	assert.Equal(t, domain.ErrorKindCycle, exec.Result.Error.Kind)
	assert.Empty(t, exec.Result.Logs)

	_, err = f.manager.Run(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidGraph)
}

func TestManager_SubmitRunsOnPool(t *testing.T) {
	pool := workers.NewPool(2, 4, nil, nil, time.Hour)
	require.NoError(t, pool.Start())
	defer pool.Shutdown(context.Background())

	f := newFixture(t, invokerFunc(replyStep), pool, 0)

	id, err := f.manager.Submit(context.Background(), echoGraph("only"), nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	assert.Eventually(t, func() bool {
		exec, err := f.manager.Get(context.Background(), id)
		return err == nil && exec.Status == domain.ExecutionStatusCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"accepted"}, f.metrics.submission)
}

func TestManager_SubmitRejections(t *testing.T) {
	t.Run("cycle", func(t *testing.T) {
		f := newFixture(t, invokerFunc(replyStep), &heldQueue{}, 0)
		g := echoGraph("a", "b")
		g.Edges = append(g.Edges, domain.Edge{From: "b", To: "a"})

		_, err := f.manager.Submit(context.Background(), g, nil)
		assert.ErrorIs(t, err, ErrInvalidGraph)
		assert.ErrorIs(t, err, scheduler.ErrCycle)
	})

	t.Run("missing method", func(t *testing.T) {
		f := newFixture(t, invokerFunc(replyStep), &heldQueue{}, 0)
		g := &domain.Graph{Steps: []domain.Step{{ID: "a", Agent: "echo"}}}

		_, err := f.manager.Submit(context.Background(), g, nil)
		assert.ErrorIs(t, err, ErrInvalidGraph)
	})

	t.Run("queue full", func(t *testing.T) {
		f := newFixture(t, invokerFunc(replyStep), &heldQueue{err: workers.ErrQueueFull}, 0)

		_, err := f.manager.Submit(context.Background(), echoGraph("a"), nil)
		assert.ErrorIs(t, err, workers.ErrQueueFull)

		ids, err := f.store.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, ids, "rejected submission leaves no record")
		assert.Equal(t, []string{"rejected"}, f.metrics.submission)
	})

	t.Run("no queue", func(t *testing.T) {
		f := newFixture(t, invokerFunc(replyStep), nil, 0)

		_, err := f.manager.Submit(context.Background(), echoGraph("a"), nil)
		assert.ErrorIs(t, err, workers.ErrPoolStopped)
	})
}

func TestManager_CancelRunning(t *testing.T) {
	pool := workers.NewPool(1, 1, nil, nil, time.Hour)
	require.NoError(t, pool.Start())
	defer pool.Shutdown(context.Background())

	entered := make(chan struct{})
	f := newFixture(t, blockUntilDone(entered), pool, 0)

	id, err := f.manager.Submit(context.Background(), echoGraph("slow", "never"), nil)
	require.NoError(t, err)
	<-entered

	require.NoError(t, f.manager.Cancel(context.Background(), id))

	var exec *domain.Execution
	require.Eventually(t, func() bool {
		exec, err = f.manager.Get(context.Background(), id)
		return err == nil && exec.Status.IsTerminal()
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.ExecutionStatusCancelled, exec.Status)
	require.Len(t, exec.Result.Logs, 1, "later steps never run")
	assert.Equal(t, domain.StepStatusError, exec.Result.Logs[0].Status)

	assert.ErrorIs(t, f.manager.Cancel(context.Background(), id), ErrAlreadyFinished)
	assert.ErrorIs(t, f.manager.Cancel(context.Background(), "missing"), ports.ErrNotFound)
}

func TestManager_CancelQueued(t *testing.T) {
	queue := &heldQueue{}
	f := newFixture(t, invokerFunc(func(context.Context, rpc.Call) (any, error) {
		t.Fatal("cancelled execution must not invoke")
		return nil, nil
	}), queue, 0)

	id, err := f.manager.Submit(context.Background(), echoGraph("a"), nil)
	require.NoError(t, err)

	exec, err := f.manager.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusPending, exec.Status)

	require.NoError(t, f.manager.Cancel(context.Background(), id))
	require.Len(t, queue.jobs, 1)
	queue.jobs[0](context.Background())

	exec, err = f.manager.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCancelled, exec.Status)
	assert.Nil(t, exec.Result)
}

func TestManager_ExecutionTimeout(t *testing.T) {
	entered := make(chan struct{})
	f := newFixture(t, blockUntilDone(entered), nil, 20*time.Millisecond)

	exec, err := f.manager.Run(context.Background(), echoGraph("slow"), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, "execution timeout", exec.Error)
	assert.Equal(t, domain.ErrorKindTimeout, exec.Result.Logs[0].ErrorKind)
}

func TestManager_ShutdownCancelsActive(t *testing.T) {
	entered := make(chan struct{})
	f := newFixture(t, blockUntilDone(entered), nil, 0)

	done := make(chan *domain.Execution)
	go func() {
		exec, _ := f.manager.Run(context.Background(), echoGraph("slow"), nil)
		done <- exec
	}()
	<-entered

	require.NoError(t, f.manager.Shutdown(context.Background()))

	select {
	case exec := <-done:
		assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
	case <-time.After(time.Second):
		t.Fatal("run did not stop on shutdown")
	}
}

func TestManager_Validate(t *testing.T) {
	f := newFixture(t, invokerFunc(replyStep), nil, 0)

	g := echoGraph("a", "b")
	g.Steps = append(g.Steps, domain.Step{ID: "c", Agent: "ghost", Method: "m"})
	g.Edges = append(g.Edges, domain.Edge{From: "b", To: "zzz"})

	v, err := f.manager.Validate(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, v.Order)
	assert.Equal(t, []domain.Edge{{From: "b", To: "zzz"}}, v.Dropped)
	require.Len(t, v.Unresolved, 1)
	assert.Equal(t, "c", v.Unresolved[0].StepID)

	_, err = f.manager.Validate(context.Background(), &domain.Graph{Steps: []domain.Step{{ID: "x", Agent: "echo", Method: "say"}, {ID: "x", Agent: "echo", Method: "say"}}})
	assert.True(t, errors.Is(err, ErrInvalidGraph))
}
