// Package ports declares the collaborators the orchestrator depends on.
// Adapters under pkg/adapters implement them.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/aescanero/a2aflow/pkg/domain"
)

// Directory resolves capability names to descriptors
type Directory interface {
	Lookup(ctx context.Context, name string) (*domain.Descriptor, error)
	ListAll(ctx context.Context) ([]domain.Descriptor, error)
}

// CompositeStore persists named composite definitions
type CompositeStore interface {
	LoadAll(ctx context.Context) (map[string]*domain.CompositeDefinition, error)
	Save(ctx context.Context, name string, def *domain.CompositeDefinition) error
}

// ErrNotFound is returned by stores for unknown ids
var ErrNotFound = errors.New("not found")

// ExecutionStore persists execution records
type ExecutionStore interface {
	Save(ctx context.Context, exec *domain.Execution) error
	Get(ctx context.Context, id string) (*domain.Execution, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// EventHandler handles one event delivered by the bus
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes execution events to topics
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// MetricsCollector records orchestrator metrics
type MetricsCollector interface {
	RecordSubmission(status string)
	RecordExecution(verdict string, duration time.Duration)
	RecordStep(kind, status string, duration time.Duration)
	RecordInvocation(outcome string)
	RecordFanOutItem(status string)
	SetActiveExecutions(count int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}

// NopMetrics discards every measurement
type NopMetrics struct{}

func (NopMetrics) RecordSubmission(string)                  {}
func (NopMetrics) RecordExecution(string, time.Duration)    {}
func (NopMetrics) RecordStep(string, string, time.Duration) {}
func (NopMetrics) RecordInvocation(string)                  {}
func (NopMetrics) RecordFanOutItem(string)                  {}
func (NopMetrics) SetActiveExecutions(int)                  {}
func (NopMetrics) RecordWorkerPoolStatus(int, int, int)     {}
