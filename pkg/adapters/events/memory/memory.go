package memory

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/a2aflow/pkg/domain"
	"github.com/aescanero/a2aflow/pkg/ports"
)

const subscriberBuffer = 256

// ErrClosed is returned by Subscribe after Close
var ErrClosed = errors.New("event bus closed")

type subscription struct {
	id      uint64
	topic   string
	handler ports.EventHandler
	events  chan domain.Event
	done    chan struct{}
}

// EventBus implements ports.EventBus with one delivery goroutine per subscriber
type EventBus struct {
	subscribers map[string]map[uint64]*subscription
	nextID      uint64
	logger      *zap.Logger
	closed      bool
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

// NewEventBus creates a new in-memory event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subscribers: make(map[string]map[uint64]*subscription),
		logger:      logger.With(zap.String("component", "event_bus")),
	}
}

// Publish queues an event for every subscriber of topic. A subscriber whose
// buffer is full misses the event.
func (e *EventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, sub := range e.subscribers[topic] {
		select {
		case sub.events <- event:
		default:
			e.logger.Warn("subscriber too slow, event dropped",
				zap.String("topic", topic),
				zap.String("event_id", event.ID),
				zap.Uint64("subscriber", sub.id))
		}
	}

	return nil
}

// Subscribe delivers topic events to handler until ctx is done
func (e *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	e.nextID++
	sub := &subscription{
		id:      e.nextID,
		topic:   topic,
		handler: handler,
		events:  make(chan domain.Event, subscriberBuffer),
		done:    make(chan struct{}),
	}
	if e.subscribers[topic] == nil {
		e.subscribers[topic] = make(map[uint64]*subscription)
	}
	e.subscribers[topic][sub.id] = sub

	e.wg.Add(1)
	go e.deliver(ctx, sub)

	return nil
}

// Close stops every subscriber
func (e *EventBus) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, subs := range e.subscribers {
		for _, sub := range subs {
			close(sub.done)
		}
	}
	e.subscribers = make(map[string]map[uint64]*subscription)
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

func (e *EventBus) deliver(ctx context.Context, sub *subscription) {
	defer e.wg.Done()
	defer e.unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case event := <-sub.events:
			if err := sub.handler(ctx, event); err != nil {
				e.logger.Debug("handler error",
					zap.String("topic", sub.topic),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}
	}
}

// unsubscribe removes a subscription from its topic
func (e *EventBus) unsubscribe(sub *subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if subs, ok := e.subscribers[sub.topic]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(e.subscribers, sub.topic)
		}
	}
}
