package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/a2aflow/pkg/domain"
	"github.com/aescanero/a2aflow/pkg/ports"
)

// ExecutionStore implements ports.ExecutionStore using an in-memory map.
// Records are kept encoded so callers never share them with the store.
type ExecutionStore struct {
	records map[string][]byte
	mu      sync.RWMutex
}

// NewExecutionStore creates a new in-memory execution store
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{
		records: make(map[string][]byte),
	}
}

// Save persists an execution record (ports.ExecutionStore interface)
func (s *ExecutionStore) Save(ctx context.Context, exec *domain.Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[exec.ID] = data
	return nil
}

// Get retrieves an execution record (ports.ExecutionStore interface)
func (s *ExecutionStore) Get(ctx context.Context, id string) (*domain.Execution, error) {
	s.mu.RLock()
	data, ok := s.records[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, ports.ErrNotFound)
	}

	var exec domain.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &exec, nil
}

// Delete removes an execution record (ports.ExecutionStore interface)
func (s *ExecutionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}

// List returns all stored execution IDs (ports.ExecutionStore interface)
func (s *ExecutionStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}
