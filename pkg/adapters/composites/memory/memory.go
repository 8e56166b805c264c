package memory

import (
	"context"
	"sync"

	"github.com/aescanero/a2aflow/pkg/adapters/composites"
	"github.com/aescanero/a2aflow/pkg/domain"
)

// Store keeps composite definitions in a map
// This is for testing and development
type Store struct {
	defs map[string]*domain.CompositeDefinition
	mu   sync.RWMutex
}

// NewStore creates a store holding the given definitions
func NewStore(defs ...*domain.CompositeDefinition) *Store {
	s := &Store{defs: make(map[string]*domain.CompositeDefinition)}
	for _, def := range defs {
		s.defs[def.Name] = def
	}
	return s
}

// LoadAll returns every stored definition (ports.CompositeStore interface)
func (s *Store) LoadAll(ctx context.Context) (map[string]*domain.CompositeDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*domain.CompositeDefinition, len(s.defs))
	for name, def := range s.defs {
		out[name] = def
	}
	return out, nil
}

// Save validates and stores def under name (ports.CompositeStore interface)
func (s *Store) Save(ctx context.Context, name string, def *domain.CompositeDefinition) error {
	if err := composites.Validate(name, def); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.defs[name] = def
	return nil
}
