package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/a2aflow/pkg/adapters/composites"
	"github.com/aescanero/a2aflow/pkg/domain"
)

// DefaultKey is the hash holding every composite definition
const DefaultKey = "a2aflow:composites"

// Store keeps composite definitions as JSON fields of one Redis hash
type Store struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewStore creates a new Redis composite store
func NewStore(client *redis.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: client,
		key:    DefaultKey,
		logger: logger.With(zap.String("component", "composite_store")),
	}
}

// LoadAll returns every stored definition (ports.CompositeStore interface)
func (s *Store) LoadAll(ctx context.Context) (map[string]*domain.CompositeDefinition, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load composites: %w", err)
	}

	defs := make(map[string]*domain.CompositeDefinition, len(fields))
	for name, data := range fields {
		var def domain.CompositeDefinition
		if err := json.Unmarshal([]byte(data), &def); err != nil {
			// Skip corrupt entries
			s.logger.Warn("skipping undecodable composite",
				zap.String("name", name),
				zap.Error(err))
			continue
		}
		defs[name] = &def
	}

	return defs, nil
}

// Save validates and stores def under name (ports.CompositeStore interface)
func (s *Store) Save(ctx context.Context, name string, def *domain.CompositeDefinition) error {
	if err := composites.Validate(name, def); err != nil {
		return err
	}

	// Serialize definition
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal composite: %w", err)
	}

	if err := s.client.HSet(ctx, s.key, name, data).Err(); err != nil {
		return fmt.Errorf("failed to save composite: %w", err)
	}

	s.logger.Debug("composite saved", zap.String("name", name))
	return nil
}
