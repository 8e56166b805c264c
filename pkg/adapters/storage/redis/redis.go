package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/a2aflow/pkg/domain"
	"github.com/aescanero/a2aflow/pkg/ports"
)

const keyPrefix = "a2aflow:execution:"

// ExecutionStore implements ports.ExecutionStore using Redis
type ExecutionStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewExecutionStore creates a new Redis execution store. A zero ttl keeps records forever.
func NewExecutionStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ExecutionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutionStore{
		client: client,
		logger: logger.With(zap.String("component", "execution_store")),
		ttl:    ttl,
	}
}

// Save persists an execution record (ports.ExecutionStore interface)
func (s *ExecutionStore) Save(ctx context.Context, exec *domain.Execution) error {
	key := getExecutionKey(exec.ID)

	// Serialize execution
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	// Save to Redis with TTL
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	s.logger.Debug("execution saved",
		zap.String("execution_id", exec.ID),
		zap.String("status", string(exec.Status)))

	return nil
}

// Get retrieves an execution record (ports.ExecutionStore interface)
func (s *ExecutionStore) Get(ctx context.Context, id string) (*domain.Execution, error) {
	data, err := s.client.Get(ctx, getExecutionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("execution %s: %w", id, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	var exec domain.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	return &exec, nil
}

// Delete removes an execution record (ports.ExecutionStore interface)
func (s *ExecutionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, getExecutionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}

	s.logger.Debug("execution deleted", zap.String("execution_id", id))
	return nil
}

// List returns all stored execution IDs (ports.ExecutionStore interface)
func (s *ExecutionStore) List(ctx context.Context) ([]string, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	// Extract execution IDs from keys
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if len(key) > len(keyPrefix) {
			ids = append(ids, key[len(keyPrefix):])
		}
	}

	return ids, nil
}

// getExecutionKey returns the Redis key for an execution record
func getExecutionKey(id string) string {
	return keyPrefix + id
}
