package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/a2aflow/pkg/adapters/composites"
	"github.com/aescanero/a2aflow/pkg/domain"
)

func setupStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewStore(client, nil)
}

func TestStore_SaveAndLoad(t *testing.T) {
	mr, s := setupStore(t)
	ctx := context.Background()

	def := &domain.CompositeDefinition{
		Method:    "run",
		Seed:      map[string]any{"tone": "dry"},
		OutputKey: "summary",
		Graph: domain.Graph{
			Steps: []domain.Step{{ID: "a", Agent: "x", Method: "m", Next: "b"}, {ID: "b", Agent: "y", Method: "m"}},
		},
	}
	require.NoError(t, s.Save(ctx, "digest", def))
	assert.True(t, mr.Exists(DefaultKey))

	defs, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Contains(t, defs, "digest")

	got := defs["digest"]
	assert.Equal(t, "digest", got.Name)
	assert.Equal(t, "summary", got.OutputKey)
	assert.Equal(t, map[string]any{"tone": "dry"}, got.Seed)
	assert.Equal(t, "b", got.Graph.Steps[0].Next)
}

func TestStore_SkipsCorruptFields(t *testing.T) {
	mr, s := setupStore(t)
	mr.HSet(DefaultKey, "broken", "{not json")

	require.NoError(t, s.Save(context.Background(), "fine", &domain.CompositeDefinition{Method: "run"}))

	defs, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, defs, 1)
	assert.Contains(t, defs, "fine")
}

func TestStore_RejectsCycle(t *testing.T) {
	_, s := setupStore(t)
	err := s.Save(context.Background(), "loop", &domain.CompositeDefinition{
		Method: "run",
		Graph: domain.Graph{
			Steps: []domain.Step{{ID: "a", Next: "b"}, {ID: "b", Next: "a"}},
		},
	})
	assert.ErrorIs(t, err, composites.ErrInvalidDefinition)
}

func TestStore_RedisDown(t *testing.T) {
	mr, s := setupStore(t)
	mr.Close()

	_, err := s.LoadAll(context.Background())
	assert.Error(t, err)
}
