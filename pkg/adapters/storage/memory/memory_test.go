package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/a2aflow/pkg/domain"
	"github.com/aescanero/a2aflow/pkg/ports"
)

func TestExecutionStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewExecutionStore()

	exec := &domain.Execution{
		ID:          "e1",
		Status:      domain.ExecutionStatusRunning,
		Inputs:      map[string]any{"q": "go"},
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Save(ctx, exec))

	exec.Status = domain.ExecutionStatusFailed
	got, err := s.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusRunning, got.Status, "stored record is isolated from the caller")
	assert.Equal(t, "go", got.Inputs["q"])

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, ids)

	require.NoError(t, s.Delete(ctx, "e1"))
	_, err = s.Get(ctx, "e1")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}
