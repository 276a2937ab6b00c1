package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/sigtrend/internal/types"
)

func TestRunHistory(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	first := &types.RunAttempt{ProjectID: "p1", StartPhase: types.PhaseEmbedding}
	require.NoError(t, store.RecordRunStart(ctx, first))
	assert.NotZero(t, first.ID)
	assert.Equal(t, 1, first.AttemptNumber)
	assert.Equal(t, types.RunRunning, first.Outcome)

	require.NoError(t, store.FinishRun(ctx, first.ID, types.PhaseSimilarity, types.RunFailed, "boom"))

	second := &types.RunAttempt{ProjectID: "p1", StartPhase: types.PhaseSimilarity}
	require.NoError(t, store.RecordRunStart(ctx, second))
	assert.Equal(t, 2, second.AttemptNumber)

	other := &types.RunAttempt{ProjectID: "p2", StartPhase: types.PhaseEmbedding}
	require.NoError(t, store.RecordRunStart(ctx, other))
	assert.Equal(t, 1, other.AttemptNumber, "attempt numbers are per project")

	runs, err := store.ListRuns(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, second.ID, runs[0].ID, "newest first")
	assert.Equal(t, types.RunRunning, runs[0].Outcome)
	assert.Nil(t, runs[0].CompletedAt)

	assert.Equal(t, types.RunFailed, runs[1].Outcome)
	assert.Equal(t, types.PhaseSimilarity, runs[1].EndPhase)
	assert.Equal(t, "boom", runs[1].Error)
	require.NotNil(t, runs[1].CompletedAt)
	assert.GreaterOrEqual(t, runs[1].Duration(), time.Duration(0))

	limited, err := store.ListRuns(ctx, "p1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, 2, limited[0].AttemptNumber)
}

func TestFinishRunErrors(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	err := store.FinishRun(ctx, 999, types.PhaseComplete, types.RunComplete, "")
	assert.ErrorIs(t, err, types.ErrNotFound)

	a := &types.RunAttempt{ProjectID: "p1", StartPhase: types.PhaseEmbedding}
	require.NoError(t, store.RecordRunStart(ctx, a))
	assert.Error(t, store.FinishRun(ctx, a.ID, types.PhaseEmbedding, types.RunRunning, ""))
	assert.Error(t, store.FinishRun(ctx, a.ID, types.PhaseEmbedding, "done", ""))
}

func TestRecordRunStartValidates(t *testing.T) {
	store := setupTestStorage(t)
	err := store.RecordRunStart(context.Background(), &types.RunAttempt{StartPhase: types.PhaseEmbedding})
	assert.Error(t, err)
}
