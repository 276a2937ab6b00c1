package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/sigtrend/internal/types"
)

func TestEnsureProcessingState(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	state, err := store.GetProcessingState(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, state)

	state, err = store.EnsureProcessingState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.PhasePending, state.Phase)
	assert.Nil(t, state.StartedAt)

	// Idempotent: existing state is left alone.
	require.NoError(t, store.TransitionPhase(ctx, "p1", types.PhasePending, types.PhaseEmbedding, ""))
	state, err = store.EnsureProcessingState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseEmbedding, state.Phase)

	_, err = store.EnsureProcessingState(ctx, "p2")
	require.NoError(t, err)
	states, err := store.ListProcessingStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 2)
}

func TestTransitionPhase(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	_, err := store.EnsureProcessingState(ctx, "p1")
	require.NoError(t, err)

	// Invalid transition rejected before touching the database.
	err = store.TransitionPhase(ctx, "p1", types.PhasePending, types.PhaseComplete, "")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	require.NoError(t, store.TransitionPhase(ctx, "p1", types.PhasePending, types.PhaseEmbedding, ""))

	// Stale "from" is a conflict.
	err = store.TransitionPhase(ctx, "p1", types.PhasePending, types.PhaseEmbedding, "")
	assert.ErrorIs(t, err, types.ErrPhaseConflict)

	require.NoError(t, store.TransitionPhase(ctx, "p1", types.PhaseEmbedding, types.PhaseSimilarity, ""))
	require.NoError(t, store.TransitionPhase(ctx, "p1", types.PhaseSimilarity, types.PhaseError, "boom"))

	state, err := store.GetProcessingState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseError, state.Phase)
	assert.Equal(t, types.PhaseSimilarity, state.FailedPhase)
	assert.Equal(t, "boom", state.ErrorMessage)

	// Error re-enters only the phase it failed in.
	err = store.TransitionPhase(ctx, "p1", types.PhaseError, types.PhaseEmbedding, "")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	require.NoError(t, store.TransitionPhase(ctx, "p1", types.PhaseError, types.PhaseSimilarity, ""))
	state, err = store.GetProcessingState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseSimilarity, state.Phase)
	assert.Empty(t, state.ErrorMessage)
	assert.Empty(t, state.FailedPhase)

	err = store.TransitionPhase(ctx, "missing", types.PhasePending, types.PhaseEmbedding, "")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestConcurrentTransitionsOnlyOneWins(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	_, err := store.EnsureProcessingState(ctx, "p1")
	require.NoError(t, err)

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- store.TransitionPhase(ctx, "p1", types.PhasePending, types.PhaseEmbedding, "")
		}()
	}

	wins := 0
	for i := 0; i < n; i++ {
		err := <-errs
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, types.ErrPhaseConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestUpdateProcessingState(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	_, err := store.EnsureProcessingState(ctx, "p1")
	require.NoError(t, err)

	started := time.Date(2026, 5, 1, 9, 30, 0, 123, time.UTC)
	require.NoError(t, store.UpdateProcessingState(ctx, "p1", map[string]interface{}{
		"total_signals":       10,
		"embedding_completed": 4,
		"started_at":          started,
	}))

	state, err := store.GetProcessingState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, state.TotalSignals)
	assert.Equal(t, 4, state.EmbeddingCompleted)
	require.NotNil(t, state.StartedAt)
	assert.True(t, started.Equal(*state.StartedAt))

	err = store.UpdateProcessingState(ctx, "p1", map[string]interface{}{"phase": "complete"})
	assert.Error(t, err, "phase is only changed through TransitionPhase")

	err = store.UpdateProcessingState(ctx, "p1", map[string]interface{}{"verification_failed": -1})
	assert.Error(t, err)

	err = store.UpdateProcessingState(ctx, "missing", map[string]interface{}{"total_signals": 1})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestResetProcessingState(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	createSignals(t, store, "p1", 2)
	_, err := store.EnsureProcessingState(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, store.SaveEmbedding(ctx, "p1-s0", []float32{1}))
	require.NoError(t, store.TransitionPhase(ctx, "p1", types.PhasePending, types.PhaseError, "bad key"))
	require.NoError(t, store.UpdateProcessingState(ctx, "p1", map[string]interface{}{"embedding_completed": 1}))

	require.NoError(t, store.ResetProcessingState(ctx, "p1", false))
	state, err := store.GetProcessingState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.PhasePending, state.Phase)
	assert.Zero(t, state.EmbeddingCompleted)
	assert.Empty(t, state.ErrorMessage)

	sig, err := store.GetSignal(ctx, "p1-s0")
	require.NoError(t, err)
	assert.NotNil(t, sig.Embedding, "signal data kept without clearDerived")

	require.NoError(t, store.ResetProcessingState(ctx, "p1", true))
	sig, err = store.GetSignal(ctx, "p1-s0")
	require.NoError(t, err)
	assert.Nil(t, sig.Embedding)

	assert.ErrorIs(t, store.ResetProcessingState(ctx, "missing", false), types.ErrNotFound)
}

func TestFailureBeforeWorkResumesIntoEmbedding(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	_, err := store.EnsureProcessingState(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, store.TransitionPhase(ctx, "p1", types.PhasePending, types.PhaseError, "count failed"))
	state, err := store.GetProcessingState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseEmbedding, state.FailedPhase)

	require.NoError(t, store.TransitionPhase(ctx, "p1", types.PhaseError, types.PhaseEmbedding, ""))
}
