package postgres

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/steveyegge/sigtrend/internal/types"
)

// getTestConfig returns a config for testing based on environment variables
func getTestConfig() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("SIGTREND_TEST_PG_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("SIGTREND_TEST_PG_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if db := os.Getenv("SIGTREND_TEST_PG_DATABASE"); db != "" {
		cfg.Database = db
	}
	if user := os.Getenv("SIGTREND_TEST_PG_USER"); user != "" {
		cfg.User = user
	}
	if pass := os.Getenv("SIGTREND_TEST_PG_PASSWORD"); pass != "" {
		cfg.Password = pass
	}

	return cfg
}

// setupTestStorage creates a test storage and cleans up the database
func setupTestStorage(t *testing.T) *PostgresStorage {
	ctx := context.Background()

	storage, err := New(ctx, getTestConfig())
	if err != nil {
		t.Skipf("Skipping PostgreSQL test (database not available): %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	if _, err := storage.pool.Exec(ctx, `TRUNCATE TABLE signals, processing_state, run_history RESTART IDENTITY`); err != nil {
		t.Fatalf("Failed to clean up test database: %v", err)
	}
	return storage
}

func TestConfigConnString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "pw"
	want := "postgres://sigtrend:pw@localhost:5432/sigtrend?sslmode=prefer"
	if got := cfg.ConnString(); got != want {
		t.Errorf("ConnString() = %q, want %q", got, want)
	}
}

func TestConfigConnStringEscapesCredentials(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
	}{
		{"reserved characters", "sigtrend", "p@ss/w:rd"},
		{"query characters", "sigtrend", "a?b#c&d=e"},
		{"user with at sign", "svc@tenant", "pw"},
		{"spaces and percent", "sigtrend", "100% sure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.User = tt.user
			cfg.Password = tt.password

			parsed, err := pgxpool.ParseConfig(cfg.ConnString())
			if err != nil {
				t.Fatalf("ParseConfig(%q) failed: %v", cfg.ConnString(), err)
			}
			if got := parsed.ConnConfig.User; got != tt.user {
				t.Errorf("user = %q, want %q", got, tt.user)
			}
			if got := parsed.ConnConfig.Password; got != tt.password {
				t.Errorf("password = %q, want %q", got, tt.password)
			}
			if got := parsed.ConnConfig.Database; got != cfg.Database {
				t.Errorf("database = %q, want %q", got, cfg.Database)
			}
			if got := parsed.ConnConfig.Port; int(got) != cfg.Port {
				t.Errorf("port = %d, want %d", got, cfg.Port)
			}
		})
	}
}

func TestSignalLifecycle(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	err := storage.CreateSignals(ctx, []*types.Signal{
		{ID: "a", ProjectID: "p1", Text: "login is slow"},
		{ID: "b", ProjectID: "p1", Text: "search is slow"},
	})
	if err != nil {
		t.Fatalf("CreateSignals failed: %v", err)
	}

	if err := storage.SaveCandidates(ctx, "a", nil); !errors.Is(err, types.ErrPrerequisiteMissing) {
		t.Errorf("expected ErrPrerequisiteMissing, got %v", err)
	}
	if err := storage.SaveEmbedding(ctx, "a", []float32{0.5, -0.25}); err != nil {
		t.Fatalf("SaveEmbedding failed: %v", err)
	}
	if err := storage.SaveCandidates(ctx, "a", []types.SimilarityScore{{NeighborID: "b", Score: 0.8}}); err != nil {
		t.Fatalf("SaveCandidates failed: %v", err)
	}
	if err := storage.SaveVerified(ctx, "a", []types.SimilarityScore{}); err != nil {
		t.Fatalf("SaveVerified failed: %v", err)
	}

	sig, err := storage.GetSignal(ctx, "a")
	if err != nil {
		t.Fatalf("GetSignal failed: %v", err)
	}
	if len(sig.Embedding) != 2 || sig.Embedding[1] != -0.25 {
		t.Errorf("unexpected embedding %v", sig.Embedding)
	}
	if sig.Verified == nil || len(sig.Verified) != 0 {
		t.Errorf("expected empty non-nil verified, got %#v", sig.Verified)
	}

	n, err := storage.CountSignals(ctx, types.SignalFilter{ProjectID: "p1", Verified: types.FieldEmpty})
	if err != nil {
		t.Fatalf("CountSignals failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 empty-verified signal, got %d", n)
	}

	pending, err := storage.ListSignals(ctx, types.SignalFilter{ProjectID: "p1", Embedding: types.FieldNull})
	if err != nil {
		t.Fatalf("ListSignals failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "b" {
		t.Errorf("expected only b without embedding, got %v", pending)
	}

	texts, err := storage.GetSignalTexts(ctx, "p1", []string{"a", "b", "zz"})
	if err != nil {
		t.Fatalf("GetSignalTexts failed: %v", err)
	}
	if len(texts) != 2 {
		t.Errorf("expected 2 texts, got %v", texts)
	}
}

func TestProcessingStateTransitions(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	if _, err := storage.EnsureProcessingState(ctx, "p1"); err != nil {
		t.Fatalf("EnsureProcessingState failed: %v", err)
	}
	if err := storage.TransitionPhase(ctx, "p1", types.PhasePending, types.PhaseEmbedding, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := storage.TransitionPhase(ctx, "p1", types.PhasePending, types.PhaseEmbedding, ""); !errors.Is(err, types.ErrPhaseConflict) {
		t.Errorf("expected ErrPhaseConflict, got %v", err)
	}
	if err := storage.TransitionPhase(ctx, "p1", types.PhaseEmbedding, types.PhaseError, "embedder down"); err != nil {
		t.Fatalf("transition to error failed: %v", err)
	}
	if err := storage.TransitionPhase(ctx, "p1", types.PhaseError, types.PhaseVerification, ""); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if err := storage.TransitionPhase(ctx, "p1", types.PhaseError, types.PhaseEmbedding, ""); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	if err := storage.UpdateProcessingState(ctx, "p1", map[string]interface{}{"embedding_completed": 3}); err != nil {
		t.Fatalf("UpdateProcessingState failed: %v", err)
	}
	state, err := storage.GetProcessingState(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProcessingState failed: %v", err)
	}
	if state.EmbeddingCompleted != 3 || state.ErrorMessage != "" {
		t.Errorf("unexpected state %+v", state)
	}

	if err := storage.ResetProcessingState(ctx, "p1", true); err != nil {
		t.Fatalf("ResetProcessingState failed: %v", err)
	}
	state, err = storage.GetProcessingState(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProcessingState failed: %v", err)
	}
	if state.Phase != types.PhasePending || state.EmbeddingCompleted != 0 {
		t.Errorf("reset did not return to pending: %+v", state)
	}
}

func TestRunHistory(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	first := &types.RunAttempt{ProjectID: "p1", StartPhase: types.PhaseEmbedding}
	if err := storage.RecordRunStart(ctx, first); err != nil {
		t.Fatalf("RecordRunStart failed: %v", err)
	}
	if first.AttemptNumber != 1 || first.ID == 0 {
		t.Errorf("unexpected first attempt %+v", first)
	}
	if err := storage.FinishRun(ctx, first.ID, types.PhaseComplete, types.RunComplete, ""); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	second := &types.RunAttempt{ProjectID: "p1", StartPhase: types.PhaseVerification}
	if err := storage.RecordRunStart(ctx, second); err != nil {
		t.Fatalf("RecordRunStart failed: %v", err)
	}
	if second.AttemptNumber != 2 {
		t.Errorf("expected attempt 2, got %d", second.AttemptNumber)
	}

	runs, err := storage.ListRuns(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", runs)
	}
	if runs[1].Outcome != types.RunComplete || runs[1].CompletedAt == nil {
		t.Errorf("first run not finished: %+v", runs[1])
	}

	if err := storage.FinishRun(ctx, 9999, types.PhaseComplete, types.RunComplete, ""); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
