package storage

import (
	"context"
	"fmt"

	"github.com/steveyegge/sigtrend/internal/storage/postgres"
	"github.com/steveyegge/sigtrend/internal/storage/sqlite"
	"github.com/steveyegge/sigtrend/internal/types"
)

// Storage is the persistent store for signals and per-project processing
// state. Implementations serialize concurrent writes.
type Storage interface {
	// Processing state
	EnsureProcessingState(ctx context.Context, projectID string) (*types.ProcessingState, error)
	GetProcessingState(ctx context.Context, projectID string) (*types.ProcessingState, error)
	ListProcessingStates(ctx context.Context) ([]*types.ProcessingState, error)
	// TransitionPhase moves a project from one phase to another with a
	// compare-and-set on the current phase. Entering PhaseError records
	// errorMessage and the phase being left; leaving it clears both.
	TransitionPhase(ctx context.Context, projectID string, from, to types.Phase, errorMessage string) error
	// UpdateProcessingState sets counters and timestamps. Keys are column
	// names; unknown keys are rejected.
	UpdateProcessingState(ctx context.Context, projectID string, updates map[string]interface{}) error
	// ResetProcessingState returns a project to pending with zeroed
	// counters. With clearDerived, every signal's embedding, candidates and
	// verified neighbours are cleared too.
	ResetProcessingState(ctx context.Context, projectID string, clearDerived bool) error

	// Signals
	CreateSignals(ctx context.Context, signals []*types.Signal) error
	GetSignal(ctx context.Context, id string) (*types.Signal, error)
	// ListSignals returns matching signals in insertion order.
	ListSignals(ctx context.Context, filter types.SignalFilter) ([]*types.Signal, error)
	CountSignals(ctx context.Context, filter types.SignalFilter) (int, error)
	// GetSignalTexts resolves ids to texts; unknown ids are absent from the map.
	GetSignalTexts(ctx context.Context, projectID string, ids []string) (map[string]string, error)
	SaveEmbedding(ctx context.Context, signalID string, embedding []float32) error
	RecordEmbeddingFailure(ctx context.Context, signalID, message string) error
	SaveCandidates(ctx context.Context, signalID string, candidates []types.SimilarityScore) error
	SaveVerified(ctx context.Context, signalID string, verified []types.SimilarityScore) error

	// Run history
	// RecordRunStart inserts a running attempt and fills in its ID and
	// AttemptNumber.
	RecordRunStart(ctx context.Context, attempt *types.RunAttempt) error
	FinishRun(ctx context.Context, id int64, endPhase types.Phase, outcome types.RunOutcome, errorMessage string) error
	// ListRuns returns a project's runs, newest first. limit <= 0 means all.
	ListRuns(ctx context.Context, projectID string, limit int) ([]*types.RunAttempt, error)

	// Lifecycle
	Close() error
}

// Processing state columns accepted by UpdateProcessingState.
const (
	FieldTotalSignals          = "total_signals"
	FieldEmbeddingCompleted    = "embedding_completed"
	FieldSimilarityCompleted   = "similarity_completed"
	FieldVerificationCompleted = "verification_completed"
	FieldVerificationFailed    = "verification_failed"
	FieldStartedAt             = "started_at"
	FieldCompletedAt           = "completed_at"
)

// Backends
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and configures a backend
type Config struct {
	Backend  string           `yaml:"backend"` // "sqlite" (default) or "postgres"
	SQLite   sqlite.Config    `yaml:"sqlite"`
	Postgres *postgres.Config `yaml:"postgres"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend:  BackendSQLite,
		SQLite:   sqlite.DefaultConfig(),
		Postgres: postgres.DefaultConfig(),
	}
}

// Validate checks the selected backend's configuration
func (c *Config) Validate() error {
	switch c.Backend {
	case "", BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case BackendPostgres:
		if c.Postgres == nil || c.Postgres.Host == "" || c.Postgres.Database == "" {
			return fmt.Errorf("postgres host and database are required")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want %q or %q)", c.Backend, BackendSQLite, BackendPostgres)
	}
	return nil
}

// NewStorage opens the configured backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}

	switch cfg.Backend {
	case BackendPostgres:
		return postgres.New(ctx, cfg.Postgres)
	default:
		return sqlite.New(ctx, cfg.SQLite)
	}
}

var (
	_ Storage = (*sqlite.SQLiteStorage)(nil)
	_ Storage = (*postgres.PostgresStorage)(nil)
)
