package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/steveyegge/sigtrend/internal/types"
)

const stateColumns = `project_id, total_signals, embedding_completed, similarity_completed,
	verification_completed, verification_failed, phase, failed_phase, error_message,
	started_at, completed_at, updated_at`

// Allowed fields for update to prevent SQL injection
var allowedStateFields = map[string]bool{
	"total_signals":          true,
	"embedding_completed":    true,
	"similarity_completed":   true,
	"verification_completed": true,
	"verification_failed":    true,
	"started_at":             true,
	"completed_at":           true,
}

// EnsureProcessingState returns the project's state, creating a pending
// record if none exists
func (s *PostgresStorage) EnsureProcessingState(ctx context.Context, projectID string) (*types.ProcessingState, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processing_state (project_id, phase)
		VALUES ($1, $2)
		ON CONFLICT (project_id) DO NOTHING
	`, projectID, string(types.PhasePending))
	if err != nil {
		return nil, fmt.Errorf("failed to create processing state: %w", err)
	}
	return s.GetProcessingState(ctx, projectID)
}

// GetProcessingState returns nil, nil when the project has no state
func (s *PostgresStorage) GetProcessingState(ctx context.Context, projectID string) (*types.ProcessingState, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+stateColumns+` FROM processing_state WHERE project_id = $1`, projectID)
	state, err := scanState(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processing state: %w", err)
	}
	return state, nil
}

// ListProcessingStates returns every project's state ordered by project id
func (s *PostgresStorage) ListProcessingStates(ctx context.Context) ([]*types.ProcessingState, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+stateColumns+` FROM processing_state ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing states: %w", err)
	}
	defer rows.Close()

	var states []*types.ProcessingState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan processing state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// TransitionPhase is a compare-and-set on the phase column
func (s *PostgresStorage) TransitionPhase(ctx context.Context, projectID string, from, to types.Phase, errorMessage string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s → %s", types.ErrInvalidTransition, from, to)
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	switch {
	case to == types.PhaseError:
		failed := from
		if !failed.IsWork() {
			failed = from.Next()
		}
		tag, err = s.pool.Exec(ctx, `
			UPDATE processing_state
			SET phase = $1, failed_phase = $2, error_message = $3, updated_at = NOW()
			WHERE project_id = $4 AND phase = $5
		`, string(to), string(failed), errorMessage, projectID, string(from))
	case from == types.PhaseError:
		tag, err = s.pool.Exec(ctx, `
			UPDATE processing_state
			SET phase = $1, failed_phase = '', error_message = '', updated_at = NOW()
			WHERE project_id = $2 AND phase = $3 AND failed_phase IN ($1, '')
		`, string(to), projectID, string(from))
	default:
		tag, err = s.pool.Exec(ctx, `
			UPDATE processing_state
			SET phase = $1, updated_at = NOW()
			WHERE project_id = $2 AND phase = $3
		`, string(to), projectID, string(from))
	}
	if err != nil {
		return fmt.Errorf("failed to update phase: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, err := s.GetProcessingState(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to verify processing state: %w", err)
	}
	if current == nil {
		return fmt.Errorf("processing state for project %s: %w", projectID, types.ErrNotFound)
	}
	if current.Phase == from && from == types.PhaseError {
		return fmt.Errorf("%w: project %s failed in %s, cannot resume into %s",
			types.ErrInvalidTransition, projectID, current.FailedPhase, to)
	}
	return fmt.Errorf("%w: expected %s but found %s", types.ErrPhaseConflict, from, current.Phase)
}

// UpdateProcessingState updates counters and timestamps
func (s *PostgresStorage) UpdateProcessingState(ctx context.Context, projectID string, updates map[string]interface{}) error {
	setClauses := []string{"updated_at = NOW()"}
	args := []interface{}{}
	paramIndex := 1

	for key, value := range updates {
		if !allowedStateFields[key] {
			return fmt.Errorf("invalid field for update: %s", key)
		}
		switch v := value.(type) {
		case int:
			if v < 0 {
				return fmt.Errorf("%s cannot be negative (got %d)", key, v)
			}
		case time.Time, *time.Time, nil:
		default:
			return fmt.Errorf("unsupported value type %T for %s", value, key)
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", key, paramIndex))
		args = append(args, value)
		paramIndex++
	}
	args = append(args, projectID)

	query := fmt.Sprintf("UPDATE processing_state SET %s WHERE project_id = $%d",
		strings.Join(setClauses, ", "), paramIndex)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update processing state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("processing state for project %s: %w", projectID, types.ErrNotFound)
	}
	return nil
}

// ResetProcessingState returns the project to pending
func (s *PostgresStorage) ResetProcessingState(ctx context.Context, projectID string, clearDerived bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE processing_state
		SET phase = $1, failed_phase = '', error_message = '',
		    embedding_completed = 0, similarity_completed = 0,
		    verification_completed = 0, verification_failed = 0,
		    started_at = NULL, completed_at = NULL, updated_at = NOW()
		WHERE project_id = $2
	`, string(types.PhasePending), projectID)
	if err != nil {
		return fmt.Errorf("failed to reset processing state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("processing state for project %s: %w", projectID, types.ErrNotFound)
	}

	if clearDerived {
		_, err = tx.Exec(ctx, `
			UPDATE signals
			SET verified = NULL, candidates = NULL, embedding = NULL, embedding_error = NULL, updated_at = NOW()
			WHERE project_id = $1
		`, projectID)
		if err != nil {
			return fmt.Errorf("failed to clear signal data: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func scanState(row pgx.Row) (*types.ProcessingState, error) {
	var (
		state              types.ProcessingState
		phase, failedPhase string
	)
	if err := row.Scan(
		&state.ProjectID,
		&state.TotalSignals,
		&state.EmbeddingCompleted,
		&state.SimilarityCompleted,
		&state.VerificationCompleted,
		&state.VerificationFailed,
		&phase,
		&failedPhase,
		&state.ErrorMessage,
		&state.StartedAt,
		&state.CompletedAt,
		&state.UpdatedAt,
	); err != nil {
		return nil, err
	}
	state.Phase = types.Phase(phase)
	state.FailedPhase = types.Phase(failedPhase)
	return &state, nil
}
