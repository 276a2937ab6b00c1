package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/sigtrend/internal/types"
)

const stateColumns = `project_id, total_signals, embedding_completed, similarity_completed,
	verification_completed, verification_failed, phase, failed_phase, error_message,
	started_at, completed_at, updated_at`

// allowedStateFields lists the columns UpdateProcessingState may write
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
func (s *SQLiteStorage) EnsureProcessingState(ctx context.Context, projectID string) (*types.ProcessingState, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_state (project_id, phase, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO NOTHING
	`, projectID, types.PhasePending, formatTime(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to create processing state: %w", err)
	}
	return s.GetProcessingState(ctx, projectID)
}

// GetProcessingState retrieves the processing state for a project.
// Returns nil, nil when the project has none.
func (s *SQLiteStorage) GetProcessingState(ctx context.Context, projectID string) (*types.ProcessingState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM processing_state WHERE project_id = ?`, projectID)
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
func (s *SQLiteStorage) ListProcessingStates(ctx context.Context) ([]*types.ProcessingState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stateColumns+` FROM processing_state ORDER BY project_id`)
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

// TransitionPhase atomically moves a project between phases. The UPDATE's
// WHERE clause checks the current phase so a concurrent writer cannot be
// overwritten.
func (s *SQLiteStorage) TransitionPhase(ctx context.Context, projectID string, from, to types.Phase, errorMessage string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s → %s", types.ErrInvalidTransition, from, to)
	}

	now := formatTime(time.Now())
	var (
		result sql.Result
		err    error
	)
	switch {
	case to == types.PhaseError:
		// A failure before any work started resumes into the first work phase
		failed := from
		if !failed.IsWork() {
			failed = from.Next()
		}
		result, err = s.db.ExecContext(ctx, `
			UPDATE processing_state
			SET phase = ?, failed_phase = ?, error_message = ?, updated_at = ?
			WHERE project_id = ? AND phase = ?
		`, to, failed, errorMessage, now, projectID, from)
	case from == types.PhaseError:
		// Only the phase that failed may be re-entered
		result, err = s.db.ExecContext(ctx, `
			UPDATE processing_state
			SET phase = ?, failed_phase = '', error_message = '', updated_at = ?
			WHERE project_id = ? AND phase = ? AND (failed_phase = ? OR failed_phase = '')
		`, to, now, projectID, from, to)
	default:
		result, err = s.db.ExecContext(ctx, `
			UPDATE processing_state
			SET phase = ?, updated_at = ?
			WHERE project_id = ? AND phase = ?
		`, to, now, projectID, from)
	}
	if err != nil {
		return fmt.Errorf("failed to update phase: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
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
	return nil
}

// UpdateProcessingState updates counters and timestamps
func (s *SQLiteStorage) UpdateProcessingState(ctx context.Context, projectID string, updates map[string]interface{}) error {
	setClauses := []string{"updated_at = ?"}
	args := []interface{}{formatTime(time.Now())}

	for key, value := range updates {
		// Prevent SQL injection by validating field names
		if !allowedStateFields[key] {
			return fmt.Errorf("invalid field for update: %s", key)
		}
		switch v := value.(type) {
		case int:
			if v < 0 {
				return fmt.Errorf("%s cannot be negative (got %d)", key, v)
			}
			args = append(args, v)
		case time.Time:
			args = append(args, formatTime(v))
		case *time.Time:
			if v == nil {
				args = append(args, nil)
			} else {
				args = append(args, formatTime(*v))
			}
		case nil:
			args = append(args, nil)
		default:
			return fmt.Errorf("unsupported value type %T for %s", value, key)
		}
		setClauses = append(setClauses, key+" = ?")
	}
	args = append(args, projectID)

	result, err := s.db.ExecContext(ctx,
		`UPDATE processing_state SET `+strings.Join(setClauses, ", ")+` WHERE project_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update processing state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("processing state for project %s: %w", projectID, types.ErrNotFound)
	}
	return nil
}

// ResetProcessingState returns the project to pending
func (s *SQLiteStorage) ResetProcessingState(ctx context.Context, projectID string, clearDerived bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	result, err := tx.ExecContext(ctx, `
		UPDATE processing_state
		SET phase = ?, failed_phase = '', error_message = '',
		    embedding_completed = 0, similarity_completed = 0,
		    verification_completed = 0, verification_failed = 0,
		    started_at = NULL, completed_at = NULL, updated_at = ?
		WHERE project_id = ?
	`, types.PhasePending, now, projectID)
	if err != nil {
		return fmt.Errorf("failed to reset processing state: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if rows == 0 {
		return fmt.Errorf("processing state for project %s: %w", projectID, types.ErrNotFound)
	}

	if clearDerived {
		_, err = tx.ExecContext(ctx, `
			UPDATE signals
			SET verified = NULL, candidates = NULL, embedding = NULL, embedding_error = NULL, updated_at = ?
			WHERE project_id = ?
		`, now, projectID)
		if err != nil {
			return fmt.Errorf("failed to clear signal data: %w", err)
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*types.ProcessingState, error) {
	var (
		state                           types.ProcessingState
		phase, failedPhase              string
		startedAt, completedAt, updated sql.NullString
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
		&startedAt,
		&completedAt,
		&updated,
	); err != nil {
		return nil, err
	}
	state.Phase = types.Phase(phase)
	state.FailedPhase = types.Phase(failedPhase)

	var err error
	if state.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("bad started_at: %w", err)
	}
	if state.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("bad completed_at: %w", err)
	}
	if t, err := parseNullTime(updated); err != nil {
		return nil, fmt.Errorf("bad updated_at: %w", err)
	} else if t != nil {
		state.UpdatedAt = *t
	}
	return &state, nil
}

// isNoRows reports whether err is sql.ErrNoRows
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
