package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/steveyegge/sigtrend/internal/types"
)

// RecordRunStart inserts a running attempt numbered one past the project's
// previous highest
func (s *PostgresStorage) RecordRunStart(ctx context.Context, attempt *types.RunAttempt) error {
	attempt.Outcome = types.RunRunning
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = time.Now()
	}
	if err := attempt.Validate(); err != nil {
		return fmt.Errorf("invalid run attempt: %w", err)
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO run_history (project_id, attempt_number, start_phase, outcome, started_at)
		SELECT $1, COALESCE(MAX(attempt_number), 0) + 1, $2, $3, $4
		FROM run_history WHERE project_id = $1
		RETURNING id, attempt_number
	`, attempt.ProjectID, string(attempt.StartPhase), string(attempt.Outcome), attempt.StartedAt,
	).Scan(&attempt.ID, &attempt.AttemptNumber)
	if err != nil {
		return fmt.Errorf("failed to insert run attempt: %w", err)
	}
	return nil
}

// FinishRun records how a run ended
func (s *PostgresStorage) FinishRun(ctx context.Context, id int64, endPhase types.Phase, outcome types.RunOutcome, errorMessage string) error {
	if !outcome.IsValid() || outcome == types.RunRunning {
		return fmt.Errorf("invalid final outcome: %s", outcome)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE run_history
		SET end_phase = $1, outcome = $2, error_message = $3, completed_at = NOW()
		WHERE id = $4
	`, string(endPhase), string(outcome), errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to finish run attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run attempt %d: %w", id, types.ErrNotFound)
	}
	return nil
}

// ListRuns returns a project's runs, newest first
func (s *PostgresStorage) ListRuns(ctx context.Context, projectID string, limit int) ([]*types.RunAttempt, error) {
	query := `
		SELECT id, project_id, attempt_number, start_phase, end_phase,
		       outcome, error_message, started_at, completed_at
		FROM run_history
		WHERE project_id = $1
		ORDER BY attempt_number DESC
	`
	args := []interface{}{projectID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*types.RunAttempt, error) {
		var (
			a                             types.RunAttempt
			startPhase, endPhase, outcome string
		)
		if err := row.Scan(&a.ID, &a.ProjectID, &a.AttemptNumber, &startPhase, &endPhase,
			&outcome, &a.Error, &a.StartedAt, &a.CompletedAt); err != nil {
			return nil, err
		}
		a.StartPhase = types.Phase(startPhase)
		a.EndPhase = types.Phase(endPhase)
		a.Outcome = types.RunOutcome(outcome)
		return &a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan run history: %w", err)
	}
	return runs, nil
}
