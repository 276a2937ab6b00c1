package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/steveyegge/sigtrend/internal/types"
)

// RecordRunStart inserts a running attempt. AttemptNumber is one more than
// the project's previous highest.
func (s *SQLiteStorage) RecordRunStart(ctx context.Context, attempt *types.RunAttempt) error {
	attempt.Outcome = types.RunRunning
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = time.Now()
	}
	if err := attempt.Validate(); err != nil {
		return fmt.Errorf("invalid run attempt: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxAttempt sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(attempt_number) FROM run_history WHERE project_id = ?`, attempt.ProjectID,
	).Scan(&maxAttempt); err != nil {
		return fmt.Errorf("failed to get max attempt number: %w", err)
	}
	attempt.AttemptNumber = int(maxAttempt.Int64) + 1

	result, err := tx.ExecContext(ctx, `
		INSERT INTO run_history (project_id, attempt_number, start_phase, outcome, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, attempt.ProjectID, attempt.AttemptNumber, attempt.StartPhase, attempt.Outcome, formatTime(attempt.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to insert run attempt: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get run attempt id: %w", err)
	}
	attempt.ID = id

	return tx.Commit()
}

// FinishRun records how a run ended
func (s *SQLiteStorage) FinishRun(ctx context.Context, id int64, endPhase types.Phase, outcome types.RunOutcome, errorMessage string) error {
	if !outcome.IsValid() || outcome == types.RunRunning {
		return fmt.Errorf("invalid final outcome: %s", outcome)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE run_history
		SET end_phase = ?, outcome = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`, endPhase, outcome, errorMessage, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to finish run attempt: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run attempt %d: %w", id, types.ErrNotFound)
	}
	return nil
}

// ListRuns returns a project's runs, newest first
func (s *SQLiteStorage) ListRuns(ctx context.Context, projectID string, limit int) ([]*types.RunAttempt, error) {
	query := `
		SELECT id, project_id, attempt_number, start_phase, end_phase,
		       outcome, error_message, started_at, completed_at
		FROM run_history
		WHERE project_id = ?
		ORDER BY attempt_number DESC
	`
	args := []interface{}{projectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*types.RunAttempt
	for rows.Next() {
		a := &types.RunAttempt{}
		var startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.AttemptNumber, &a.StartPhase, &a.EndPhase,
			&a.Outcome, &a.Error, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run attempt: %w", err)
		}
		if a.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("failed to parse started_at: %w", err)
		}
		if a.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, fmt.Errorf("failed to parse completed_at: %w", err)
		}
		runs = append(runs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run history rows: %w", err)
	}
	return runs, nil
}
