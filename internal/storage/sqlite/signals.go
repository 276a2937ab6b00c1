package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/sigtrend/internal/types"
)

const signalColumns = `id, project_id, text, embedding, candidates, verified, embedding_error, created_at, updated_at`

// maxInParams bounds the number of ids bound in one IN (...) clause
const maxInParams = 500

// CreateSignals inserts signals in one transaction
func (s *SQLiteStorage) CreateSignals(ctx context.Context, signals []*types.Signal) error {
	if len(signals) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO signals (id, project_id, text, embedding, candidates, verified, embedding_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, sig := range signals {
		if err := sig.Validate(); err != nil {
			return fmt.Errorf("invalid signal: %w", err)
		}
		if sig.CreatedAt.IsZero() {
			sig.CreatedAt = now
		}
		sig.UpdatedAt = now

		var embedding interface{}
		if sig.Embedding != nil {
			embedding = encodeVector(sig.Embedding)
		}
		candidates, err := nullScores(sig.Candidates)
		if err != nil {
			return fmt.Errorf("failed to encode candidates for %s: %w", sig.ID, err)
		}
		verified, err := nullScores(sig.Verified)
		if err != nil {
			return fmt.Errorf("failed to encode verified for %s: %w", sig.ID, err)
		}
		var embeddingError sql.NullString
		if sig.EmbeddingError != "" {
			embeddingError = sql.NullString{String: sig.EmbeddingError, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			sig.ID, sig.ProjectID, sig.Text, embedding, candidates, verified, embeddingError,
			formatTime(sig.CreatedAt), formatTime(sig.UpdatedAt),
		); err != nil {
			return fmt.Errorf("failed to insert signal %s: %w", sig.ID, err)
		}
	}

	return tx.Commit()
}

// GetSignal retrieves a signal by id
func (s *SQLiteStorage) GetSignal(ctx context.Context, id string) (*types.Signal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = ?`, id)
	sig, err := scanSignal(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("signal %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal: %w", err)
	}
	return sig, nil
}

// ListSignals returns signals matching filter in insertion order
func (s *SQLiteStorage) ListSignals(ctx context.Context, filter types.SignalFilter) ([]*types.Signal, error) {
	where, args := buildSignalFilter(filter)
	query := `SELECT ` + signalColumns + ` FROM signals` + where + ` ORDER BY seq`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()

	var signals []*types.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// CountSignals counts signals matching filter
func (s *SQLiteStorage) CountSignals(ctx context.Context, filter types.SignalFilter) (int, error) {
	where, args := buildSignalFilter(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count signals: %w", err)
	}
	return n, nil
}

// GetSignalTexts resolves ids within a project to their texts
func (s *SQLiteStorage) GetSignalTexts(ctx context.Context, projectID string, ids []string) (map[string]string, error) {
	texts := make(map[string]string, len(ids))
	for start := 0; start < len(ids); start += maxInParams {
		end := min(start+maxInParams, len(ids))
		chunk := ids[start:end]

		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, projectID)
		for _, id := range chunk {
			args = append(args, id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		rows, err := s.db.QueryContext(ctx,
			`SELECT id, text FROM signals WHERE project_id = ? AND id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to get signal texts: %w", err)
		}
		for rows.Next() {
			var id, text string
			if err := rows.Scan(&id, &text); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan signal text: %w", err)
			}
			texts[id] = text
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return texts, nil
}

// SaveEmbedding stores a vector and clears any previous embedding failure
func (s *SQLiteStorage) SaveEmbedding(ctx context.Context, signalID string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding for %s is empty", signalID)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE signals SET embedding = ?, embedding_error = NULL, updated_at = ?
		WHERE id = ?
	`, encodeVector(embedding), formatTime(time.Now()), signalID)
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return s.checkUpdated(ctx, result, signalID)
}

// RecordEmbeddingFailure marks a signal as attempted with no vector
func (s *SQLiteStorage) RecordEmbeddingFailure(ctx context.Context, signalID, message string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE signals SET embedding_error = ?, updated_at = ?
		WHERE id = ? AND embedding IS NULL
	`, message, formatTime(time.Now()), signalID)
	if err != nil {
		return fmt.Errorf("failed to record embedding failure: %w", err)
	}
	return s.checkUpdated(ctx, result, signalID)
}

// SaveCandidates stores the candidate list. The signal must have an embedding.
func (s *SQLiteStorage) SaveCandidates(ctx context.Context, signalID string, candidates []types.SimilarityScore) error {
	data, err := encodeScores(candidates)
	if err != nil {
		return fmt.Errorf("failed to encode candidates: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE signals SET candidates = ?, updated_at = ?
		WHERE id = ? AND embedding IS NOT NULL
	`, data, formatTime(time.Now()), signalID)
	if err != nil {
		return fmt.Errorf("failed to save candidates: %w", err)
	}
	return s.checkUpdated(ctx, result, signalID)
}

// SaveVerified stores the verified-neighbour list. The signal must have candidates.
func (s *SQLiteStorage) SaveVerified(ctx context.Context, signalID string, verified []types.SimilarityScore) error {
	data, err := encodeScores(verified)
	if err != nil {
		return fmt.Errorf("failed to encode verified: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE signals SET verified = ?, updated_at = ?
		WHERE id = ? AND candidates IS NOT NULL
	`, data, formatTime(time.Now()), signalID)
	if err != nil {
		return fmt.Errorf("failed to save verified: %w", err)
	}
	return s.checkUpdated(ctx, result, signalID)
}

// checkUpdated turns a zero-row UPDATE into ErrNotFound or
// ErrPrerequisiteMissing
func (s *SQLiteStorage) checkUpdated(ctx context.Context, result sql.Result, signalID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM signals WHERE id = ?`, signalID).Scan(&exists)
	if isNoRows(err) {
		return fmt.Errorf("signal %s: %w", signalID, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check signal: %w", err)
	}
	return fmt.Errorf("signal %s: %w", signalID, types.ErrPrerequisiteMissing)
}

func buildSignalFilter(f types.SignalFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	switch f.Embedding {
	case types.FieldNull:
		clauses = append(clauses, "embedding IS NULL")
	case types.FieldNotNull, types.FieldEmpty, types.FieldNonEmpty:
		clauses = append(clauses, "embedding IS NOT NULL")
	}
	clauses = append(clauses, listClauses("candidates", f.Candidates)...)
	clauses = append(clauses, listClauses("verified", f.Verified)...)

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func listClauses(column string, state types.FieldState) []string {
	switch state {
	case types.FieldNull:
		return []string{column + " IS NULL"}
	case types.FieldNotNull:
		return []string{column + " IS NOT NULL"}
	case types.FieldEmpty:
		return []string{column + " = '[]'"}
	case types.FieldNonEmpty:
		return []string{column + " IS NOT NULL", column + " != '[]'"}
	}
	return nil
}

func nullScores(scores []types.SimilarityScore) (sql.NullString, error) {
	if scores == nil {
		return sql.NullString{}, nil
	}
	data, err := encodeScores(scores)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: data, Valid: true}, nil
}

func scanSignal(row rowScanner) (*types.Signal, error) {
	var (
		sig                  types.Signal
		embedding            []byte
		candidates, verified sql.NullString
		embeddingError       sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&sig.ID,
		&sig.ProjectID,
		&sig.Text,
		&embedding,
		&candidates,
		&verified,
		&embeddingError,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if embedding != nil {
		if sig.Embedding, err = decodeVector(embedding); err != nil {
			return nil, fmt.Errorf("signal %s: %w", sig.ID, err)
		}
	}
	if sig.Candidates, err = decodeScores(candidates); err != nil {
		return nil, fmt.Errorf("signal %s candidates: %w", sig.ID, err)
	}
	if sig.Verified, err = decodeScores(verified); err != nil {
		return nil, fmt.Errorf("signal %s verified: %w", sig.ID, err)
	}
	sig.EmbeddingError = embeddingError.String
	if sig.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("signal %s created_at: %w", sig.ID, err)
	}
	if sig.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("signal %s updated_at: %w", sig.ID, err)
	}
	return &sig, nil
}
