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

const signalColumns = `id, project_id, text, embedding, candidates::text, verified::text,
	embedding_error, created_at, updated_at`

// CreateSignals inserts signals in one batch inside a transaction
func (s *PostgresStorage) CreateSignals(ctx context.Context, signals []*types.Signal) error {
	if len(signals) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	batch := &pgx.Batch{}
	for _, sig := range signals {
		if err := sig.Validate(); err != nil {
			return fmt.Errorf("invalid signal: %w", err)
		}
		if sig.CreatedAt.IsZero() {
			sig.CreatedAt = now
		}
		sig.UpdatedAt = now

		candidates, err := nullScores(sig.Candidates)
		if err != nil {
			return fmt.Errorf("failed to encode candidates for %s: %w", sig.ID, err)
		}
		verified, err := nullScores(sig.Verified)
		if err != nil {
			return fmt.Errorf("failed to encode verified for %s: %w", sig.ID, err)
		}
		var embeddingError *string
		if sig.EmbeddingError != "" {
			embeddingError = &sig.EmbeddingError
		}

		batch.Queue(`
			INSERT INTO signals (id, project_id, text, embedding, candidates, verified, embedding_error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5::text::jsonb, $6::text::jsonb, $7, $8, $9)
		`, sig.ID, sig.ProjectID, sig.Text, sig.Embedding, candidates, verified, embeddingError,
			sig.CreatedAt, sig.UpdatedAt)
	}

	results := tx.SendBatch(ctx, batch)
	for _, sig := range signals {
		if _, err := results.Exec(); err != nil {
			results.Close()
			if isUniqueViolation(err) {
				return fmt.Errorf("signal %s already exists: %w", sig.ID, err)
			}
			return fmt.Errorf("failed to insert signal %s: %w", sig.ID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to insert signals: %w", err)
	}

	return tx.Commit(ctx)
}

// GetSignal retrieves a signal by id
func (s *PostgresStorage) GetSignal(ctx context.Context, id string) (*types.Signal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = $1`, id)
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
func (s *PostgresStorage) ListSignals(ctx context.Context, filter types.SignalFilter) ([]*types.Signal, error) {
	where, args := buildSignalFilter(filter)
	query := `SELECT ` + signalColumns + ` FROM signals` + where + ` ORDER BY seq`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
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
func (s *PostgresStorage) CountSignals(ctx context.Context, filter types.SignalFilter) (int, error) {
	where, args := buildSignalFilter(filter)
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM signals`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count signals: %w", err)
	}
	return n, nil
}

// GetSignalTexts resolves ids within a project to their texts
func (s *PostgresStorage) GetSignalTexts(ctx context.Context, projectID string, ids []string) (map[string]string, error) {
	texts := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return texts, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, text FROM signals WHERE project_id = $1 AND id = ANY($2)`, projectID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get signal texts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("failed to scan signal text: %w", err)
		}
		texts[id] = text
	}
	return texts, rows.Err()
}

// SaveEmbedding stores a vector and clears any previous embedding failure
func (s *PostgresStorage) SaveEmbedding(ctx context.Context, signalID string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding for %s is empty", signalID)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE signals SET embedding = $1, embedding_error = NULL, updated_at = NOW()
		WHERE id = $2
	`, embedding, signalID)
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return s.checkUpdated(ctx, tag, signalID)
}

// RecordEmbeddingFailure marks a signal as attempted with no vector
func (s *PostgresStorage) RecordEmbeddingFailure(ctx context.Context, signalID, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE signals SET embedding_error = $1, updated_at = NOW()
		WHERE id = $2 AND embedding IS NULL
	`, message, signalID)
	if err != nil {
		return fmt.Errorf("failed to record embedding failure: %w", err)
	}
	return s.checkUpdated(ctx, tag, signalID)
}

// SaveCandidates stores the candidate list. The signal must have an embedding.
func (s *PostgresStorage) SaveCandidates(ctx context.Context, signalID string, candidates []types.SimilarityScore) error {
	data, err := encodeScores(candidates)
	if err != nil {
		return fmt.Errorf("failed to encode candidates: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE signals SET candidates = $1::text::jsonb, updated_at = NOW()
		WHERE id = $2 AND embedding IS NOT NULL
	`, data, signalID)
	if err != nil {
		return fmt.Errorf("failed to save candidates: %w", err)
	}
	return s.checkUpdated(ctx, tag, signalID)
}

// SaveVerified stores the verified-neighbour list. The signal must have candidates.
func (s *PostgresStorage) SaveVerified(ctx context.Context, signalID string, verified []types.SimilarityScore) error {
	data, err := encodeScores(verified)
	if err != nil {
		return fmt.Errorf("failed to encode verified: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE signals SET verified = $1::text::jsonb, updated_at = NOW()
		WHERE id = $2 AND candidates IS NOT NULL
	`, data, signalID)
	if err != nil {
		return fmt.Errorf("failed to save verified: %w", err)
	}
	return s.checkUpdated(ctx, tag, signalID)
}

func (s *PostgresStorage) checkUpdated(ctx context.Context, tag pgconn.CommandTag, signalID string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM signals WHERE id = $1`, signalID).Scan(&exists)
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
		args = append(args, f.ProjectID)
		clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
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
		return []string{"jsonb_array_length(" + column + ") = 0"}
	case types.FieldNonEmpty:
		return []string{"jsonb_array_length(" + column + ") > 0"}
	}
	return nil
}

func scanSignal(row pgx.Row) (*types.Signal, error) {
	var (
		sig                  types.Signal
		candidates, verified *string
		embeddingError       *string
	)
	if err := row.Scan(
		&sig.ID,
		&sig.ProjectID,
		&sig.Text,
		&sig.Embedding,
		&candidates,
		&verified,
		&embeddingError,
		&sig.CreatedAt,
		&sig.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if sig.Candidates, err = decodeScores(candidates); err != nil {
		return nil, fmt.Errorf("signal %s candidates: %w", sig.ID, err)
	}
	if sig.Verified, err = decodeScores(verified); err != nil {
		return nil, fmt.Errorf("signal %s verified: %w", sig.ID, err)
	}
	if embeddingError != nil {
		sig.EmbeddingError = *embeddingError
	}
	return &sig, nil
}
