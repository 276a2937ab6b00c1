package types

import (
	"fmt"
	"time"
)

// Signal is a single textual observation. The three derived fields are filled
// in by the pipeline phases, in order:
//
//	Embedding  → set by the embedding phase
//	Candidates → set by candidate search (requires Embedding)
//	Verified   → set by verification (requires Candidates)
//
// A nil slice means "not computed yet". An empty, non-nil slice is a valid
// terminal value (e.g. verification found no matches).
type Signal struct {
	ID             string            `json:"id"`
	ProjectID      string            `json:"project_id"`
	Text           string            `json:"text"`
	Embedding      []float32         `json:"embedding,omitempty"`
	Candidates     []SimilarityScore `json:"candidates,omitempty"`
	Verified       []SimilarityScore `json:"verified,omitempty"`
	EmbeddingError string            `json:"embedding_error,omitempty"` // Last embedding failure ("attempted, no vector")
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Validate checks the signal's fields and the ordering invariant between
// the derived fields.
func (s *Signal) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if s.Candidates != nil && s.Embedding == nil {
		return fmt.Errorf("signal %s has candidates without an embedding", s.ID)
	}
	if s.Verified != nil && s.Candidates == nil {
		return fmt.Errorf("signal %s has verified neighbors without candidates", s.ID)
	}
	return nil
}

// SimilarityScore pairs a neighbor signal with a score. During candidate
// search the score is a cosine similarity in [-1, 1]; after verification it
// is the model's judgment in [1, 10].
type SimilarityScore struct {
	NeighborID string  `json:"neighbor_id"`
	Score      float64 `json:"score"`
}

// FieldState filters signals by whether a derived field has been computed.
type FieldState int

const (
	FieldAny      FieldState = iota // No constraint
	FieldNull                       // Not computed yet
	FieldNotNull                    // Computed (possibly empty)
	FieldEmpty                      // Computed and empty (lists only)
	FieldNonEmpty                   // Computed and non-empty (lists only)
)

// SignalFilter selects signals within a project by the state of their
// derived fields.
type SignalFilter struct {
	ProjectID  string
	Embedding  FieldState // FieldEmpty/FieldNonEmpty are treated as FieldNotNull
	Candidates FieldState
	Verified   FieldState
	Limit      int // 0 = no limit
}
