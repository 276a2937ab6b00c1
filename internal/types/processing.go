package types

import (
	"fmt"
	"time"
)

// Phase is the persisted pipeline phase of a project.
type Phase string

const (
	PhasePending      Phase = "pending"              // Imported, nothing run yet
	PhaseEmbedding    Phase = "embedding"            // Generating embeddings
	PhaseSimilarity   Phase = "embedding_similarity" // Computing candidate neighbors
	PhaseVerification Phase = "claude_verification"  // Model verification of candidates
	PhaseComplete     Phase = "complete"             // All phases finished
	PhaseError        Phase = "error"                // A run failed; see ErrorMessage
)

// WorkPhases lists the phases that do work, in execution order.
var WorkPhases = []Phase{PhaseEmbedding, PhaseSimilarity, PhaseVerification}

// IsValid checks if the phase value is valid
func (p Phase) IsValid() bool {
	switch p {
	case PhasePending, PhaseEmbedding, PhaseSimilarity, PhaseVerification,
		PhaseComplete, PhaseError:
		return true
	}
	return false
}

// IsWork reports whether the phase is one of the three work phases.
func (p Phase) IsWork() bool {
	return p == PhaseEmbedding || p == PhaseSimilarity || p == PhaseVerification
}

// Order returns the position of the phase in the happy path
// (pending=0 ... complete=4). PhaseError returns -1.
func (p Phase) Order() int {
	switch p {
	case PhasePending:
		return 0
	case PhaseEmbedding:
		return 1
	case PhaseSimilarity:
		return 2
	case PhaseVerification:
		return 3
	case PhaseComplete:
		return 4
	}
	return -1
}

// Next returns the phase that follows p on the happy path.
func (p Phase) Next() Phase {
	switch p {
	case PhasePending:
		return PhaseEmbedding
	case PhaseEmbedding:
		return PhaseSimilarity
	case PhaseSimilarity:
		return PhaseVerification
	case PhaseVerification:
		return PhaseComplete
	}
	return p
}

// ValidTransitions defines the phase state machine.
//
//	pending → embedding → embedding_similarity → claude_verification → complete
//	   ↓          ↓                ↓                      ↓
//	 error      error            error                  error
//
// error re-enters the work phase it failed in (checked separately against
// ProcessingState.FailedPhase). Reset to pending is an explicit operation
// and is not part of this table.
func (p Phase) ValidTransitions() []Phase {
	switch p {
	case PhasePending:
		return []Phase{PhaseEmbedding, PhaseError}
	case PhaseEmbedding:
		return []Phase{PhaseSimilarity, PhaseError}
	case PhaseSimilarity:
		return []Phase{PhaseVerification, PhaseError}
	case PhaseVerification:
		return []Phase{PhaseComplete, PhaseError}
	case PhaseError:
		return []Phase{PhaseEmbedding, PhaseSimilarity, PhaseVerification}
	case PhaseComplete:
		return []Phase{} // Terminal state
	default:
		return []Phase{}
	}
}

// CanTransitionTo checks if a transition from this phase to the target is valid
func (p Phase) CanTransitionTo(target Phase) bool {
	for _, valid := range p.ValidTransitions() {
		if valid == target {
			return true
		}
	}
	return false
}

// ProcessingState is the persisted progress record of a project. It is
// mutated only by the orchestrator.
type ProcessingState struct {
	ProjectID             string     `json:"project_id"`
	TotalSignals          int        `json:"total_signals"`
	EmbeddingCompleted    int        `json:"embedding_completed"`
	SimilarityCompleted   int        `json:"similarity_completed"`
	VerificationCompleted int        `json:"verification_completed"`
	VerificationFailed    int        `json:"verification_failed"`
	Phase                 Phase      `json:"phase"`
	FailedPhase           Phase      `json:"failed_phase,omitempty"` // Work phase that was running when error was entered
	ErrorMessage          string     `json:"error_message,omitempty"`
	StartedAt             *time.Time `json:"started_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Validate checks if the processing state has valid field values
func (s *ProcessingState) Validate() error {
	if s.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if !s.Phase.IsValid() {
		return fmt.Errorf("invalid phase: %s", s.Phase)
	}
	if s.Phase == PhaseError && s.FailedPhase != "" && !s.FailedPhase.IsWork() {
		return fmt.Errorf("failed_phase must be a work phase (got %s)", s.FailedPhase)
	}
	for name, v := range map[string]int{
		"total_signals":          s.TotalSignals,
		"embedding_completed":    s.EmbeddingCompleted,
		"similarity_completed":   s.SimilarityCompleted,
		"verification_completed": s.VerificationCompleted,
		"verification_failed":    s.VerificationFailed,
	} {
		if v < 0 {
			return fmt.Errorf("%s cannot be negative (got %d)", name, v)
		}
	}
	return nil
}

// IsTerminal reports whether nothing further will happen without an
// explicit resume or reset.
func (s *ProcessingState) IsTerminal() bool {
	return s.Phase == PhaseComplete || s.Phase == PhaseError
}
