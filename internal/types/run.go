package types

import (
	"fmt"
	"time"
)

// RunOutcome is how a pipeline run ended
type RunOutcome string

const (
	RunRunning     RunOutcome = "running"     // Not finished (or the process died)
	RunComplete    RunOutcome = "complete"    // Reached PhaseComplete
	RunFailed      RunOutcome = "failed"      // Project moved to PhaseError
	RunInterrupted RunOutcome = "interrupted" // Stopped early; the phase is resumable
)

// IsValid checks if the outcome value is valid
func (o RunOutcome) IsValid() bool {
	switch o {
	case RunRunning, RunComplete, RunFailed, RunInterrupted:
		return true
	}
	return false
}

// RunAttempt is one pipeline run over a project
type RunAttempt struct {
	ID            int64      `json:"id"`
	ProjectID     string     `json:"project_id"`
	AttemptNumber int        `json:"attempt_number"`
	StartPhase    Phase      `json:"start_phase"`
	EndPhase      Phase      `json:"end_phase,omitempty"`
	Outcome       RunOutcome `json:"outcome"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Validate checks if the run attempt has valid field values
func (a *RunAttempt) Validate() error {
	if a.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if !a.StartPhase.IsValid() {
		return fmt.Errorf("invalid start phase: %s", a.StartPhase)
	}
	if !a.Outcome.IsValid() {
		return fmt.Errorf("invalid outcome: %s", a.Outcome)
	}
	return nil
}

// Duration is how long the run took, or zero while it is running
func (a *RunAttempt) Duration() time.Duration {
	if a.CompletedAt == nil {
		return 0
	}
	return a.CompletedAt.Sub(a.StartedAt)
}
