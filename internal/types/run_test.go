package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunAttemptValidate(t *testing.T) {
	tests := []struct {
		name    string
		attempt RunAttempt
		wantErr bool
	}{
		{"valid", RunAttempt{ProjectID: "p1", StartPhase: PhaseEmbedding, Outcome: RunRunning}, false},
		{"missing project", RunAttempt{StartPhase: PhaseEmbedding, Outcome: RunRunning}, true},
		{"bad phase", RunAttempt{ProjectID: "p1", StartPhase: "warmup", Outcome: RunRunning}, true},
		{"bad outcome", RunAttempt{ProjectID: "p1", StartPhase: PhaseEmbedding, Outcome: "done"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.attempt.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunAttemptDuration(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	a := RunAttempt{StartedAt: start}
	assert.Zero(t, a.Duration())

	end := start.Add(90 * time.Second)
	a.CompletedAt = &end
	assert.Equal(t, 90*time.Second, a.Duration())
}
