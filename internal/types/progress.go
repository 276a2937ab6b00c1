package types

import (
	"math"
	"time"
)

// PhaseProgress is a completed/total pair for one work phase.
type PhaseProgress struct {
	Phase     Phase   `json:"phase"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// Progress is the derived, user-facing view of a ProcessingState.
type Progress struct {
	Phase        Phase           `json:"phase"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Phases       []PhaseProgress `json:"phases"`
	Failed       int             `json:"verification_failed"`
	Elapsed      time.Duration   `json:"elapsed"`
	Rate         float64         `json:"rate_per_second"` // Approximate items/second in the current phase
	ETA          time.Duration   `json:"eta"`             // Approximate; zero when unknown
}

// ComputeProgress derives per-phase progress and an ETA for the current
// phase: rate = completed / elapsed, ETA = remaining / rate.
//
// Rate and ETA are approximate. Elapsed is measured from StartedAt, which
// covers earlier phases and earlier runs, so in later phases the rate reads
// low and the ETA overestimates.
func ComputeProgress(s *ProcessingState, now time.Time) Progress {
	p := Progress{
		Phase:        s.Phase,
		ErrorMessage: s.ErrorMessage,
		Failed:       s.VerificationFailed,
		Phases: []PhaseProgress{
			phaseProgress(PhaseEmbedding, s.EmbeddingCompleted, s.TotalSignals),
			phaseProgress(PhaseSimilarity, s.SimilarityCompleted, s.TotalSignals),
			phaseProgress(PhaseVerification, s.VerificationCompleted, s.TotalSignals),
		},
	}

	if s.StartedAt == nil {
		return p
	}
	end := now
	if s.CompletedAt != nil && s.Phase == PhaseComplete {
		end = *s.CompletedAt
	}
	p.Elapsed = end.Sub(*s.StartedAt)
	if p.Elapsed <= 0 || !s.Phase.IsWork() {
		return p
	}

	var current PhaseProgress
	for _, pp := range p.Phases {
		if pp.Phase == s.Phase {
			current = pp
		}
	}
	if current.Completed == 0 {
		return p
	}
	p.Rate = float64(current.Completed) / p.Elapsed.Seconds()
	remaining := current.Total - current.Completed
	if remaining > 0 && p.Rate > 0 {
		p.ETA = time.Duration(math.Round(float64(remaining)/p.Rate)) * time.Second
	}
	return p
}

func phaseProgress(phase Phase, completed, total int) PhaseProgress {
	pp := PhaseProgress{Phase: phase, Completed: completed, Total: total}
	if total > 0 {
		pp.Percent = math.Min(100, float64(completed)*100/float64(total))
	}
	return pp
}
