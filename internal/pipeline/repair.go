package pipeline

import (
	"context"
	"fmt"

	"github.com/steveyegge/sigtrend/internal/ai"
	"github.com/steveyegge/sigtrend/internal/storage"
	"github.com/steveyegge/sigtrend/internal/types"
)

// RepairResult reports a RetryFailedVerifications pass
type RepairResult struct {
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
	Remaining int `json:"remaining"` // Signals still holding an empty verified list
}

// RetryFailedVerifications re-verifies signals that have candidates but an
// empty verified list. An empty list cannot be told apart from a genuine
// "no matches" result, so those are retried too; a stored list is only
// replaced when the new result is non-empty. VerificationFailed is then
// recomputed as the number of signals with an empty verified list.
func (o *Orchestrator) RetryFailedVerifications(ctx context.Context, projectID string) (*RepairResult, error) {
	if o.verifier == nil {
		return nil, fmt.Errorf("no verifier configured")
	}
	release, ok := o.acquire(ctx, projectID)
	if !ok {
		return nil, ErrProjectBusy
	}
	defer release()

	suspects, err := o.store.ListSignals(ctx, types.SignalFilter{
		ProjectID:  projectID,
		Candidates: types.FieldNonEmpty,
		Verified:   types.FieldEmpty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list failed verifications: %w", err)
	}

	result := &RepairResult{}
	for _, sig := range suspects {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		ids := make([]string, len(sig.Candidates))
		for i, c := range sig.Candidates {
			ids[i] = c.NeighborID
		}
		texts, err := o.store.GetSignalTexts(ctx, projectID, ids)
		if err != nil {
			return result, fmt.Errorf("failed to resolve candidate texts: %w", err)
		}
		cands := resolveCandidates(sig.Candidates, texts)
		if len(cands) == 0 {
			continue
		}

		result.Retried++
		verified, err := o.verifier.Verify(ctx, sig.Text, cands, o.cfg.MinVerifiedScore)
		if err != nil {
			if ai.IsPermanent(err) || ctx.Err() != nil {
				return result, fmt.Errorf("verification retry aborted: %w", err)
			}
			o.logger.Warn("verification retry failed", "signal_id", sig.ID, "error", err)
			continue
		}
		if len(verified) == 0 {
			continue
		}
		if err := o.store.SaveVerified(ctx, sig.ID, verified); err != nil {
			return result, fmt.Errorf("failed to save verified neighbours for %s: %w", sig.ID, err)
		}
		result.Succeeded++
	}

	remaining, err := o.store.CountSignals(ctx, types.SignalFilter{ProjectID: projectID, Verified: types.FieldEmpty})
	if err != nil {
		return result, fmt.Errorf("failed to count empty verifications: %w", err)
	}
	result.Remaining = remaining
	if err := o.store.UpdateProcessingState(ctx, projectID, map[string]interface{}{
		storage.FieldVerificationFailed: remaining,
	}); err != nil {
		return result, fmt.Errorf("failed to update failure count: %w", err)
	}

	o.logger.Info("verification retry complete",
		"project_id", projectID,
		"retried", result.Retried,
		"succeeded", result.Succeeded,
		"remaining", remaining)
	return result, nil
}
