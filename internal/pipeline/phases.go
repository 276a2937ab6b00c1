package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/sigtrend/internal/ai"
	"github.com/steveyegge/sigtrend/internal/embedding"
	"github.com/steveyegge/sigtrend/internal/similarity"
	"github.com/steveyegge/sigtrend/internal/storage"
	"github.com/steveyegge/sigtrend/internal/types"
)

// newProgress starts a counter at the number of signals whose output field
// is already set, and commits it so the persisted counter matches reality
// after a crash.
func (o *Orchestrator) newProgress(ctx context.Context, projectID, field string, done types.SignalFilter) (*progress, error) {
	completed, err := o.store.CountSignals(ctx, done)
	if err != nil {
		return nil, fmt.Errorf("failed to count completed signals: %w", err)
	}
	p := &progress{
		store:       o.store,
		projectID:   projectID,
		field:       field,
		completed:   completed,
		commitEvery: o.cfg.ProgressCommitEvery,
	}
	return p, p.write(ctx)
}

type embedResult struct {
	vec []float32
	err error
}

// runEmbedding embeds every signal that has no vector yet. Each signal is
// attempted once per run; failures are recorded on the signal.
func (o *Orchestrator) runEmbedding(ctx context.Context, projectID string) error {
	if o.embedder == nil {
		return fmt.Errorf("no embedder configured")
	}

	todo, err := o.store.ListSignals(ctx, types.SignalFilter{ProjectID: projectID, Embedding: types.FieldNull})
	if err != nil {
		return fmt.Errorf("failed to list signals to embed: %w", err)
	}
	prog, err := o.newProgress(ctx, projectID, storage.FieldEmbeddingCompleted,
		types.SignalFilter{ProjectID: projectID, Embedding: types.FieldNotNull})
	if err != nil {
		return err
	}
	o.logger.Info("embedding signals", "project_id", projectID, "count", len(todo))

	failures := 0
	for _, b := range batches(len(todo), o.cfg.BatchSize) {
		batch := todo[b[0]:b[1]]
		results := make([]embedResult, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.FanOut)
		for i, sig := range batch {
			g.Go(func() error {
				vec, err := o.embedder.Generate(gctx, sig.Text)
				if err != nil && embedding.IsFatal(err) {
					return err
				}
				results[i] = embedResult{vec: vec, err: err}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("embedding provider rejected request: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		for i, sig := range batch {
			res := results[i]
			if res.err != nil {
				failures++
				o.logger.Warn("failed to embed signal", "signal_id", sig.ID, "error", res.err)
				if err := o.store.RecordEmbeddingFailure(ctx, sig.ID, res.err.Error()); err != nil {
					return fmt.Errorf("failed to record embedding failure for %s: %w", sig.ID, err)
				}
				continue
			}
			if err := o.store.SaveEmbedding(ctx, sig.ID, res.vec); err != nil {
				return fmt.Errorf("failed to save embedding for %s: %w", sig.ID, err)
			}
			if err := prog.add(ctx, false); err != nil {
				return err
			}
		}
		if err := prog.commit(ctx); err != nil {
			return err
		}
	}

	if failures > 0 {
		o.logger.Warn("some signals could not be embedded", "project_id", projectID, "failed", failures)
	}
	return nil
}

// runSimilarity finds candidate neighbours for every embedded signal that
// has none yet. The pool is every embedded signal in the project.
func (o *Orchestrator) runSimilarity(ctx context.Context, projectID string) error {
	pool, err := o.store.ListSignals(ctx, types.SignalFilter{ProjectID: projectID, Embedding: types.FieldNotNull})
	if err != nil {
		return fmt.Errorf("failed to load embedded signals: %w", err)
	}
	prog, err := o.newProgress(ctx, projectID, storage.FieldSimilarityCompleted,
		types.SignalFilter{ProjectID: projectID, Candidates: types.FieldNotNull})
	if err != nil {
		return err
	}

	items := make([]similarity.Item, len(pool))
	var todo []*types.Signal
	for i, sig := range pool {
		items[i] = similarity.Item{ID: sig.ID, Vector: sig.Embedding}
		if sig.Candidates == nil {
			todo = append(todo, sig)
		}
	}
	index := similarity.NewIndex(items, o.logger)
	o.logger.Info("searching candidates", "project_id", projectID, "count", len(todo), "pool", index.Size())

	for _, b := range batches(len(todo), o.cfg.BatchSize) {
		batch := todo[b[0]:b[1]]
		results := make([][]types.SimilarityScore, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.FanOut)
		for i, sig := range batch {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = index.Search(sig.ID, sig.Embedding, o.cfg.CandidateCount)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for i, sig := range batch {
			if err := o.store.SaveCandidates(ctx, sig.ID, results[i]); err != nil {
				return fmt.Errorf("failed to save candidates for %s: %w", sig.ID, err)
			}
			if err := prog.add(ctx, false); err != nil {
				return err
			}
		}
		if err := prog.commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

type verifyResult struct {
	verified []types.SimilarityScore
	failed   bool
}

// runVerification asks the model to confirm each signal's candidates.
// A signal whose call fails after retries is stored with an empty list and
// counted in VerificationFailed; permanent provider errors abort the phase.
func (o *Orchestrator) runVerification(ctx context.Context, projectID string) error {
	if o.verifier == nil {
		return fmt.Errorf("no verifier configured")
	}

	todo, err := o.store.ListSignals(ctx, types.SignalFilter{
		ProjectID:  projectID,
		Candidates: types.FieldNotNull,
		Verified:   types.FieldNull,
	})
	if err != nil {
		return fmt.Errorf("failed to list signals to verify: %w", err)
	}
	state, err := o.store.GetProcessingState(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load processing state: %w", err)
	}
	prog, err := o.newProgress(ctx, projectID, storage.FieldVerificationCompleted,
		types.SignalFilter{ProjectID: projectID, Verified: types.FieldNotNull})
	if err != nil {
		return err
	}
	prog.trackFailed = true
	if state != nil {
		prog.failed = state.VerificationFailed
	}

	o.logger.Info("verifying candidates", "project_id", projectID, "count", len(todo))

	// Calls go out in groups of verificationConcurrency; the delay is
	// measured from the end of one group to the start of the next.
	groupSize := o.cfg.verificationConcurrency()
	started := false
	for _, b := range batches(len(todo), o.cfg.BatchSize) {
		batch := todo[b[0]:b[1]]

		texts, err := o.store.GetSignalTexts(ctx, projectID, candidateIDs(batch))
		if err != nil {
			return fmt.Errorf("failed to resolve candidate texts: %w", err)
		}

		for _, gr := range batches(len(batch), groupSize) {
			if started {
				if err := pause(ctx, o.cfg.VerificationBatchDelay); err != nil {
					return err
				}
			}
			started = true

			group := batch[gr[0]:gr[1]]
			results := make([]verifyResult, len(group))
			g, gctx := errgroup.WithContext(ctx)
			for i, sig := range group {
				g.Go(func() error {
					res, err := o.verifySignal(gctx, sig, texts)
					if err != nil {
						return err
					}
					results[i] = res
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for i, sig := range group {
				res := results[i]
				if err := o.store.SaveVerified(ctx, sig.ID, res.verified); err != nil {
					return fmt.Errorf("failed to save verified neighbours for %s: %w", sig.ID, err)
				}
				if err := prog.add(ctx, res.failed); err != nil {
					return err
				}
			}
		}
		if err := prog.commit(ctx); err != nil {
			return err
		}
	}

	if prog.failed > 0 {
		o.logger.Warn("some verifications failed", "project_id", projectID, "failed", prog.failed)
	}
	return nil
}

// verifySignal returns an error only for conditions that must stop the
// phase: cancellation and permanent provider errors.
func (o *Orchestrator) verifySignal(ctx context.Context, sig *types.Signal, texts map[string]string) (verifyResult, error) {
	cands := resolveCandidates(sig.Candidates, texts)
	if len(cands) == 0 {
		return verifyResult{verified: []types.SimilarityScore{}}, nil
	}

	verified, err := o.verifier.Verify(ctx, sig.Text, cands, o.cfg.MinVerifiedScore)
	if err == nil {
		if verified == nil {
			verified = []types.SimilarityScore{}
		}
		return verifyResult{verified: verified}, nil
	}
	if ctx.Err() != nil {
		return verifyResult{}, ctx.Err()
	}
	if ai.IsPermanent(err) {
		return verifyResult{}, fmt.Errorf("verification provider rejected request: %w", err)
	}
	o.logger.Warn("verification failed", "signal_id", sig.ID, "error", err)
	return verifyResult{verified: []types.SimilarityScore{}, failed: true}, nil
}

// pause waits d, returning early with the context's error when it is done
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// resolveCandidates keeps candidates whose text is known, in candidate order
func resolveCandidates(scores []types.SimilarityScore, texts map[string]string) []ai.Candidate {
	cands := make([]ai.Candidate, 0, len(scores))
	for _, s := range scores {
		text, ok := texts[s.NeighborID]
		if !ok {
			continue
		}
		cands = append(cands, ai.Candidate{ID: s.NeighborID, Text: text})
	}
	return cands
}

func candidateIDs(signals []*types.Signal) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, sig := range signals {
		for _, c := range sig.Candidates {
			if !seen[c.NeighborID] {
				seen[c.NeighborID] = true
				ids = append(ids, c.NeighborID)
			}
		}
	}
	return ids
}
