package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/sigtrend/internal/ai"
	"github.com/steveyegge/sigtrend/internal/logging"
	"github.com/steveyegge/sigtrend/internal/storage"
	"github.com/steveyegge/sigtrend/internal/types"
)

// DefaultTrendTitle replaces an empty generated title.
const DefaultTrendTitle = "Untitled Trend"

var (
	// ErrProjectBusy is returned when an operation needs the project lock
	// and a run holds it.
	ErrProjectBusy = errors.New("project is being processed")

	// ErrNotInError is returned by Resume for a project that has not failed.
	ErrNotInError = errors.New("project is not in error state")
)

// Orchestrator drives the embedding, candidate search and verification
// phases for a project and persists progress after every step so a run can
// pick up where a previous one stopped.
type Orchestrator struct {
	store      storage.Storage
	embedder   VectorGenerator
	verifier   Verifier
	summarizer Summarizer
	locks      *LockRegistry
	logger     *logging.Logger
	cfg        Config

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates an orchestrator. Store and Locks are required; Embedder and
// Verifier are required to run the matching phases.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Locks == nil {
		return nil, fmt.Errorf("lock registry is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	return &Orchestrator{
		store:      cfg.Store,
		embedder:   cfg.Embedder,
		verifier:   cfg.Verifier,
		summarizer: cfg.Summarizer,
		locks:      cfg.Locks,
		logger:     logging.OrNop(cfg.Logger),
		cfg:        *cfg,
		now:        time.Now,
	}, nil
}

// Run processes every outstanding phase of the project. It never returns an
// error: failures are recorded on the project's processing state. Run is a
// no-op when another run holds the project, when the project is complete,
// and when it is in error (see Resume).
func (o *Orchestrator) Run(ctx context.Context, projectID string) {
	release, ok := o.acquire(ctx, projectID)
	if !ok {
		o.logger.Info("project already being processed, skipping run", "project_id", projectID)
		return
	}
	defer release()

	o.run(ctx, projectID)
}

// Start runs the project in the background. Wait blocks until every
// started run has returned.
func (o *Orchestrator) Start(ctx context.Context, projectID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.Run(ctx, projectID)
	}()
}

// Wait blocks until all runs launched by Start have finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Resume moves a project out of error back into the phase it failed in.
// It does not run anything; call Run or Start afterwards.
func (o *Orchestrator) Resume(ctx context.Context, projectID string) (types.Phase, error) {
	release, ok := o.acquire(ctx, projectID)
	if !ok {
		return "", ErrProjectBusy
	}
	defer release()

	state, err := o.store.GetProcessingState(ctx, projectID)
	if err != nil {
		return "", err
	}
	if state == nil {
		return "", fmt.Errorf("project %s: %w", projectID, types.ErrNotFound)
	}
	if state.Phase != types.PhaseError {
		return "", fmt.Errorf("project %s is %s: %w", projectID, state.Phase, ErrNotInError)
	}

	target := state.FailedPhase
	if !target.IsWork() {
		target = types.PhaseEmbedding
	}
	if err := o.store.TransitionPhase(ctx, projectID, types.PhaseError, target, ""); err != nil {
		return "", fmt.Errorf("failed to resume project %s: %w", projectID, err)
	}
	o.logger.Info("project resumed", "project_id", projectID, "phase", target)
	return target, nil
}

// Reset returns a project to pending. With clearDerived every signal's
// embedding, candidates and verified neighbours are discarded as well.
func (o *Orchestrator) Reset(ctx context.Context, projectID string, clearDerived bool) error {
	release, ok := o.acquire(ctx, projectID)
	if !ok {
		return ErrProjectBusy
	}
	defer release()

	if err := o.store.ResetProcessingState(ctx, projectID, clearDerived); err != nil {
		return fmt.Errorf("failed to reset project %s: %w", projectID, err)
	}
	o.logger.Info("project reset", "project_id", projectID, "clear_derived", clearDerived)
	return nil
}

// Status returns the persisted state and its derived progress view
func (o *Orchestrator) Status(ctx context.Context, projectID string) (*types.ProcessingState, types.Progress, error) {
	state, err := o.store.GetProcessingState(ctx, projectID)
	if err != nil {
		return nil, types.Progress{}, err
	}
	if state == nil {
		return nil, types.Progress{}, fmt.Errorf("project %s: %w", projectID, types.ErrNotFound)
	}
	return state, types.ComputeProgress(state, o.now()), nil
}

// Runs returns the project's run history, newest first
func (o *Orchestrator) Runs(ctx context.Context, projectID string, limit int) ([]*types.RunAttempt, error) {
	return o.store.ListRuns(ctx, projectID, limit)
}

// GenerateSummary names a group of signal texts
func (o *Orchestrator) GenerateSummary(ctx context.Context, texts []string) (*ai.Summary, error) {
	if o.summarizer == nil {
		return nil, fmt.Errorf("no summarizer configured")
	}
	s, err := o.summarizer.GenerateSummary(ctx, texts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Title) == "" {
		s.Title = DefaultTrendTitle
	}
	return s, nil
}

// acquire takes the project lock. A lock held longer than
// StaleLockThreshold (measured from both the holder's acquisition and the
// persisted StartedAt) is assumed abandoned and reclaimed once.
func (o *Orchestrator) acquire(ctx context.Context, projectID string) (func(), bool) {
	if release, ok := o.locks.TryAcquire(projectID); ok {
		return release, true
	}

	heldSince, held := o.locks.HeldSince(projectID)
	if !held {
		return o.locks.TryAcquire(projectID)
	}
	state, err := o.store.GetProcessingState(ctx, projectID)
	if err != nil || state == nil || state.StartedAt == nil {
		return nil, false
	}

	now := o.now()
	threshold := o.cfg.StaleLockThreshold
	if now.Sub(*state.StartedAt) <= threshold || now.Sub(heldSince) <= threshold {
		return nil, false
	}

	o.logger.Warn("reclaiming stale project lock",
		"project_id", projectID,
		"held_since", heldSince,
		"started_at", *state.StartedAt)
	o.locks.ForceRelease(projectID)
	return o.locks.TryAcquire(projectID)
}

// run executes the outstanding phases with the lock held
func (o *Orchestrator) run(ctx context.Context, projectID string) {
	log := o.logger.With("project_id", projectID)
	current := types.PhasePending

	var (
		attempt *types.RunAttempt
		outcome = types.RunInterrupted
		runErr  error
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", "phase", current, "panic", r, "stack", string(debug.Stack()))
			runErr = fmt.Errorf("panic in %s: %v", current, r)
			if o.fail(ctx, projectID, current, runErr) {
				outcome = types.RunFailed
			}
		}
		o.finishRun(ctx, attempt, current, outcome, runErr)
	}()

	state, err := o.store.EnsureProcessingState(ctx, projectID)
	if err != nil {
		log.Error("failed to load processing state", "error", err)
		return
	}
	current = state.Phase

	switch state.Phase {
	case types.PhaseComplete:
		log.Debug("project already complete")
		return
	case types.PhaseError:
		log.Info("project is in error state, resume it to retry", "failed_phase", state.FailedPhase, "error", state.ErrorMessage)
		return
	}

	total, err := o.store.CountSignals(ctx, types.SignalFilter{ProjectID: projectID})
	if err != nil {
		o.fail(ctx, projectID, current, fmt.Errorf("failed to count signals: %w", err))
		return
	}
	updates := map[string]interface{}{storage.FieldTotalSignals: total}
	if state.Phase == types.PhasePending || state.StartedAt == nil {
		updates[storage.FieldStartedAt] = o.now()
	}
	if err := o.store.UpdateProcessingState(ctx, projectID, updates); err != nil {
		o.fail(ctx, projectID, current, fmt.Errorf("failed to record run start: %w", err))
		return
	}

	if current == types.PhasePending {
		if err := o.store.TransitionPhase(ctx, projectID, types.PhasePending, types.PhaseEmbedding, ""); err != nil {
			o.transitionFailed(ctx, projectID, current, types.PhaseEmbedding, err)
			return
		}
		current = types.PhaseEmbedding
	}

	attempt = o.startRun(ctx, projectID, current)
	log.Info("pipeline run started", "phase", current, "total_signals", total)
	start := o.now()

	for current != types.PhaseComplete {
		if err := o.runPhase(ctx, projectID, current); err != nil {
			runErr = err
			if o.fail(ctx, projectID, current, err) {
				outcome = types.RunFailed
			}
			return
		}
		next := current.Next()
		if err := o.store.TransitionPhase(ctx, projectID, current, next, ""); err != nil {
			runErr = err
			if o.transitionFailed(ctx, projectID, current, next, err) {
				outcome = types.RunFailed
			}
			return
		}
		log.Info("phase complete", "phase", current, "next", next)
		current = next
	}
	outcome = types.RunComplete

	if err := o.store.UpdateProcessingState(ctx, projectID, map[string]interface{}{
		storage.FieldCompletedAt: o.now(),
	}); err != nil {
		log.Error("failed to record completion time", "error", err)
	}
	log.Info("pipeline run complete", "duration", o.now().Sub(start))
}

// startRun records a run in the project's history. History is advisory:
// failing to write it does not stop the run.
func (o *Orchestrator) startRun(ctx context.Context, projectID string, phase types.Phase) *types.RunAttempt {
	attempt := &types.RunAttempt{ProjectID: projectID, StartPhase: phase, StartedAt: o.now()}
	if err := o.store.RecordRunStart(ctx, attempt); err != nil {
		o.logger.Warn("failed to record run start", "project_id", projectID, "error", err)
		return nil
	}
	return attempt
}

func (o *Orchestrator) finishRun(ctx context.Context, attempt *types.RunAttempt, phase types.Phase, outcome types.RunOutcome, runErr error) {
	if attempt == nil {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	// Interrupted runs are recorded too
	if err := o.store.FinishRun(context.WithoutCancel(ctx), attempt.ID, phase, outcome, msg); err != nil {
		o.logger.Warn("failed to record run end", "project_id", attempt.ProjectID, "run", attempt.AttemptNumber, "error", err)
	}
}

func (o *Orchestrator) runPhase(ctx context.Context, projectID string, phase types.Phase) error {
	switch phase {
	case types.PhaseEmbedding:
		return o.runEmbedding(ctx, projectID)
	case types.PhaseSimilarity:
		return o.runSimilarity(ctx, projectID)
	case types.PhaseVerification:
		return o.runVerification(ctx, projectID)
	}
	return fmt.Errorf("no work defined for phase %s", phase)
}

// fail records err on the project and reports whether the project was
// moved to error. A cancelled context leaves the phase untouched so the next
// Run continues from it.
func (o *Orchestrator) fail(ctx context.Context, projectID string, phase types.Phase, err error) bool {
	if ctx.Err() != nil {
		o.logger.Warn("pipeline interrupted", "project_id", projectID, "phase", phase, "error", err)
		return false
	}
	o.logger.Error("pipeline failed", "project_id", projectID, "phase", phase, "error", err)
	if terr := o.store.TransitionPhase(ctx, projectID, phase, types.PhaseError, err.Error()); terr != nil {
		o.logger.Error("failed to record pipeline error", "project_id", projectID, "error", terr)
		return false
	}
	return true
}

// transitionFailed handles a failed from→to transition. A phase conflict
// means another worker moved the project on, so it is only logged; any other
// error is recorded as a pipeline failure. Reports whether one was recorded.
func (o *Orchestrator) transitionFailed(ctx context.Context, projectID string, from, to types.Phase, err error) bool {
	if errors.Is(err, types.ErrPhaseConflict) {
		o.logger.Warn("phase changed underneath run", "project_id", projectID, "from", from, "to", to, "error", err)
		return false
	}
	return o.fail(ctx, projectID, from, fmt.Errorf("failed to advance %s to %s: %w", from, to, err))
}

// progress batches counter writes so the store sees one update every
// commitEvery items instead of one per item
type progress struct {
	store       storage.Storage
	projectID   string
	field       string
	completed   int
	failed      int
	trackFailed bool
	pending     int
	commitEvery int
}

func (p *progress) add(ctx context.Context, failed bool) error {
	p.completed++
	if failed {
		p.failed++
	}
	p.pending++
	if p.pending >= p.commitEvery {
		return p.commit(ctx)
	}
	return nil
}

func (p *progress) commit(ctx context.Context) error {
	if p.pending == 0 {
		return nil
	}
	return p.write(ctx)
}

func (p *progress) write(ctx context.Context) error {
	updates := map[string]interface{}{p.field: p.completed}
	if p.trackFailed {
		updates[storage.FieldVerificationFailed] = p.failed
	}
	if err := p.store.UpdateProcessingState(ctx, p.projectID, updates); err != nil {
		return fmt.Errorf("failed to commit progress: %w", err)
	}
	p.pending = 0
	return nil
}

// batches splits n items into [start, end) ranges of size at most size
func batches(n, size int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}
