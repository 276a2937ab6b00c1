package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/sigtrend/internal/ai"
	"github.com/steveyegge/sigtrend/internal/logging"
	"github.com/steveyegge/sigtrend/internal/storage"
	"github.com/steveyegge/sigtrend/internal/types"
)

// VectorGenerator turns a signal's text into an embedding. Implemented by
// *embedding.Generator.
type VectorGenerator interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Verifier scores candidates against a source text. Implemented by *ai.Client.
type Verifier interface {
	Verify(ctx context.Context, source string, candidates []ai.Candidate, minScore int) ([]types.SimilarityScore, error)
}

// Summarizer names a group of texts. Implemented by *ai.Client.
type Summarizer interface {
	GenerateSummary(ctx context.Context, texts []string) (*ai.Summary, error)
}

// Config holds orchestrator dependencies and tuning
type Config struct {
	Store      storage.Storage `yaml:"-"`
	Embedder   VectorGenerator `yaml:"-"`
	Verifier   Verifier        `yaml:"-"`
	Summarizer Summarizer      `yaml:"-"`
	Locks      *LockRegistry   `yaml:"-"` // Shared by everything that runs pipelines in this process
	Logger     *logging.Logger `yaml:"-"`

	FanOut                     int           `yaml:"fan_out"`                      // Concurrent units per batch
	BatchSize                  int           `yaml:"batch_size"`                   // Signals per batch
	ProgressCommitEvery        int           `yaml:"progress_commit_every"`        // Items between counter commits
	CandidateCount             int           `yaml:"candidate_count"`              // Neighbours kept per signal in candidate search
	MaxVerificationConcurrency int           `yaml:"max_verification_concurrency"` // Upper bound on concurrent verification calls
	VerificationBatchDelay     time.Duration `yaml:"verification_batch_delay"`     // Pacing between verification batches
	MinVerifiedScore           int           `yaml:"min_verified_score"`
	StaleLockThreshold         time.Duration `yaml:"stale_lock_threshold"` // A held lock older than this is reclaimed
}

// DefaultConfig returns a config with sensible defaults. Dependencies are
// left nil.
func DefaultConfig() *Config {
	return &Config{
		FanOut:                     5,
		BatchSize:                  50,
		ProgressCommitEvery:        10,
		CandidateCount:             40,
		MaxVerificationConcurrency: 3,
		VerificationBatchDelay:     150 * time.Millisecond,
		MinVerifiedScore:           ai.DefaultMinVerifiedScore,
		StaleLockThreshold:         5 * time.Minute,
	}
}

// Validate checks the tuning values
func (c *Config) Validate() error {
	if c.FanOut < 1 {
		return fmt.Errorf("fan_out must be at least 1 (got %d)", c.FanOut)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1 (got %d)", c.BatchSize)
	}
	if c.ProgressCommitEvery < 1 {
		return fmt.Errorf("progress_commit_every must be at least 1 (got %d)", c.ProgressCommitEvery)
	}
	if c.CandidateCount < 0 {
		return fmt.Errorf("candidate_count cannot be negative (got %d)", c.CandidateCount)
	}
	if c.MaxVerificationConcurrency < 1 {
		return fmt.Errorf("max_verification_concurrency must be at least 1 (got %d)", c.MaxVerificationConcurrency)
	}
	if c.VerificationBatchDelay < 0 {
		return fmt.Errorf("verification_batch_delay cannot be negative")
	}
	if c.MinVerifiedScore < ai.MinScore || c.MinVerifiedScore > ai.MaxScore {
		return fmt.Errorf("min_verified_score must be between %d and %d (got %d)",
			ai.MinScore, ai.MaxScore, c.MinVerifiedScore)
	}
	if c.StaleLockThreshold <= 0 {
		return fmt.Errorf("stale_lock_threshold must be positive")
	}
	return nil
}

// verificationConcurrency is min(FanOut, MaxVerificationConcurrency)
func (c *Config) verificationConcurrency() int {
	return min(c.FanOut, c.MaxVerificationConcurrency)
}
