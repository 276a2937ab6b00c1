// Command sigtrend imports signals and runs the embedding, candidate search
// and verification pipeline over them.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/steveyegge/sigtrend/internal/ai"
	"github.com/steveyegge/sigtrend/internal/config"
	"github.com/steveyegge/sigtrend/internal/embedding"
	"github.com/steveyegge/sigtrend/internal/logging"
	"github.com/steveyegge/sigtrend/internal/pipeline"
	"github.com/steveyegge/sigtrend/internal/storage"
)

var (
	configPath string
	dbPath     string

	cfg    *config.Config
	logger *logging.Logger
	store  storage.Storage
)

var rootCmd = &cobra.Command{
	Use:   "sigtrend",
	Short: "Group signals into verified trends",
	Long: `sigtrend embeds short text signals, finds candidate neighbours by cosine
similarity and asks Claude to verify which candidates describe the same trend.

Progress is persisted after every batch, so an interrupted run continues
where it stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Storage.SQLite.Path = dbPath
		}

		logger, err = logging.New(cfg.Log.Mode, cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		store, err = storage.NewStorage(cmd.Context(), cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// components selects which model-backed dependencies an orchestrator needs.
// Commands that only read state never touch the embedding server or the API.
type components struct {
	embedder bool
	ai       bool
}

func newOrchestrator(need components) (*pipeline.Orchestrator, error) {
	pcfg := *cfg.Pipeline
	pcfg.Store = store
	pcfg.Locks = pipeline.NewLockRegistry()
	pcfg.Logger = logger

	if need.embedder {
		gen, err := newGenerator()
		if err != nil {
			return nil, err
		}
		pcfg.Embedder = gen
	}
	if need.ai {
		client, err := newAIClient()
		if err != nil {
			return nil, err
		}
		pcfg.Verifier = client
		pcfg.Summarizer = client
	}
	return pipeline.New(&pcfg)
}

func newGenerator() (*embedding.Generator, error) {
	ecfg := cfg.Embedding
	ecfg.Logger = logger
	httpEmbedder, err := embedding.NewHTTPEmbedder(ecfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	var embedder embedding.Embedder = httpEmbedder
	if ecfg.CacheSize > 0 {
		embedder = embedding.NewCachedEmbedder(httpEmbedder, ecfg.CacheSize)
	}
	return embedding.NewGenerator(embedder, ecfg.MaxChars), nil
}

func newAIClient() (*ai.Client, error) {
	acfg := cfg.AI
	acfg.Logger = logger
	client, err := ai.NewClient(acfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI client: %w", err)
	}
	return client, nil
}

// lockDataDir claims the data directory for this process. Project locks
// live in memory, so two processes must not drive the same store.
func lockDataDir(holder string) (func(), error) {
	path, err := storage.AcquireProcessLock(storage.LockDir(cfg.Storage, ".sigtrend"), holder)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := storage.ReleaseProcessLock(path); err != nil {
			logger.Warn("failed to release process lock", "path", path, "error", err)
		}
	}, nil
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
