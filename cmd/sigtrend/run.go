package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/sigtrend/internal/pipeline"
	"github.com/steveyegge/sigtrend/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run <project-id>",
	Short: "Process a project's outstanding phases",
	Long: `Run embedding, candidate search and verification for a project,
continuing from wherever the last run stopped.

Ctrl+C stops the run after the current batch; run the command again to
continue. A project in error must be resumed first (see 'sigtrend resume').`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectID := args[0]

		release, err := lockDataDir("sigtrend-run")
		if err != nil {
			fail("%v", err)
		}
		defer release()

		orch, err := newOrchestrator(components{embedder: true, ai: true})
		if err != nil {
			fail("%v", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runAndReport(ctx, orch, projectID)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// runAndReport runs the project to completion (or interruption) and prints
// where it ended up
func runAndReport(ctx context.Context, orch *pipeline.Orchestrator, projectID string) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("Processing project %s...\n", projectID)
	orch.Run(ctx, projectID)

	// The run context may be cancelled; status must still be readable
	state, progress, err := orch.Status(context.WithoutCancel(ctx), projectID)
	if err != nil {
		fail("failed to read status: %v", err)
	}

	switch {
	case state.Phase == types.PhaseComplete:
		fmt.Printf("\n%s Project complete\n", green("✓"))
	case state.Phase == types.PhaseError:
		fmt.Printf("\n%s Project failed during %s: %s\n", red("✗"), state.FailedPhase, state.ErrorMessage)
		fmt.Printf("  Fix the cause, then run 'sigtrend resume %s'.\n", projectID)
		os.Exit(1)
	case ctx.Err() != nil:
		fmt.Printf("\n%s Interrupted during %s; run again to continue\n", yellow("!"), state.Phase)
	default:
		fmt.Printf("\n%s Project is %s (another run may hold it)\n", yellow("!"), state.Phase)
	}
	printProgress(progress)
}
