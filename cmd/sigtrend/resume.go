package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/sigtrend/internal/pipeline"
	"github.com/steveyegge/sigtrend/internal/types"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <project-id>",
	Short: "Resume a project that failed",
	Long: `Move a project out of the error state into the phase it failed in and
run it from there. Work completed before the failure is kept.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectID := args[0]
		cyan := color.New(color.FgCyan).SprintFunc()

		release, err := lockDataDir("sigtrend-resume")
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

		phase, err := orch.Resume(ctx, projectID)
		switch {
		case errors.Is(err, types.ErrNotFound):
			fail("project %s not found", projectID)
		case errors.Is(err, pipeline.ErrNotInError):
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("%s Project %s is not in error; running it\n", yellow("!"), projectID)
		case err != nil:
			fail("%v", err)
		default:
			fmt.Printf("Resuming from %s\n", cyan(phase))
		}

		runAndReport(ctx, orch, projectID)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
