package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry-verifications <project-id>",
	Short: "Re-verify signals whose verification failed",
	Long: `Retry verification for signals that have candidates but an empty verified
list. A signal that genuinely has no matching neighbour looks the same as a
failed call, so those are re-asked as well; an empty answer leaves them as
they are.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectID := args[0]
		green := color.New(color.FgGreen).SprintFunc()

		release, err := lockDataDir("sigtrend-retry")
		if err != nil {
			fail("%v", err)
		}
		defer release()

		orch, err := newOrchestrator(components{ai: true})
		if err != nil {
			fail("%v", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := orch.RetryFailedVerifications(ctx, projectID)
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("%s Retried %d signals: %d verified, %d still empty\n",
			green("✓"), res.Retried, res.Succeeded, res.Remaining)
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}
