package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var resetClear bool

var resetCmd = &cobra.Command{
	Use:   "reset <project-id>",
	Short: "Return a project to pending",
	Long: `Reset a project's processing state to pending with zeroed counters.

With --clear, every signal's embedding, candidates and verified neighbours
are discarded too, so the next run recomputes everything. Without it the
next run skips work that is already stored.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectID := args[0]
		green := color.New(color.FgGreen).SprintFunc()

		orch, err := newOrchestrator(components{})
		if err != nil {
			fail("%v", err)
		}
		if err := orch.Reset(cmd.Context(), projectID, resetClear); err != nil {
			fail("%v", err)
		}

		fmt.Printf("%s Project %s reset to pending\n", green("✓"), projectID)
		if resetClear {
			fmt.Println("  Derived data cleared")
		}
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetClear, "clear", false, "Also discard embeddings, candidates and verified neighbours")
	rootCmd.AddCommand(resetCmd)
}
