package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/sigtrend/internal/types"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <project-id>",
	Short: "Show a project's past pipeline runs",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectID := args[0]

		orch, err := newOrchestrator(components{})
		if err != nil {
			fail("%v", err)
		}
		runs, err := orch.Runs(cmd.Context(), projectID, historyLimit)
		if err != nil {
			fail("%v", err)
		}
		if len(runs) == 0 {
			fmt.Printf("No runs recorded for project %s\n", projectID)
			return
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		for _, run := range runs {
			fmt.Printf("#%-3d %s  %-11s %s -> %s",
				run.AttemptNumber,
				run.StartedAt.Local().Format("2006-01-02 15:04:05"),
				outcomeColor(run.Outcome),
				run.StartPhase,
				run.EndPhase)
			if d := run.Duration(); d > 0 {
				fmt.Printf(" %s", gray("("+d.Round(time.Second).String()+")"))
			}
			fmt.Println()
			if run.Error != "" {
				fmt.Printf("     %s\n", gray(run.Error))
			}
		}
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func outcomeColor(o types.RunOutcome) string {
	switch o {
	case types.RunComplete:
		return color.GreenString(string(o))
	case types.RunFailed:
		return color.RedString(string(o))
	case types.RunInterrupted:
		return color.YellowString(string(o))
	default:
		return string(o)
	}
}
