package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/sigtrend/internal/types"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <project-id>",
	Short: "Show a project's processing progress",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectID := args[0]

		orch, err := newOrchestrator(components{})
		if err != nil {
			fail("%v", err)
		}
		state, progress, err := orch.Status(cmd.Context(), projectID)
		if errors.Is(err, types.ErrNotFound) {
			fail("project %s not found", projectID)
		}
		if err != nil {
			fail("%v", err)
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]interface{}{"state": state, "progress": progress}); err != nil {
				fail("%v", err)
			}
			return
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s %s\n\n", cyan("Project"), projectID)
		fmt.Printf("  Signals: %d\n", state.TotalSignals)
		fmt.Printf("  Phase:   %s\n", phaseColor(state.Phase))
		if state.Phase == types.PhaseError {
			fmt.Printf("  Failed:  %s\n", state.FailedPhase)
			fmt.Printf("  Error:   %s\n", state.ErrorMessage)
		}
		fmt.Println()
		printProgress(progress)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func phaseColor(p types.Phase) string {
	switch p {
	case types.PhaseComplete:
		return color.GreenString(string(p))
	case types.PhaseError:
		return color.RedString(string(p))
	case types.PhasePending:
		return string(p)
	default:
		return color.YellowString(string(p))
	}
}

func printProgress(p types.Progress) {
	for _, pp := range p.Phases {
		fmt.Printf("  %-20s %s %5.1f%% (%d/%d)\n", pp.Phase, progressBar(pp.Percent, 20), pp.Percent, pp.Completed, pp.Total)
	}
	if p.Failed > 0 {
		fmt.Printf("\n  %s %d verifications failed (see 'sigtrend retry-verifications')\n",
			color.YellowString("!"), p.Failed)
	}
	if p.Elapsed > 0 {
		fmt.Printf("\n  Elapsed: %s\n", p.Elapsed.Round(time.Second))
	}
	if p.Rate > 0 {
		fmt.Printf("  Rate:    %.1f/s\n", p.Rate)
	}
	if p.ETA > 0 {
		fmt.Printf("  ETA:     %s\n", p.ETA)
	}
}

func progressBar(percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	filled = max(0, min(filled, width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
