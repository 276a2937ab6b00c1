package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize [file]",
	Short: "Generate a trend title and description for a group of signals",
	Long: `Read signal texts (one per line) from a file, or stdin when no file is
given, and ask Claude for a short title and a description of the trend they
share.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var in io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				fail("%v", err)
			}
			defer f.Close()
			in = f
		}

		var texts []string
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				texts = append(texts, line)
			}
		}
		if err := scanner.Err(); err != nil {
			fail("failed to read input: %v", err)
		}

		orch, err := newOrchestrator(components{ai: true})
		if err != nil {
			fail("%v", err)
		}
		summary, err := orch.GenerateSummary(cmd.Context(), texts)
		if err != nil {
			fail("%v", err)
		}

		bold := color.New(color.Bold).SprintFunc()
		fmt.Printf("%s\n\n%s\n", bold(summary.Title), summary.Summary)
	},
}

func init() {
	rootCmd.AddCommand(summarizeCmd)
}
