package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/steveyegge/sigtrend/internal/types"
)

var importProject string

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import signals into a project",
	Long: `Import signals from a file, or stdin when no file is given.

The input is either one signal per line, or a JSON array whose elements are
strings or {"id": ..., "text": ...} objects. Signals without an id get a
generated one. Blank lines and blank texts are skipped.

Examples:
  sigtrend import feedback.txt --project 7f1c...
  cat signals.json | sigtrend import`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		green := color.New(color.FgGreen).SprintFunc()

		var in io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				fail("%v", err)
			}
			defer f.Close()
			in = f
		}
		data, err := io.ReadAll(in)
		if err != nil {
			fail("failed to read input: %v", err)
		}

		projectID := importProject
		if projectID == "" {
			projectID = uuid.NewString()
		}
		signals, err := parseSignals(data, projectID)
		if err != nil {
			fail("%v", err)
		}
		if len(signals) == 0 {
			fail("no signals found in input")
		}

		if err := store.CreateSignals(ctx, signals); err != nil {
			fail("failed to import signals: %v", err)
		}
		if _, err := store.EnsureProcessingState(ctx, projectID); err != nil {
			fail("failed to create processing state: %v", err)
		}

		fmt.Printf("%s Imported %d signals\n", green("✓"), len(signals))
		fmt.Printf("  Project: %s\n", projectID)
		fmt.Printf("\nRun 'sigtrend run %s' to process them.\n", projectID)
	},
}

func init() {
	importCmd.Flags().StringVarP(&importProject, "project", "p", "", "Project ID (default: a new UUID)")
	rootCmd.AddCommand(importCmd)
}

type importedSignal struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// parseSignals accepts a JSON array of strings or objects, or plain text
// with one signal per line.
func parseSignals(data []byte, projectID string) ([]*types.Signal, error) {
	trimmed := bytes.TrimSpace(data)
	var items []importedSignal

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		for i, r := range raw {
			var text string
			if err := json.Unmarshal(r, &text); err == nil {
				items = append(items, importedSignal{Text: text})
				continue
			}
			var item importedSignal
			if err := json.Unmarshal(r, &item); err != nil {
				return nil, fmt.Errorf("element %d: want a string or {id, text} object", i)
			}
			items = append(items, item)
		}
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(trimmed))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			items = append(items, importedSignal{Text: scanner.Text()})
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read lines: %w", err)
		}
	}

	seen := make(map[string]bool)
	signals := make([]*types.Signal, 0, len(items))
	for _, item := range items {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}
		id := item.ID
		if id == "" {
			id = uuid.NewString()
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate signal id %q", id)
		}
		seen[id] = true
		signals = append(signals, &types.Signal{ID: id, ProjectID: projectID, Text: text})
	}
	return signals, nil
}
