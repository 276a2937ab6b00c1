package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxTitleChars and MaxSummaryChars cap generated text.
	MaxTitleChars   = 50
	MaxSummaryChars = 500

	maxTitleWords     = 3
	maxSummaryTexts   = 50
	maxSummaryTextLen = 300
)

// ErrNoTexts is returned when a summary is requested for no texts.
var ErrNoTexts = errors.New("no texts to summarize")

// Summary is a generated title and short description for a group of signals.
type Summary struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

const summarySystemPrompt = `You name and describe groups of related customer feedback. Respond only with JSON.`

// GenerateSummary produces a title and summary for texts. The title may be
// empty; callers substitute their own default.
func (c *Client) GenerateSummary(ctx context.Context, texts []string) (*Summary, error) {
	var kept []string
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoTexts
	}

	text, err := c.Complete(ctx, "summary", summarySystemPrompt, buildSummaryPrompt(kept))
	if err != nil {
		return nil, err
	}
	s := ParseSummary(text)
	return &s, nil
}

func buildSummaryPrompt(texts []string) string {
	var b strings.Builder
	b.WriteString("These signals were grouped as one trend:\n\n")
	for i, t := range texts {
		if i == maxSummaryTexts {
			fmt.Fprintf(&b, "(%d more not shown)\n", len(texts)-maxSummaryTexts)
			break
		}
		fmt.Fprintf(&b, "- %s\n", strings.ReplaceAll(truncateRunes(t, maxSummaryTextLen), "\n", " "))
	}
	b.WriteString(`
Write a title of 1 to 3 words and a summary of 2 to 3 sentences (at most 65 words) describing the shared trend.

Respond with a JSON object only:
{"title": "Dark Mode", "summary": "Users repeatedly ask for a dark theme..."}
`)
	return b.String()
}

// ParseSummary reads a Summary from a model response. If no JSON object can
// be parsed it falls back to the first line (up to 3 words) as the title and
// the rest as the summary. Both paths apply the length caps.
func ParseSummary(text string) Summary {
	var s Summary
	if result := Parse[Summary](text); result.Success {
		s = result.Data
	} else {
		s = heuristicSummary(text)
	}
	s.Title = truncateRunes(strings.TrimSpace(s.Title), MaxTitleChars)
	s.Summary = truncateRunes(strings.TrimSpace(s.Summary), MaxSummaryChars)
	return s
}

func heuristicSummary(text string) Summary {
	lines := strings.Split(removeCodeFences(strings.TrimSpace(text)), "\n")

	var title string
	rest := lines
	for i, line := range lines {
		if line = cleanLine(line, "title:"); line != "" {
			title = line
			rest = lines[i+1:]
			break
		}
	}

	if words := strings.Fields(title); len(words) > maxTitleWords {
		title = strings.Join(words[:maxTitleWords], " ")
	}

	var body []string
	for _, line := range rest {
		if line = cleanLine(line, "summary:"); line != "" {
			body = append(body, line)
		}
	}
	return Summary{Title: title, Summary: strings.Join(body, " ")}
}

// cleanLine trims markdown decoration, an optional label and wrapping quotes.
func cleanLine(line, label string) string {
	line = strings.Trim(strings.TrimSpace(line), "#*- ")
	if strings.HasPrefix(strings.ToLower(line), label) {
		line = line[len(label):]
	}
	line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "*"))
	return strings.Trim(line, `"'`)
}
