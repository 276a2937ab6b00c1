package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/steveyegge/sigtrend/internal/types"
)

const (
	// MinScore and MaxScore bound a valid verification score.
	MinScore = 1
	MaxScore = 10

	// DefaultMinVerifiedScore is the lowest score kept as a verified neighbour.
	DefaultMinVerifiedScore = 5

	maxPromptTextChars = 500
)

// Candidate is a neighbour presented to the model for verification.
type Candidate struct {
	ID   string
	Text string
}

// PositionScore is one validated entry of a scoring response. Position is
// 1-based into the candidate list.
type PositionScore struct {
	Position int
	Score    int
}

const verifySystemPrompt = `You judge whether short pieces of customer feedback describe the same underlying trend. Respond only with JSON.`

// Verify asks the model to score each candidate against source and returns
// the candidates scoring at least minScore, highest first. A response that
// holds no usable JSON array yields an empty, non-nil result. Provider errors
// (after retries) are returned.
func (c *Client) Verify(ctx context.Context, source string, candidates []Candidate, minScore int) ([]types.SimilarityScore, error) {
	if len(candidates) == 0 {
		return []types.SimilarityScore{}, nil
	}

	text, err := c.Complete(ctx, "verification", verifySystemPrompt, buildVerifyPrompt(source, candidates))
	if err != nil {
		return nil, err
	}

	scores := ParseScores(text, len(candidates))
	if len(scores) == 0 {
		c.logger.Debug("verification response held no valid scores",
			"response_preview", truncateRunes(text, 200))
	}
	return FilterVerified(scores, candidates, minScore), nil
}

// FilterVerified maps validated scores back to candidate ids, keeping those
// with score >= minScore. Equal scores keep response order.
func FilterVerified(scores []PositionScore, candidates []Candidate, minScore int) []types.SimilarityScore {
	out := make([]types.SimilarityScore, 0, len(scores))
	for _, s := range scores {
		if s.Score < minScore || s.Position < 1 || s.Position > len(candidates) {
			continue
		}
		out = append(out, types.SimilarityScore{
			NeighborID: candidates[s.Position-1].ID,
			Score:      float64(s.Score),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func buildVerifyPrompt(source string, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("Source signal:\n")
	b.WriteString(truncateRunes(source, maxPromptTextChars))
	b.WriteString("\n\nCandidate signals:\n")
	for i, cand := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.ReplaceAll(truncateRunes(cand.Text, maxPromptTextChars), "\n", " "))
	}
	fmt.Fprintf(&b, `
For each candidate, rate how strongly it describes the same underlying need, problem or request as the source signal, on an integer scale from %d (unrelated) to %d (same trend).

Respond with a JSON array only, one entry per candidate:
[{"position": 1, "score": 7}, {"position": 2, "score": 2}]
`, MinScore, MaxScore)
	return b.String()
}

// ParseScores extracts the first JSON array from a model response and
// returns its valid entries. Entries are dropped when the position is not in
// [1, n], the score is missing or not an integer in [1, 10], or the position
// was already seen. No array at all yields nil.
func ParseScores(text string, n int) []PositionScore {
	raw, ok := ExtractFirstJSONArray(text)
	if !ok {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil
	}

	seen := make(map[int]bool, len(elems))
	out := make([]PositionScore, 0, len(elems))
	for _, elem := range elems {
		var entry struct {
			Position *float64 `json:"position"`
			Score    *float64 `json:"score"`
		}
		if err := json.Unmarshal(elem, &entry); err != nil {
			continue
		}
		pos, ok := wholeNumber(entry.Position)
		if !ok || pos < 1 || pos > n || seen[pos] {
			continue
		}
		score, ok := wholeNumber(entry.Score)
		if !ok || score < MinScore || score > MaxScore {
			continue
		}
		seen[pos] = true
		out = append(out, PositionScore{Position: pos, Score: score})
	}
	return out
}

// wholeNumber accepts 7 and 7.0 but not 7.5.
func wholeNumber(f *float64) (int, bool) {
	if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) || *f != math.Trunc(*f) {
		return 0, false
	}
	if math.Abs(*f) > math.MaxInt32 {
		return 0, false
	}
	return int(*f), true
}
