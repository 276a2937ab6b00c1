package ai

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/sigtrend/internal/types"
)

func TestParseScoresFiltering(t *testing.T) {
	// Second entry has an out-of-range score, third has no score.
	got := ParseScores(`[{"position":1,"score":9},{"position":2,"score":15},{"position":3}]`, 3)
	assert.Equal(t, []PositionScore{{Position: 1, Score: 9}}, got)
}

func TestParseScores(t *testing.T) {
	tests := []struct {
		name string
		text string
		n    int
		want []PositionScore
	}{
		{
			name: "prose around array",
			text: "Here are my ratings:\n[{\"position\": 2, \"score\": 6}]\nLet me know!",
			n:    2,
			want: []PositionScore{{Position: 2, Score: 6}},
		},
		{
			name: "position out of range",
			text: `[{"position": 0, "score": 6}, {"position": 4, "score": 6}, {"position": 3, "score": 6}]`,
			n:    3,
			want: []PositionScore{{Position: 3, Score: 6}},
		},
		{
			name: "non-integer and string scores dropped",
			text: `[{"position": 1, "score": 6.5}, {"position": 2, "score": "7"}, {"position": 3, "score": 7.0}]`,
			n:    3,
			want: []PositionScore{{Position: 3, Score: 7}},
		},
		{
			name: "score bounds",
			text: `[{"position": 1, "score": 0}, {"position": 2, "score": 1}, {"position": 3, "score": 10}, {"position": 4, "score": 11}]`,
			n:    4,
			want: []PositionScore{{Position: 2, Score: 1}, {Position: 3, Score: 10}},
		},
		{
			name: "duplicate position keeps first",
			text: `[{"position": 1, "score": 8}, {"position": 1, "score": 2}]`,
			n:    1,
			want: []PositionScore{{Position: 1, Score: 8}},
		},
		{
			name: "non-object entries skipped",
			text: `[3, {"position": 1, "score": 5}, null]`,
			n:    1,
			want: []PositionScore{{Position: 1, Score: 5}},
		},
		{
			name: "no array",
			text: "I could not find any similar signals.",
			n:    3,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseScores(tt.text, tt.n)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterVerified(t *testing.T) {
	cands := []Candidate{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got := FilterVerified([]PositionScore{
		{Position: 1, Score: 5},
		{Position: 2, Score: 4},
		{Position: 3, Score: 9},
	}, cands, DefaultMinVerifiedScore)

	assert.Equal(t, []types.SimilarityScore{
		{NeighborID: "c", Score: 9},
		{NeighborID: "a", Score: 5},
	}, got)
}

func TestVerify(t *testing.T) {
	sender := &scriptedSender{responses: []string{
		`Ratings: [{"position":1,"score":9},{"position":2,"score":15},{"position":3}]`,
	}}
	c := newTestClient(t, sender)

	got, err := c.Verify(context.Background(), "dark mode please",
		[]Candidate{{ID: "n1", Text: "need a dark theme"}, {ID: "n2", Text: "x"}, {ID: "n3", Text: "y"}},
		DefaultMinVerifiedScore)
	require.NoError(t, err)
	assert.Equal(t, []types.SimilarityScore{{NeighborID: "n1", Score: 9}}, got)

	require.Equal(t, 1, sender.calls())
	prompt := sender.requests[0].Prompt
	assert.Contains(t, prompt, "dark mode please")
	assert.Contains(t, prompt, "1. need a dark theme")
	assert.Contains(t, prompt, "3. y")
}

func TestVerifyNoArrayIsEmptyNotError(t *testing.T) {
	sender := &scriptedSender{responses: []string{"None of these match."}}
	c := newTestClient(t, sender)

	got, err := c.Verify(context.Background(), "s", []Candidate{{ID: "n1", Text: "t"}}, 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestVerifyNoCandidatesSkipsCall(t *testing.T) {
	sender := &scriptedSender{}
	c := newTestClient(t, sender)

	got, err := c.Verify(context.Background(), "s", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, sender.calls())
}

func TestVerifyPropagatesProviderError(t *testing.T) {
	sender := &scriptedSender{errs: []error{newAPIError(http.StatusUnauthorized, nil)}}
	c := newTestClient(t, sender)

	_, err := c.Verify(context.Background(), "s", []Candidate{{ID: "n1", Text: "t"}}, 5)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, sender.calls())
}
