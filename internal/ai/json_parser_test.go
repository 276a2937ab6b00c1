package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategies(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
		title string
	}{
		{"direct", `{"title": "Dark Mode", "summary": "s"}`, true, "Dark Mode"},
		{"code fence", "```json\n{\"title\": \"Exports\"}\n```", true, "Exports"},
		{"trailing comma", `{"title": "Pricing",}`, true, "Pricing"},
		{"unquoted key", `{title: "Sync"}`, true, "Sync"},
		{"prose around", "Here you go:\n{\"title\": \"Search\"}\nHope that helps", true, "Search"},
		{"apostrophe preserved", `{"title": "It's slow"}`, true, "It's slow"},
		{"empty", "   ", false, ""},
		{"garbage", "no json here", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse[Summary](tt.input)
			assert.Equal(t, tt.ok, res.Success, res.Error)
			assert.Equal(t, tt.title, res.Data.Title)
			if !tt.ok {
				assert.NotEmpty(t, res.Error)
			}
		})
	}
}

func TestExtractFirstJSONArray(t *testing.T) {
	raw, ok := ExtractFirstJSONArray(`Sure! [{"position": 1, "score": 8}] and also [2]`)
	require.True(t, ok)
	assert.JSONEq(t, `[{"position": 1, "score": 8}]`, string(raw))

	// An unbalanced bracket before the real array is skipped.
	raw, ok = ExtractFirstJSONArray(`note [unclosed ... then [1, 2, 3]`)
	require.True(t, ok)
	assert.JSONEq(t, `[1, 2, 3]`, string(raw))

	_, ok = ExtractFirstJSONArray(`{"position": 1}`)
	assert.False(t, ok)

	_, ok = ExtractFirstJSONArray(``)
	assert.False(t, ok)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", 10))
	assert.Equal(t, "abcd...", truncateRunes("abcdefghij", 7))
	assert.Equal(t, "日本語", truncateRunes("日本語です", 3))
	assert.Equal(t, "日本...", truncateRunes("日本語です日本語です", 5))
}
