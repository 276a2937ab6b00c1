package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignalsLines(t *testing.T) {
	signals, err := parseSignals([]byte("checkout is slow\n\n  login fails on mobile  \n"), "proj")
	require.NoError(t, err)
	require.Len(t, signals, 2)

	assert.Equal(t, "checkout is slow", signals[0].Text)
	assert.Equal(t, "login fails on mobile", signals[1].Text)
	for _, s := range signals {
		assert.Equal(t, "proj", s.ProjectID)
		_, err := uuid.Parse(s.ID)
		assert.NoError(t, err, "generated id should be a UUID")
	}
}

func TestParseSignalsJSON(t *testing.T) {
	input := `[
		"plain string",
		{"id": "s-1", "text": "with id"},
		{"text": "without id"},
		"   "
	]`
	signals, err := parseSignals([]byte(input), "proj")
	require.NoError(t, err)
	require.Len(t, signals, 3)

	assert.Equal(t, "plain string", signals[0].Text)
	assert.Equal(t, "s-1", signals[1].ID)
	assert.Equal(t, "with id", signals[1].Text)
	assert.NotEmpty(t, signals[2].ID)
}

func TestParseSignalsErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"malformed array", `["a", `},
		{"wrong element type", `[42]`},
		{"duplicate ids", `[{"id":"x","text":"a"},{"id":"x","text":"b"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSignals([]byte(tt.input), "proj")
			assert.Error(t, err)
		})
	}
}

func TestParseSignalsEmpty(t *testing.T) {
	signals, err := parseSignals([]byte("\n\n"), "proj")
	require.NoError(t, err)
	assert.Empty(t, signals)
}
