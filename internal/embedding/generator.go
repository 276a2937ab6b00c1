package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ErrInvalidVector is returned when the provider answers with an empty or
// non-finite vector, or one of the wrong dimension.
var ErrInvalidVector = errors.New("invalid embedding vector")

// ErrEmptyText is returned for text that is empty after trimming.
var ErrEmptyText = errors.New("empty text")

// Generator is the pipeline-facing wrapper around an Embedder: it truncates
// input to MaxChars runes and validates the output.
type Generator struct {
	embedder Embedder
	maxChars int
}

// NewGenerator wraps embedder. maxChars <= 0 uses DefaultMaxChars.
func NewGenerator(embedder Embedder, maxChars int) *Generator {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Generator{embedder: embedder, maxChars: maxChars}
}

// Generate embeds text. Any error is a failure for this item only unless
// IsFatal reports otherwise.
func (g *Generator) Generate(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	vec, err := g.embedder.Embed(ctx, Truncate(text, g.maxChars))
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidVector)
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: non-finite value at index %d", ErrInvalidVector, i)
		}
	}
	return vec, nil
}

// Model returns the underlying model name.
func (g *Generator) Model() string { return g.embedder.Model() }

// Truncate cuts s to at most n runes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
