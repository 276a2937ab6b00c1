// Package similarity implements brute-force cosine-similarity neighbour
// selection over in-memory vectors.
package similarity

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDimensionMismatch is returned when two vectors have different lengths.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrMalformedVector is returned for empty vectors or vectors holding NaN/Inf.
	ErrMalformedVector = errors.New("malformed vector")
)

// Cosine computes dot(a,b) / (|a|·|b|). If either norm is zero the
// similarity is 0. The result is clamped to [-1, 1].
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("%w: empty vector", ErrMalformedVector)
	}
	var dot, normA, normB float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		normA += fa * fa
		normB += fb * fb
	}
	if !finite(dot) || !finite(normA) || !finite(normB) {
		return 0, fmt.Errorf("%w: non-finite component", ErrMalformedVector)
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return clamp(dot / (math.Sqrt(normA) * math.Sqrt(normB))), nil
}

// cosineWithNorms is Cosine with precomputed L2 norms.
func cosineWithNorms(a, b []float32, normA, normB float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	if !finite(normA) || !finite(normB) {
		return 0, fmt.Errorf("%w: non-finite norm", ErrMalformedVector)
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if !finite(dot) {
		return 0, fmt.Errorf("%w: non-finite component", ErrMalformedVector)
	}
	return clamp(dot / (normA * normB)), nil
}

// Norm computes the L2 norm of a vector.
func Norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func clamp(f float64) float64 {
	return math.Max(-1, math.Min(1, f))
}
