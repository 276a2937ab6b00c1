package similarity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/sigtrend/internal/types"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero norm", []float32{0, 0}, []float32{1, 0}, 0},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 0},
		{"scaled", []float32{2, 2}, []float32{1, 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			require.NoError(t, err)
			assert.False(t, math.IsNaN(got))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCosineErrors(t *testing.T) {
	_, err := Cosine([]float32{1, 0}, []float32{1, 0, 0})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = Cosine([]float32{}, []float32{})
	assert.ErrorIs(t, err, ErrMalformedVector)

	_, err = Cosine([]float32{float32(math.NaN()), 1}, []float32{1, 1})
	assert.ErrorIs(t, err, ErrMalformedVector)
}

func TestTopN(t *testing.T) {
	scores := []types.SimilarityScore{
		{NeighborID: "a", Score: 0.9},
		{NeighborID: "b", Score: 0.2},
		{NeighborID: "c", Score: 0.5},
	}

	got := TopN(scores, 2)
	require.Len(t, got, 2)
	assert.Equal(t, 0.9, got[0].Score)
	assert.Equal(t, 0.5, got[1].Score)

	assert.Len(t, TopN(scores, 10), 3)

	got = TopN(scores, 0)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	// Input untouched.
	assert.Equal(t, "b", scores[1].NeighborID)
}

func TestTopNTiesKeepInputOrder(t *testing.T) {
	scores := []types.SimilarityScore{
		{NeighborID: "first", Score: 0.5},
		{NeighborID: "second", Score: 0.5},
		{NeighborID: "top", Score: 0.7},
		{NeighborID: "third", Score: 0.5},
	}
	got := TopN(scores, 3)
	assert.Equal(t, []string{"top", "first", "second"}, ids(got))
}

func TestIndexSearch(t *testing.T) {
	idx := NewIndex([]Item{
		{ID: "self", Vector: []float32{1, 0}},
		{ID: "same", Vector: []float32{2, 0}},
		{ID: "diag", Vector: []float32{1, 1}},
		{ID: "opp", Vector: []float32{-1, 0}},
		{ID: "short", Vector: []float32{1}},
		{ID: "zero", Vector: []float32{0, 0}},
	}, nil)
	assert.Equal(t, 6, idx.Size())

	got := idx.Search("self", []float32{1, 0}, 10)
	assert.Equal(t, []string{"same", "diag", "zero", "opp"}, ids(got),
		"excludes self, skips mismatched dimension, orders by score")
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	assert.InDelta(t, math.Sqrt2/2, got[1].Score, 1e-6)

	got = idx.Search("self", []float32{1, 0}, 1)
	assert.Equal(t, []string{"same"}, ids(got))

	assert.Empty(t, idx.Search("self", []float32{1, 0}, 0))
}

func ids(scores []types.SimilarityScore) []string {
	out := make([]string, len(scores))
	for i, s := range scores {
		out[i] = s.NeighborID
	}
	return out
}
