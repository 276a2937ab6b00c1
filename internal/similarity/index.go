package similarity

import (
	"sort"

	"github.com/steveyegge/sigtrend/internal/logging"
	"github.com/steveyegge/sigtrend/internal/types"
)

// DefaultTopN is the number of candidates kept per signal.
const DefaultTopN = 40

// Item is one pooled vector.
type Item struct {
	ID     string
	Vector []float32
}

type entry struct {
	Item
	norm float64
}

// Index is an immutable snapshot of embedded signals. The pool order is the
// order items were passed to NewIndex; it is the tie-break order for equal
// scores.
type Index struct {
	items  []entry
	logger *logging.Logger
}

// NewIndex builds an index and precomputes norms. A nil logger discards
// per-pair diagnostics.
func NewIndex(items []Item, logger *logging.Logger) *Index {
	idx := &Index{
		items:  make([]entry, 0, len(items)),
		logger: logging.OrNop(logger),
	}
	for _, it := range items {
		idx.items = append(idx.items, entry{Item: it, norm: Norm(it.Vector)})
	}
	return idx
}

// Size returns the number of pooled items.
func (idx *Index) Size() int {
	return len(idx.items)
}

// Search scores vec against every pooled item except targetID and returns the
// top n by descending similarity. Pairs that cannot be compared (dimension
// mismatch, malformed vectors) are logged and skipped.
func (idx *Index) Search(targetID string, vec []float32, n int) []types.SimilarityScore {
	if n <= 0 {
		return []types.SimilarityScore{}
	}
	norm := Norm(vec)
	scores := make([]types.SimilarityScore, 0, len(idx.items))
	for _, it := range idx.items {
		if it.ID == targetID {
			continue
		}
		s, err := cosineWithNorms(vec, it.Vector, norm, it.norm)
		if err != nil {
			idx.logger.Warn("skipping similarity pair",
				"signal_id", targetID, "neighbor_id", it.ID, "error", err)
			continue
		}
		scores = append(scores, types.SimilarityScore{NeighborID: it.ID, Score: s})
	}
	return TopN(scores, n)
}

// TopN returns the n highest-scoring entries in descending order. Equal
// scores keep their input order. n <= 0 yields an empty slice; n larger than
// len(scores) yields all of them. The input slice is not modified.
func TopN(scores []types.SimilarityScore, n int) []types.SimilarityScore {
	if n <= 0 {
		return []types.SimilarityScore{}
	}
	sorted := make([]types.SimilarityScore, len(scores))
	copy(sorted, scores)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
