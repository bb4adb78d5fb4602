package request

import (
	"fmt"
	"slices"

	"github.com/pawrescue/kbengine/internal/domain/search/filter"
)

// Search parameter limits.
const (
	DefaultTopK = 5
	MaxTopK     = 500
)

// Query is a validated similarity query.
type Query struct {
	embedding []float32
	topK      int
	filter    filter.Filter
	minScore  *float64
}

// New validates and normalizes search parameters.
// topK == 0 means DefaultTopK; negative topK is rejected. minScore (nil = none)
// must lie in [0,1]; it is compared against the metric's score.
func New(embedding []float32, topK int, f filter.Filter, minScore *float64) (Query, error) {
	if len(embedding) == 0 {
		return Query{}, fmt.Errorf("query embedding is required")
	}
	if topK < 0 {
		return Query{}, fmt.Errorf("top_k must be positive, got %d", topK)
	}
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	if minScore != nil && (*minScore < 0 || *minScore > 1) {
		return Query{}, fmt.Errorf("min_score must be between 0 and 1")
	}

	var ms *float64
	if minScore != nil {
		v := *minScore
		ms = &v
	}

	return Query{
		embedding: slices.Clone(embedding),
		topK:      topK,
		filter:    f,
		minScore:  ms,
	}, nil
}

// Embedding returns the query vector.
func (q *Query) Embedding() []float32 { return q.embedding }

// TopK returns the maximum number of results.
func (q *Query) TopK() int { return q.topK }

// Filter returns the metadata pre-filter.
func (q *Query) Filter() filter.Filter { return q.filter }

// MinScore returns the score threshold and whether one was set.
func (q *Query) MinScore() (float64, bool) {
	if q.minScore == nil {
		return 0, false
	}
	return *q.minScore, true
}

// Accepts reports whether score passes the threshold.
func (q *Query) Accepts(score float64) bool {
	return q.minScore == nil || score >= *q.minScore
}
