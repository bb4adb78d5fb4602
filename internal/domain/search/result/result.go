package result

import (
	"cmp"
	"slices"

	"github.com/pawrescue/kbengine/internal/domain/document"
)

// Result is a single search hit. Score and Distance are always both set and
// related by the engine metric's conversion rule.
type Result struct {
	doc      document.Document
	score    float64
	distance float64
}

// New creates a search result.
func New(doc document.Document, score, distance float64) Result {
	return Result{doc: doc, score: score, distance: distance}
}

// Document returns the matched document.
func (r *Result) Document() document.Document { return r.doc }

// ID returns the matched document identifier.
func (r *Result) ID() string { return r.doc.ID() }

// Score returns the normalized similarity (higher = closer).
func (r *Result) Score() float64 { return r.score }

// Distance returns the metric-native distance (lower = closer).
func (r *Result) Distance() float64 { return r.distance }

// SortByScore orders results by descending score; ties keep their relative
// order, so callers must pass candidates in tie-break order.
func SortByScore(rs []Result) {
	slices.SortStableFunc(rs, func(a, b Result) int {
		return cmp.Compare(b.score, a.score)
	})
}

// Truncate keeps at most k results.
func Truncate(rs []Result, k int) []Result {
	if k >= 0 && len(rs) > k {
		return rs[:k]
	}
	return rs
}
