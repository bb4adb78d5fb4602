// Package metric computes vector similarity and converts between a metric's
// native distance (lower is closer) and the engine's score (higher is closer).
package metric

import (
	"fmt"
	"math"
)

// Metric names a distance function.
type Metric string

// Supported metrics.
const (
	Cosine     Metric = "cosine"
	DotProduct Metric = "dot-product"
	Euclidean  Metric = "euclidean"
)

// Parse validates a metric name. Empty means cosine.
func Parse(s string) (Metric, error) {
	switch Metric(s) {
	case "":
		return Cosine, nil
	case Cosine, DotProduct, Euclidean:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", s)
	}
}

// IsValid reports whether m is a supported metric.
func (m Metric) IsValid() bool {
	switch m {
	case Cosine, DotProduct, Euclidean:
		return true
	default:
		return false
	}
}

// Distance computes the native distance between a and b.
//
//	cosine:      1 - cos(a, b)
//	dot-product: -dot(a, b)
//	euclidean:   ||a - b||
func (m Metric) Distance(a, b []float32) float64 {
	switch m {
	case DotProduct:
		return -Dot(a, b)
	case Euclidean:
		return EuclideanDistance(a, b)
	default:
		return 1 - CosineSimilarity(a, b)
	}
}

// Score converts a native distance into a score. It is the single conversion
// rule used for both local scoring and remote results.
//
//	cosine:      1 - d       (cosine similarity)
//	dot-product: -d          (raw dot product)
//	euclidean:   exp(-d)     in (0, 1]
func (m Metric) Score(distance float64) float64 {
	switch m {
	case DotProduct:
		return -distance
	case Euclidean:
		return math.Exp(-distance)
	default:
		return 1 - distance
	}
}

// Compare returns score and distance for a against b under m.
func (m Metric) Compare(a, b []float32) (score, distance float64) {
	distance = m.Distance(a, b)
	return m.Score(distance), distance
}

// MaxScore is the best achievable score: 1 for cosine and euclidean, +Inf for dot product.
func (m Metric) MaxScore() float64 {
	if m == DotProduct {
		return math.Inf(1)
	}
	return 1
}

// CosineSimilarity returns dot(a,b)/(|a||b|), or 0 when either norm is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Dot returns the dot product of a and b (0 for mismatched lengths).
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// EuclideanDistance returns ||a - b|| (+Inf for mismatched lengths).
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
