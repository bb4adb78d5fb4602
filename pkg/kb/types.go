package kb

import (
	"time"

	"github.com/pawrescue/kbengine/internal/domain/knowledge"
	"github.com/pawrescue/kbengine/internal/usecase/retrieval"
)

// Metric names the distance function used for similarity.
type Metric string

// Metric constants.
const (
	Cosine     Metric = "cosine"
	DotProduct Metric = "dot-product"
	Euclidean  Metric = "euclidean"
)

// Metadata describes a document for filtering. Audience and Tags are sets.
type Metadata struct {
	Category  string
	Audience  []string
	Source    string
	Timestamp time.Time
	Version   string
	Tags      []string
}

// Document is an embedded knowledge entry for the low-level API.
type Document struct {
	ID        string
	Embedding []float32
	Content   string
	Metadata  Metadata
}

// SearchResult is a single search hit. Score is higher-is-closer,
// Distance is the metric's native lower-is-closer value.
type SearchResult struct {
	Document Document
	Score    float64
	Distance float64
}

// ItemError is one failed id of a batch call.
type ItemError struct {
	ID  string
	Err error
}

// BatchSummary is the outcome of a batch call. Every input id is counted
// exactly once.
type BatchSummary struct {
	Success   bool
	Processed int
	Failed    int
	Errors    []ItemError
}

// Item is a knowledge-base record for Ingest.
type Item = knowledge.Item

// RetrieveRequest is an assistant retrieval request.
type RetrieveRequest = retrieval.Request

// Snippet is one retrieved knowledge entry.
type Snippet = retrieval.Snippet

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status string            // "ok", "degraded", "error"
	Checks map[string]string // component → "ok"/"error"
}
