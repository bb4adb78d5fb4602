package document

import (
	"fmt"
	"slices"
	"time"
)

// MaxContentSize is the maximum document content size in bytes.
const MaxContentSize = 163840 // 160KB

// MaxIDLength is the maximum document identifier length.
const MaxIDLength = 256

// Metadata describes a knowledge-base entry for filtering.
// Audience and Tags are sets: order is irrelevant and duplicates are dropped.
type Metadata struct {
	Category  string    `json:"category"`
	Audience  []string  `json:"audience"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"` // microsecond precision
	Version   string    `json:"version"`
	Tags      []string  `json:"tags,omitempty"`
}

// Document is an embedded knowledge entry (immutable value object).
// Identity is the caller-assigned id; upsert replaces the whole document.
type Document struct {
	id        string
	embedding []float32
	content   string
	metadata  Metadata
}

// New validates and creates a Document. Dimension checks happen in the engine,
// which is the only place that knows the configured length.
func New(id string, embedding []float32, content string, meta Metadata) (Document, error) {
	if id == "" {
		return Document{}, fmt.Errorf("document ID is required")
	}
	if len(id) > MaxIDLength {
		return Document{}, fmt.Errorf("document ID too long (max %d)", MaxIDLength)
	}
	if len(embedding) == 0 {
		return Document{}, fmt.Errorf("embedding is required")
	}
	if len(content) > MaxContentSize {
		return Document{}, fmt.Errorf("content too large (max %d bytes)", MaxContentSize)
	}

	return Document{
		id:        id,
		embedding: slices.Clone(embedding),
		content:   content,
		metadata:  cloneMetadata(meta),
	}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(id string, embedding []float32, content string, meta Metadata) Document {
	return Document{id: id, embedding: embedding, content: content, metadata: meta}
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Embedding returns the embedding vector.
func (d *Document) Embedding() []float32 { return d.embedding }

// Content returns the original text payload.
func (d *Document) Content() string { return d.content }

// Metadata returns the filterable metadata.
func (d *Document) Metadata() Metadata { return d.metadata }

// Dimensions returns the embedding length.
func (d *Document) Dimensions() int { return len(d.embedding) }

func cloneMetadata(m Metadata) Metadata {
	m.Audience = normalizeSet(m.Audience)
	m.Tags = normalizeSet(m.Tags)
	if !m.Timestamp.IsZero() {
		m.Timestamp = m.Timestamp.UTC().Truncate(time.Microsecond)
	}
	return m
}

// normalizeSet copies s, drops empty values and duplicates, and sorts the result.
func normalizeSet(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for _, v := range s {
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
