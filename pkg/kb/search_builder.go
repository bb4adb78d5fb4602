package kb

import (
	"context"
	"fmt"
	"time"

	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/domain/search/request"
)

// SearchBuilder is a fluent builder for similarity queries.
type SearchBuilder struct {
	client    *Client
	embedding []float32
	filter    Filter
	topK      int
	minScore  *float64
}

// Search starts a query for the given embedding.
func (c *Client) Search(embedding []float32) *SearchBuilder {
	return &SearchBuilder{client: c, embedding: embedding}
}

// TopK sets the maximum number of results. 0 uses the engine default (5).
func (b *SearchBuilder) TopK(n int) *SearchBuilder {
	b.topK = n
	return b
}

// MinScore drops results scoring below s (in [0,1]).
func (b *SearchBuilder) MinScore(s float64) *SearchBuilder {
	b.minScore = &s
	return b
}

// Category requires an exact category match.
func (b *SearchBuilder) Category(c string) *SearchBuilder {
	b.filter.Category = c
	return b
}

// Audience requires any of the given audiences.
func (b *SearchBuilder) Audience(a ...string) *SearchBuilder {
	b.filter.Audience = append(b.filter.Audience, a...)
	return b
}

// Tags requires any of the given tags.
func (b *SearchBuilder) Tags(t ...string) *SearchBuilder {
	b.filter.Tags = append(b.filter.Tags, t...)
	return b
}

// Source requires an exact source match.
func (b *SearchBuilder) Source(s string) *SearchBuilder {
	b.filter.Source = s
	return b
}

// Version requires an exact version match.
func (b *SearchBuilder) Version(v string) *SearchBuilder {
	b.filter.Version = v
	return b
}

// Between bounds the document timestamp inclusively. Nil bounds are open.
func (b *SearchBuilder) Between(from, to *time.Time) *SearchBuilder {
	b.filter.From = from
	b.filter.To = to
	return b
}

// Where replaces the whole filter.
func (b *SearchBuilder) Where(f Filter) *SearchBuilder {
	b.filter = f
	return b
}

// Do executes the query. Results are ordered by descending score.
func (b *SearchBuilder) Do(ctx context.Context) (_ []SearchResult, err error) {
	start := time.Now()
	defer func() { b.client.obs.observe("search", start, err) }()

	f, err := b.filter.build()
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	q, err := request.New(b.embedding, b.topK, f, b.minScore)
	if err != nil {
		return nil, fmt.Errorf("search: %w: %w", err, domain.ErrValidation)
	}
	results, err := b.client.engine.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return fromSearchResults(results), nil
}
