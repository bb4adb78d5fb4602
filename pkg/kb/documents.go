package kb

import (
	"context"
	"fmt"
	"time"

	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/domain/batch"
	domdoc "github.com/pawrescue/kbengine/internal/domain/document"
	"github.com/pawrescue/kbengine/internal/domain/search/filter"
	"github.com/pawrescue/kbengine/internal/domain/search/result"
)

// Upsert creates or fully replaces a document.
func (c *Client) Upsert(ctx context.Context, doc Document) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("upsert", start, err) }()

	d, err := toInternalDocument(doc)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	if err = c.engine.Upsert(ctx, d); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// UpsertBatch creates or replaces documents. Documents that fail local
// validation are reported in the summary next to backend failures.
func (c *Client) UpsertBatch(ctx context.Context, docs []Document) BatchSummary {
	start := time.Now()

	valid := make([]domdoc.Document, 0, len(docs))
	var invalid []batch.Result
	for _, d := range docs {
		doc, err := toInternalDocument(d)
		if err != nil {
			invalid = append(invalid, batch.NewError(d.ID, err))
			continue
		}
		valid = append(valid, doc)
	}

	s := c.engine.UpsertBatch(ctx, valid)
	if len(invalid) > 0 {
		inv := batch.Summarize(invalid)
		s.FailedCount += inv.FailedCount
		s.Errors = append(s.Errors, inv.Errors...)
		s.Success = false
	}

	out := fromSummary(s)
	c.obs.observe("upsert_batch", start, summaryErr(out))
	return out
}

// Get returns a document by id.
func (c *Client) Get(ctx context.Context, id string) (_ Document, err error) {
	start := time.Now()
	defer func() { c.obs.observe("get", start, err) }()

	d, err := c.engine.Get(ctx, id)
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return fromInternalDocument(d), nil
}

// Delete removes a document. Deleting a missing id succeeds.
func (c *Client) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("delete", start, err) }()

	if err = c.engine.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// DeleteBatch removes documents by id.
func (c *Client) DeleteBatch(ctx context.Context, ids []string) BatchSummary {
	start := time.Now()
	out := fromSummary(c.engine.DeleteBatch(ctx, ids))
	c.obs.observe("delete_batch", start, summaryErr(out))
	return out
}

// Count returns the number of documents matching f. Backends without exact
// counts return ErrCountUnsupported, never zero.
func (c *Client) Count(ctx context.Context, f Filter) (_ int, err error) {
	start := time.Now()
	defer func() { c.obs.observe("count", start, err) }()

	ff, err := f.build()
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	n, err := c.engine.Count(ctx, ff)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Clear removes every document.
func (c *Client) Clear(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("clear", start, err) }()

	if err = c.engine.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Filter restricts searches and counts. Zero fields are unconstrained;
// Audience and Tags match on any overlap.
type Filter struct {
	Category string
	Audience []string
	Source   string
	Version  string
	Tags     []string
	From     *time.Time
	To       *time.Time
}

func (f Filter) build() (filter.Filter, error) {
	ff, err := filter.New(
		filter.WithCategory(f.Category),
		filter.WithAudience(f.Audience...),
		filter.WithSource(f.Source),
		filter.WithVersion(f.Version),
		filter.WithTags(f.Tags...),
		filter.WithTimeRange(f.From, f.To),
	)
	if err != nil {
		return filter.Filter{}, fmt.Errorf("invalid filter: %w: %w", err, domain.ErrValidation)
	}
	return ff, nil
}

func toInternalDocument(d Document) (domdoc.Document, error) {
	doc, err := domdoc.New(d.ID, d.Embedding, d.Content, domdoc.Metadata{
		Category:  d.Metadata.Category,
		Audience:  d.Metadata.Audience,
		Source:    d.Metadata.Source,
		Timestamp: d.Metadata.Timestamp,
		Version:   d.Metadata.Version,
		Tags:      d.Metadata.Tags,
	})
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("validate document: %w: %w", err, domain.ErrValidation)
	}
	return doc, nil
}

func fromInternalDocument(d domdoc.Document) Document {
	m := d.Metadata()
	return Document{
		ID:        d.ID(),
		Embedding: d.Embedding(),
		Content:   d.Content(),
		Metadata: Metadata{
			Category:  m.Category,
			Audience:  m.Audience,
			Source:    m.Source,
			Timestamp: m.Timestamp,
			Version:   m.Version,
			Tags:      m.Tags,
		},
	}
}

func fromSearchResults(results []result.Result) []SearchResult {
	out := make([]SearchResult, len(results))
	for i := range results {
		out[i] = SearchResult{
			Document: fromInternalDocument(results[i].Document()),
			Score:    results[i].Score(),
			Distance: results[i].Distance(),
		}
	}
	return out
}

func fromSummary(s batch.Summary) BatchSummary {
	out := BatchSummary{
		Success:   s.Success,
		Processed: s.ProcessedCount,
		Failed:    s.FailedCount,
	}
	for _, e := range s.Errors {
		out.Errors = append(out.Errors, ItemError{ID: e.ID, Err: e.Err})
	}
	return out
}

// summaryErr reports the first item error for observation.
func summaryErr(s BatchSummary) error {
	if len(s.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("%d items failed, first %s: %w", s.Failed, s.Errors[0].ID, s.Errors[0].Err)
}
