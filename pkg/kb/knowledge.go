package kb

import (
	"context"
	"time"

	"github.com/pawrescue/kbengine/internal/domain/batch"
	"github.com/pawrescue/kbengine/internal/usecase/retrieval"
)

// Ingest validates, embeds and upserts knowledge items. Every item id is
// accounted for in the summary; re-ingesting an id replaces it.
func (c *Client) Ingest(ctx context.Context, items []Item) BatchSummary {
	start := time.Now()

	var out BatchSummary
	if !c.hasEmbedder {
		results := make([]batch.Result, len(items))
		for i := range items {
			results[i] = batch.NewError(items[i].ID, errNoEmbedder)
		}
		out = fromSummary(batch.Summarize(results))
	} else {
		out = fromSummary(c.ingest.IngestItems(ctx, items))
	}

	c.obs.observe("ingest", start, summaryErr(out))
	return out
}

// Retrieve returns the knowledge snippets most relevant to req.Text, by
// descending score. Failures degrade to an empty result.
func (c *Client) Retrieve(ctx context.Context, req RetrieveRequest) []Snippet {
	start := time.Now()
	snippets := c.retrieval.Retrieve(ctx, req)
	c.obs.observe("retrieve", start, nil)
	return snippets
}

// FormatContext renders snippets as a prompt context block.
func FormatContext(snippets []Snippet) string {
	return retrieval.FormatContext(snippets)
}
