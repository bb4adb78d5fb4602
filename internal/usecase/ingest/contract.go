package ingest

import (
	"context"

	"github.com/pawrescue/kbengine/internal/domain/batch"
	"github.com/pawrescue/kbengine/internal/domain/document"
	"github.com/pawrescue/kbengine/internal/domain/knowledge"
)

// Source supplies knowledge items (the item store, a seed file).
type Source interface {
	Items(ctx context.Context) ([]knowledge.Item, error)
}

// Indexer stores embedded documents.
type Indexer interface {
	UpsertBatch(ctx context.Context, docs []document.Document) batch.Summary
}
