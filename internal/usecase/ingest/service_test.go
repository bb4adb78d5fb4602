package ingest

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/domain/batch"
	"github.com/pawrescue/kbengine/internal/domain/document"
	"github.com/pawrescue/kbengine/internal/domain/knowledge"
	"github.com/pawrescue/kbengine/internal/domain/metric"
	"github.com/pawrescue/kbengine/internal/usecase/engine"
)

// --- Mocks ---

type sliceSource struct {
	items []knowledge.Item
	err   error
}

func (s sliceSource) Items(context.Context) ([]knowledge.Item, error) { return s.items, s.err }

type recordingIndex struct {
	docs    []document.Document
	summary *batch.Summary
}

func (r *recordingIndex) UpsertBatch(_ context.Context, docs []document.Document) batch.Summary {
	r.docs = append(r.docs, docs...)
	if r.summary != nil {
		return *r.summary
	}
	results := make([]batch.Result, len(docs))
	for i := range docs {
		results[i] = batch.NewOK(docs[i].ID())
	}
	return batch.Summarize(results)
}

// textEmbedder maps text to a 3-d vector; texts containing "fail" error out.
type textEmbedder struct {
	calls atomic.Int32
}

func (e *textEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	e.calls.Add(1)
	if strings.Contains(text, "fail") {
		return domain.EmbeddingResult{}, domain.NewRateLimited(0, errors.New("slow down"))
	}
	return domain.EmbeddingResult{Embedding: []float32{float32(len(text)), 1, 0}}, nil
}

type batchTextEmbedder struct {
	textEmbedder
	batches atomic.Int32
	err     error
}

func (e *batchTextEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	e.batches.Add(1)
	if e.err != nil {
		return domain.BatchEmbeddingResult{}, e.err
	}
	return domain.BatchFallback(ctx, &e.textEmbedder, texts)
}

// blankEmbedder succeeds without a vector for texts containing "blank".
type blankEmbedder struct {
	textEmbedder
}

func (e *blankEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if strings.Contains(text, "blank") {
		return domain.EmbeddingResult{}, nil
	}
	return e.textEmbedder.Embed(ctx, text)
}

// blankBatchEmbedder returns a nil element for texts containing "blank".
type blankBatchEmbedder struct {
	textEmbedder
}

func (e *blankBatchEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "blank") {
			continue
		}
		r, _ := e.textEmbedder.Embed(ctx, t)
		out[i] = r.Embedding
	}
	return domain.BatchEmbeddingResult{Embeddings: out}, nil
}

// --- Helpers ---

func item(id, title string, agents ...string) knowledge.Item {
	return knowledge.Item{
		ID:         id,
		Title:      title,
		Content:    "Content for " + title,
		Category:   "adoption",
		AgentTypes: agents,
		Audience:   []string{"adopters"},
	}
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- Tests ---

func TestIngest_BuildsDocuments(t *testing.T) {
	idx := &recordingIndex{}
	svc := New(&textEmbedder{}, idx, WithClock(func() time.Time { return fixedNow }))

	it := item("faq-1", "Adoption fees", "adopter", "donor")
	it.Metadata = map[string]string{
		knowledge.MetaSource:    "faq",
		knowledge.MetaVersion:   "2",
		knowledge.MetaUpdatedAt: "2025-11-05T08:00:00Z",
		knowledge.MetaTags:      "fees",
	}
	plain := item("faq-2", "Visiting hours")

	summary, err := svc.Ingest(context.Background(), sliceSource{items: []knowledge.Item{it, plain}})
	require.NoError(t, err)
	require.True(t, summary.Success)
	require.Equal(t, 2, summary.ProcessedCount)
	require.Len(t, idx.docs, 2)

	byID := map[string]document.Document{}
	for _, d := range idx.docs {
		byID[d.ID()] = d
	}

	d1 := byID["faq-1"]
	require.Equal(t, "Adoption fees\n\nContent for Adoption fees", d1.Content())
	m := d1.Metadata()
	require.Equal(t, "adoption", m.Category)
	require.Equal(t, []string{"adopters"}, m.Audience)
	require.Equal(t, "faq", m.Source)
	require.Equal(t, "2", m.Version)
	require.Equal(t, []string{"agent:adopter", "agent:donor", "fees"}, m.Tags)
	require.True(t, m.Timestamp.Equal(time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC)))

	d2 := byID["faq-2"]
	require.Equal(t, "knowledge_base", d2.Metadata().Source)
	require.Equal(t, "1", d2.Metadata().Version)
	require.True(t, d2.Metadata().Timestamp.Equal(fixedNow))
}

func TestIngest_ItemizesInvalidItems(t *testing.T) {
	idx := &recordingIndex{}
	svc := New(&textEmbedder{}, idx)

	missingTitle := item("faq-2", "")
	emptyAgent := item("faq-3", "Agents", "")
	summary := svc.IngestItems(context.Background(), []knowledge.Item{
		item("faq-1", "Valid"),
		missingTitle,
		emptyAgent,
		item("faq-1", "Duplicate"),
	})

	require.False(t, summary.Success)
	require.Equal(t, 1, summary.ProcessedCount)
	require.Equal(t, 3, summary.FailedCount)
	for _, ie := range summary.Errors {
		require.ErrorIs(t, ie.Err, domain.ErrValidation, "id %s", ie.ID)
	}
	require.Len(t, idx.docs, 1)
}

func TestIngest_EmbeddingFailuresPerID(t *testing.T) {
	idx := &recordingIndex{}
	svc := New(&textEmbedder{}, idx, WithConcurrency(2))

	summary := svc.IngestItems(context.Background(), []knowledge.Item{
		item("ok-1", "Donations"),
		item("bad-1", "this will fail"),
		item("ok-2", "Volunteering"),
	})

	require.Equal(t, 2, summary.ProcessedCount)
	require.Equal(t, 1, summary.FailedCount)
	require.Equal(t, "bad-1", summary.Errors[0].ID)
	require.ErrorIs(t, summary.Errors[0].Err, domain.ErrRateLimited)
}

func TestIngest_EmptyVectorIsItemized(t *testing.T) {
	tests := []struct {
		name     string
		embedder domain.Embedder
	}{
		{"single", &blankEmbedder{}},
		{"batch", &blankBatchEmbedder{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := &recordingIndex{}
			svc := New(tt.embedder, idx)

			summary := svc.IngestItems(context.Background(), []knowledge.Item{
				item("ok", "Crate training"),
				item("empty", "blank answer"),
			})

			require.False(t, summary.Success)
			require.Equal(t, 1, summary.ProcessedCount)
			require.Equal(t, 1, summary.FailedCount)
			require.Len(t, summary.Errors, 1)
			require.Equal(t, "empty", summary.Errors[0].ID)
			require.ErrorIs(t, summary.Errors[0].Err, domain.ErrValidation)
			require.Len(t, idx.docs, 1)
		})
	}
}

func TestIngest_UsesBatchEmbedderInChunks(t *testing.T) {
	emb := &batchTextEmbedder{}
	idx := &recordingIndex{}
	svc := New(emb, idx, WithChunkSize(2))

	items := []knowledge.Item{
		item("a", "A"), item("b", "B"), item("c", "C"), item("d", "D"), item("e", "E"),
	}
	summary := svc.IngestItems(context.Background(), items)

	require.True(t, summary.Success)
	require.Equal(t, 5, summary.ProcessedCount)
	require.EqualValues(t, 3, emb.batches.Load())

	// Vectors line up with their items.
	for _, d := range idx.docs {
		require.EqualValues(t, len(d.Content()), d.Embedding()[0], "id %s", d.ID())
	}
}

func TestIngest_BatchFailureFailsChunk(t *testing.T) {
	emb := &batchTextEmbedder{err: domain.ErrEmbeddingProviderError}
	idx := &recordingIndex{}
	svc := New(emb, idx, WithChunkSize(10))

	summary := svc.IngestItems(context.Background(), []knowledge.Item{item("a", "A"), item("b", "B")})

	require.Zero(t, summary.ProcessedCount)
	require.Equal(t, 2, summary.FailedCount)
	require.Empty(t, idx.docs)
	require.ErrorIs(t, summary.Errors[0].Err, domain.ErrExternalAPI)
}

func TestIngest_MergesIndexFailures(t *testing.T) {
	idx := &recordingIndex{summary: &batch.Summary{
		FailedCount: 1,
		Errors:      []batch.ItemError{{ID: "a", Err: domain.ErrDatabase}},
	}}
	svc := New(&textEmbedder{}, idx)

	summary := svc.IngestItems(context.Background(), []knowledge.Item{item("a", "A"), item("", "No id")})

	require.False(t, summary.Success)
	require.Equal(t, 2, summary.FailedCount)
	require.Len(t, summary.Errors, 2)
}

func TestIngest_SourceError(t *testing.T) {
	svc := New(&textEmbedder{}, &recordingIndex{})
	_, err := svc.Ingest(context.Background(), sliceSource{err: errors.New("file missing")})
	require.Error(t, err)
}

func TestIngest_Empty(t *testing.T) {
	idx := &recordingIndex{}
	summary := New(&textEmbedder{}, idx).IngestItems(context.Background(), nil)
	require.True(t, summary.Success)
	require.Zero(t, summary.ProcessedCount)
	require.Empty(t, idx.docs)
}

func TestIngest_IntoEngine(t *testing.T) {
	b, err := engine.NewBackend(engine.BackendConfig{Kind: engine.KindInMemory, Metric: metric.Cosine})
	require.NoError(t, err)
	eng, err := engine.New(b, 3, metric.Cosine, nil)
	require.NoError(t, err)

	summary := New(&textEmbedder{}, eng).IngestItems(context.Background(), []knowledge.Item{
		item("faq-1", "Fostering"),
		item("faq-2", "Sponsoring"),
	})
	require.True(t, summary.Success)

	got, err := eng.Get(context.Background(), "faq-2")
	require.NoError(t, err)
	require.Equal(t, "adoption", got.Metadata().Category)
}
