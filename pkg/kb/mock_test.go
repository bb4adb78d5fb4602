package kb

import (
	"context"
	"strings"

	"github.com/pawrescue/kbengine/internal/domain/batch"
	domdoc "github.com/pawrescue/kbengine/internal/domain/document"
	"github.com/pawrescue/kbengine/internal/domain/search/filter"
	"github.com/pawrescue/kbengine/internal/domain/search/request"
	"github.com/pawrescue/kbengine/internal/domain/search/result"
)

// --- engineUseCase mock ---

type mockEngine struct {
	upsertFn      func(ctx context.Context, doc domdoc.Document) error
	upsertBatchFn func(ctx context.Context, docs []domdoc.Document) batch.Summary
	searchFn      func(ctx context.Context, q request.Query) ([]result.Result, error)
	getFn         func(ctx context.Context, id string) (domdoc.Document, error)
	deleteFn      func(ctx context.Context, id string) error
	deleteBatchFn func(ctx context.Context, ids []string) batch.Summary
	countFn       func(ctx context.Context, f filter.Filter) (int, error)
	clearFn       func(ctx context.Context) error
	pingFn        func(ctx context.Context) error
}

func (m *mockEngine) Upsert(ctx context.Context, doc domdoc.Document) error {
	return m.upsertFn(ctx, doc)
}

func (m *mockEngine) UpsertBatch(ctx context.Context, docs []domdoc.Document) batch.Summary {
	return m.upsertBatchFn(ctx, docs)
}

func (m *mockEngine) Search(ctx context.Context, q request.Query) ([]result.Result, error) {
	return m.searchFn(ctx, q)
}

func (m *mockEngine) Get(ctx context.Context, id string) (domdoc.Document, error) {
	return m.getFn(ctx, id)
}

func (m *mockEngine) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

func (m *mockEngine) DeleteBatch(ctx context.Context, ids []string) batch.Summary {
	return m.deleteBatchFn(ctx, ids)
}

func (m *mockEngine) Count(ctx context.Context, f filter.Filter) (int, error) {
	return m.countFn(ctx, f)
}

func (m *mockEngine) Clear(ctx context.Context) error {
	return m.clearFn(ctx)
}

func (m *mockEngine) Ping(ctx context.Context) error {
	return m.pingFn(ctx)
}

// --- Embedder mocks ---

type mockEmbedder struct {
	fn func(ctx context.Context, text string) (EmbeddingResult, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	return m.fn(ctx, text)
}

type mockBatchEmbedder struct {
	mockEmbedder
	batchFn func(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

func (m *mockBatchEmbedder) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	return m.batchFn(ctx, texts)
}

// keywordEmbedder maps texts onto three topic axes so related texts land
// close together under cosine similarity.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	t := strings.ToLower(text)
	v := []float32{0.01, 0.01, 0.01}
	for i, kws := range [][]string{
		{"adopt", "adoption", "home visit"},
		{"vaccine", "vet", "health"},
		{"donat", "receipt", "tax"},
	} {
		for _, kw := range kws {
			if strings.Contains(t, kw) {
				v[i]++
			}
		}
	}
	return EmbeddingResult{Embedding: v}, nil
}

// --- helpers ---

func testClient(eng engineUseCase) *Client {
	return &Client{engine: eng}
}

func mustDoc(id string, vec []float32, category string) domdoc.Document {
	d, err := domdoc.New(id, vec, "content "+id, domdoc.Metadata{Category: category})
	if err != nil {
		panic(err)
	}
	return d
}
