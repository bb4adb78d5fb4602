package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/domain/datapoint"
	"github.com/pawrescue/kbengine/internal/domain/document"
	"github.com/pawrescue/kbengine/internal/domain/metric"
	"github.com/pawrescue/kbengine/internal/domain/search/filter"
	"github.com/pawrescue/kbengine/internal/domain/search/request"
	"github.com/pawrescue/kbengine/internal/domain/search/result"
	"github.com/pawrescue/kbengine/internal/retry"
)

// --- Mocks ---

type mockBackend struct {
	upsertFn func(ctx context.Context, docs []document.Document) error
	deleteFn func(ctx context.Context, ids []string) error
	searchFn func(ctx context.Context, q request.Query) ([]result.Result, error)
	countFn  func(ctx context.Context, f filter.Filter) (int, error)
	clearFn  func(ctx context.Context) error
	getFn    func(ctx context.Context, id string) (document.Document, error)
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) Upsert(ctx context.Context, docs []document.Document) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, docs)
	}
	return nil
}

func (m *mockBackend) Search(ctx context.Context, q request.Query) ([]result.Result, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, q)
	}
	return nil, nil
}

func (m *mockBackend) Get(ctx context.Context, id string) (document.Document, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return document.Document{}, domain.ErrNotFound
}

func (m *mockBackend) Delete(ctx context.Context, ids []string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ids)
	}
	return nil
}

func (m *mockBackend) Count(ctx context.Context, f filter.Filter) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx, f)
	}
	return 0, nil
}

func (m *mockBackend) Clear(ctx context.Context) error {
	if m.clearFn != nil {
		return m.clearFn(ctx)
	}
	return nil
}

func (m *mockBackend) Ping(context.Context) error { return nil }

// noCountIndex is a remote index without optional capabilities.
type noCountIndex struct{}

func (noCountIndex) UpsertDatapoints(context.Context, []datapoint.Datapoint) error { return nil }
func (noCountIndex) RemoveDatapoints(context.Context, []string) error             { return nil }
func (noCountIndex) FindNeighbors(context.Context, datapoint.Query) ([]datapoint.Neighbor, error) {
	return nil, nil
}

// --- Helpers ---

func newMemoryEngine(t *testing.T) *Engine {
	t.Helper()
	b, err := NewBackend(BackendConfig{Kind: KindInMemory, Metric: metric.Cosine})
	require.NoError(t, err)
	e, err := New(b, 3, metric.Cosine, nil)
	require.NoError(t, err)
	return e
}

func newDoc(t *testing.T, id string, vec []float32, meta document.Metadata) document.Document {
	t.Helper()
	d, err := document.New(id, vec, "content of "+id, meta)
	require.NoError(t, err)
	return d
}

func newQuery(t *testing.T, vec []float32, topK int, f filter.Filter) request.Query {
	t.Helper()
	q, err := request.New(vec, topK, f, nil)
	require.NoError(t, err)
	return q
}

// --- Construction ---

func TestNew_Validation(t *testing.T) {
	b := &mockBackend{}
	_, err := New(nil, 3, metric.Cosine, nil)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = New(b, 0, metric.Cosine, nil)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = New(b, 3, metric.Metric("manhattan"), nil)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestNewBackend(t *testing.T) {
	mem, err := NewBackend(BackendConfig{Kind: KindInMemory, Metric: metric.Euclidean, MaxDocuments: 10})
	require.NoError(t, err)
	require.Equal(t, "memory", mem.Name())

	rem, err := NewBackend(BackendConfig{
		Kind:       KindRemote,
		Metric:     metric.Cosine,
		Index:      noCountIndex{},
		RemoteName: "vertex",
		Retry:      retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond},
	})
	require.NoError(t, err)
	require.Equal(t, "vertex", rem.Name())

	_, err = NewBackend(BackendConfig{Kind: KindRemote, Metric: metric.Cosine})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewBackend(BackendConfig{Kind: "disk", Metric: metric.Cosine})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestAccessors(t *testing.T) {
	e := newMemoryEngine(t)
	require.Equal(t, 3, e.Dimensions())
	require.Equal(t, metric.Cosine, e.Metric())
	require.Equal(t, "memory", e.Backend())
}

// --- Upsert / Search ---

func TestUpsertSearch_RoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newMemoryEngine(t)

	meta := document.Metadata{Category: "adoption", Audience: []string{"adopters"}, Source: "faq", Version: "2"}
	require.NoError(t, e.Upsert(ctx, newDoc(t, "faq-1", []float32{1, 0, 0}, meta)))

	rs, err := e.Search(ctx, newQuery(t, []float32{1, 0, 0}, 1, filter.Filter{}))
	require.NoError(t, err)
	require.Len(t, rs, 1)
	require.Equal(t, "faq-1", rs[0].ID())
	require.InDelta(t, 1.0, rs[0].Score(), 1e-9)
	require.InDelta(t, 0.0, rs[0].Distance(), 1e-9)

	got := rs[0].Document()
	require.Equal(t, "content of faq-1", got.Content())
	require.Equal(t, meta.Category, got.Metadata().Category)
}

func TestUpsert_DimensionMismatchLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	e := newMemoryEngine(t)

	err := e.Upsert(ctx, newDoc(t, "bad", []float32{1, 0}, document.Metadata{}))
	require.ErrorIs(t, err, domain.ErrVectorDimMismatch)
	require.ErrorIs(t, err, domain.ErrValidation)

	n, err := e.Count(ctx, filter.Filter{})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestUpsert_ReplacesDocument(t *testing.T) {
	ctx := context.Background()
	e := newMemoryEngine(t)

	require.NoError(t, e.Upsert(ctx, newDoc(t, "faq-1", []float32{1, 0, 0}, document.Metadata{Category: "old"})))
	require.NoError(t, e.Upsert(ctx, newDoc(t, "faq-1", []float32{0, 1, 0}, document.Metadata{Category: "new"})))

	got, err := e.Get(ctx, "faq-1")
	require.NoError(t, err)
	require.Equal(t, "new", got.Metadata().Category)
	require.Equal(t, []float32{0, 1, 0}, got.Embedding())
}

func TestSearch_EmptyStore(t *testing.T) {
	rs, err := newMemoryEngine(t).Search(context.Background(), newQuery(t, []float32{1, 0, 0}, 5, filter.Filter{}))
	require.NoError(t, err)
	require.NotNil(t, rs)
	require.Empty(t, rs)
}

func TestSearch_DimensionMismatch(t *testing.T) {
	_, err := newMemoryEngine(t).Search(context.Background(), newQuery(t, []float32{1, 0}, 5, filter.Filter{}))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSearch_FilterAndTopK(t *testing.T) {
	ctx := context.Background()
	e := newMemoryEngine(t)

	summary := e.UpsertBatch(ctx, []document.Document{
		newDoc(t, "a", []float32{1, 0, 0}, document.Metadata{Audience: []string{"donors"}}),
		newDoc(t, "b", []float32{0.9, 0.1, 0}, document.Metadata{Audience: []string{"donors", "volunteers"}}),
		newDoc(t, "c", []float32{0.8, 0.2, 0}, document.Metadata{Audience: []string{"adopters"}}),
	})
	require.True(t, summary.Success)

	f := filter.MustNew(filter.WithAudience("donors"))
	rs, err := e.Search(ctx, newQuery(t, []float32{1, 0, 0}, 1, f))
	require.NoError(t, err)
	require.Len(t, rs, 1)
	require.Equal(t, "a", rs[0].ID())

	n, err := e.Count(ctx, f)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestSearch_BackendErrorWrapped(t *testing.T) {
	boom := errors.New("boom")
	b := &mockBackend{searchFn: func(context.Context, request.Query) ([]result.Result, error) {
		return nil, fmt.Errorf("%w: %w", domain.ErrExternalAPI, boom)
	}}
	e, err := New(b, 3, metric.Cosine, nil)
	require.NoError(t, err)

	_, err = e.Search(context.Background(), newQuery(t, []float32{1, 0, 0}, 1, filter.Filter{}))
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, domain.ErrExternalAPI)
}

// --- Batches ---

func TestUpsertBatch_ItemizesInvalid(t *testing.T) {
	ctx := context.Background()
	e := newMemoryEngine(t)

	summary := e.UpsertBatch(ctx, []document.Document{
		newDoc(t, "ok-1", []float32{1, 0, 0}, document.Metadata{}),
		newDoc(t, "short", []float32{1, 0}, document.Metadata{}),
		newDoc(t, "ok-2", []float32{0, 1, 0}, document.Metadata{}),
	})

	require.False(t, summary.Success)
	require.Equal(t, 2, summary.ProcessedCount)
	require.Equal(t, 1, summary.FailedCount)
	require.Len(t, summary.Errors, 1)
	require.Equal(t, "short", summary.Errors[0].ID)
	require.ErrorIs(t, summary.Errors[0].Err, domain.ErrValidation)

	n, err := e.Count(ctx, filter.Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestUpsertBatch_BackendFailureFailsValidIDs(t *testing.T) {
	backendErr := fmt.Errorf("%w: unavailable", domain.ErrExternalAPI)
	calls := 0
	b := &mockBackend{upsertFn: func(_ context.Context, docs []document.Document) error {
		calls++
		require.Len(t, docs, 2)
		return backendErr
	}}
	e, err := New(b, 3, metric.Cosine, nil)
	require.NoError(t, err)

	summary := e.UpsertBatch(context.Background(), []document.Document{
		newDoc(t, "a", []float32{1, 0, 0}, document.Metadata{}),
		newDoc(t, "bad", []float32{1}, document.Metadata{}),
		newDoc(t, "b", []float32{0, 1, 0}, document.Metadata{}),
	})

	require.Equal(t, 1, calls)
	require.False(t, summary.Success)
	require.Zero(t, summary.ProcessedCount)
	require.Equal(t, 3, summary.FailedCount)

	byID := make(map[string]error)
	for _, ie := range summary.Errors {
		byID[ie.ID] = ie.Err
	}
	require.ErrorIs(t, byID["a"], domain.ErrExternalAPI)
	require.ErrorIs(t, byID["b"], domain.ErrExternalAPI)
	require.ErrorIs(t, byID["bad"], domain.ErrValidation)
}

// validatingBackend rejects documents tagged "reject".
type validatingBackend struct {
	mockBackend
}

func (validatingBackend) Validate(doc *document.Document) error {
	if slices.Contains(doc.Metadata().Tags, "reject") {
		return fmt.Errorf("unstorable tag: %w", domain.ErrValidation)
	}
	return nil
}

func TestUpsertBatch_BackendValidationIsPerDocument(t *testing.T) {
	var written []string
	b := &validatingBackend{mockBackend{upsertFn: func(_ context.Context, docs []document.Document) error {
		for i := range docs {
			written = append(written, docs[i].ID())
		}
		return nil
	}}}
	e, err := New(b, 3, metric.Cosine, nil)
	require.NoError(t, err)

	summary := e.UpsertBatch(context.Background(), []document.Document{
		newDoc(t, "a", []float32{1, 0, 0}, document.Metadata{Tags: []string{"cats"}}),
		newDoc(t, "bad", []float32{0, 0, 1}, document.Metadata{Tags: []string{"reject"}}),
		newDoc(t, "b", []float32{0, 1, 0}, document.Metadata{}),
	})

	require.False(t, summary.Success)
	require.Equal(t, 2, summary.ProcessedCount)
	require.Equal(t, 1, summary.FailedCount)
	require.Len(t, summary.Errors, 1)
	require.Equal(t, "bad", summary.Errors[0].ID)
	require.ErrorIs(t, summary.Errors[0].Err, domain.ErrValidation)
	require.Equal(t, []string{"a", "b"}, written)
}

func TestUpsertBatch_Empty(t *testing.T) {
	b := &mockBackend{upsertFn: func(context.Context, []document.Document) error {
		t.Fatal("backend must not be called")
		return nil
	}}
	e, err := New(b, 3, metric.Cosine, nil)
	require.NoError(t, err)

	summary := e.UpsertBatch(context.Background(), nil)
	require.True(t, summary.Success)
	require.Zero(t, summary.ProcessedCount)
}

func TestDelete_Idempotent(t *testing.T) {
	ctx := context.Background()
	e := newMemoryEngine(t)

	require.NoError(t, e.Upsert(ctx, newDoc(t, "a", []float32{1, 0, 0}, document.Metadata{})))
	require.NoError(t, e.Delete(ctx, "a"))
	require.NoError(t, e.Delete(ctx, "a"))

	_, err := e.Get(ctx, "a")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.ErrorIs(t, e.Delete(ctx, ""), domain.ErrValidation)
}

func TestDeleteBatch(t *testing.T) {
	ctx := context.Background()
	e := newMemoryEngine(t)
	require.NoError(t, e.Upsert(ctx, newDoc(t, "a", []float32{1, 0, 0}, document.Metadata{})))

	summary := e.DeleteBatch(ctx, []string{"a", "", "never-existed"})
	require.Equal(t, 2, summary.ProcessedCount)
	require.Equal(t, 1, summary.FailedCount)
	require.Equal(t, "", summary.Errors[0].ID)
}

func TestDeleteBatch_BackendFailure(t *testing.T) {
	b := &mockBackend{deleteFn: func(context.Context, []string) error {
		return fmt.Errorf("%w: down", domain.ErrDatabase)
	}}
	e, err := New(b, 3, metric.Cosine, nil)
	require.NoError(t, err)

	summary := e.DeleteBatch(context.Background(), []string{"a", "b"})
	require.Equal(t, 2, summary.FailedCount)
	require.Equal(t, "a", summary.Errors[0].ID)
	require.Equal(t, "b", summary.Errors[1].ID)
	require.ErrorIs(t, summary.Errors[0].Err, domain.ErrDatabase)
}

// --- Count / Clear ---

func TestCount_Unsupported(t *testing.T) {
	b, err := NewBackend(BackendConfig{Kind: KindRemote, Metric: metric.Cosine, Index: noCountIndex{}})
	require.NoError(t, err)
	e, err := New(b, 3, metric.Cosine, nil)
	require.NoError(t, err)

	_, err = e.Count(context.Background(), filter.Filter{})
	require.ErrorIs(t, err, domain.ErrCountUnsupported)

	err = e.Clear(context.Background())
	require.ErrorIs(t, err, domain.ErrNotSupported)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	e := newMemoryEngine(t)
	require.NoError(t, e.Upsert(ctx, newDoc(t, "a", []float32{1, 0, 0}, document.Metadata{})))
	require.NoError(t, e.Clear(ctx))

	rs, err := e.Search(ctx, newQuery(t, []float32{1, 0, 0}, 5, filter.Filter{}))
	require.NoError(t, err)
	require.Empty(t, rs)
	require.NoError(t, e.Ping(ctx))
}

func TestGet_RequiresID(t *testing.T) {
	_, err := newMemoryEngine(t).Get(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrValidation)
}
