package datapoint

import (
	"context"
	"testing"

	"github.com/pawrescue/kbengine/internal/db"
	"github.com/pawrescue/kbengine/internal/domain/metric"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	pingFn         func(ctx context.Context) error
	hreplaceFn     func(ctx context.Context, items []db.HashSetItem) error
	hgetAllMultiFn func(ctx context.Context, keys []string) ([]map[string]string, error)
	delFn          func(ctx context.Context, keys ...string) (int, error)
	scanFn         func(ctx context.Context, pattern string) ([]string, error)
	createIndexFn  func(ctx context.Context, def *db.IndexDefinition) error
	searchKNNFn    func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	searchCountFn  func(ctx context.Context, index, keyPrefix string, f db.Filter) (int, error)
}

func (m *mockStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *mockStore) HReplaceMulti(ctx context.Context, items []db.HashSetItem) error {
	if m.hreplaceFn != nil {
		return m.hreplaceFn(ctx, items)
	}
	return nil
}

func (m *mockStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if m.hgetAllMultiFn != nil {
		return m.hgetAllMultiFn(ctx, keys)
	}
	return make([]map[string]string, len(keys)), nil
}

func (m *mockStore) Del(ctx context.Context, keys ...string) (int, error) {
	if m.delFn != nil {
		return m.delFn(ctx, keys...)
	}
	return len(keys), nil
}

func (m *mockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, pattern)
	}
	return nil, nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockStore) DropIndex(context.Context, string) error { return nil }

func (m *mockStore) IndexExists(context.Context, string) (bool, error) { return true, nil }

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) SearchCount(ctx context.Context, index, keyPrefix string, f db.Filter) (int, error) {
	if m.searchCountFn != nil {
		return m.searchCountFn(ctx, index, keyPrefix, f)
	}
	return 0, nil
}

func testConfig() Config {
	return Config{
		IndexName:  "kb:idx",
		KeyPrefix:  "kb:dp:",
		Dimensions: 3,
		Metric:     metric.Cosine,
	}
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	repo, err := New(ms, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return repo, ms
}
