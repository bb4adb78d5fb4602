package datapoint

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/pawrescue/kbengine/internal/db"
	"github.com/pawrescue/kbengine/internal/db/valkey"
	"github.com/pawrescue/kbengine/internal/domain"
	domdp "github.com/pawrescue/kbengine/internal/domain/datapoint"
	"github.com/pawrescue/kbengine/internal/domain/metric"
)

func testDatapoint() domdp.Datapoint {
	return domdp.Datapoint{
		ID:            "faq-1",
		FeatureVector: []float32{0.1, 0.2, 0.3},
		Restricts: []domdp.Restrict{
			{Namespace: "category", AllowList: []string{"donations"}},
			{Namespace: "audience", AllowList: []string{"donors", "guardians"}},
		},
		NumericRestricts: []domdp.NumericRestrict{{Namespace: "timestamp", Value: 1700000000}},
		Payload:          "v1:abc",
	}
}

func TestNew_Validation(t *testing.T) {
	cfg := testConfig()
	cfg.Dimensions = 0
	if _, err := New(&mockStore{}, cfg); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	cfg = testConfig()
	cfg.KeyPrefix = ""
	if _, err := New(&mockStore{}, cfg); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

// --- EnsureIndex ---

func TestEnsureIndex_Schema(t *testing.T) {
	repo, ms := newTestRepo(t)

	var got *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		got = def
		return nil
	}

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "kb:idx" || !slices.Equal(got.Prefixes, []string{"kb:dp:"}) {
		t.Errorf("definition = %+v", got)
	}

	byName := make(map[string]db.IndexField)
	for _, f := range got.Fields {
		byName[f.Name] = f
	}
	if f := byName["audience"]; f.Type != db.IndexFieldTag || f.TagSeparator != "|" || !f.TagCaseSensitive {
		t.Errorf("audience field = %+v", f)
	}
	if f := byName["timestamp"]; f.Type != db.IndexFieldNumeric {
		t.Errorf("timestamp field = %+v", f)
	}
	if f := byName["__vector"]; f.VectorDim != 3 || f.VectorDistance != db.DistanceCosine {
		t.Errorf("vector field = %+v", f)
	}
}

func TestEnsureIndex_ExistingIsNotAnError(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error { return db.ErrIndexExists }

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureIndex_Failure(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error { return errors.New("LOADING") }

	if err := repo.EnsureIndex(context.Background()); !errors.Is(err, domain.ErrDatabase) {
		t.Fatalf("expected ErrDatabase, got %v", err)
	}
}

func TestDistanceMetric(t *testing.T) {
	tests := map[metric.Metric]db.DistanceMetric{
		metric.Cosine:     db.DistanceCosine,
		metric.DotProduct: db.DistanceIP,
		metric.Euclidean:  db.DistanceL2,
	}
	for m, want := range tests {
		if got := distanceMetric(m); got != want {
			t.Errorf("distanceMetric(%s) = %s, want %s", m, got, want)
		}
	}
}

// --- Upsert ---

func TestUpsertDatapoints_HashLayout(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.delFn = func(context.Context, ...string) (int, error) {
		t.Fatal("replace must not issue a separate DEL")
		return 0, nil
	}
	var items []db.HashSetItem
	ms.hreplaceFn = func(_ context.Context, in []db.HashSetItem) error {
		items = in
		return nil
	}

	if err := repo.UpsertDatapoints(context.Background(), []domdp.Datapoint{testDatapoint()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].Key != "kb:dp:faq-1" {
		t.Fatalf("items = %+v", items)
	}

	fields := items[0].Fields
	if fields["audience"] != "donors|guardians" || fields["category"] != "donations" {
		t.Errorf("tag fields = %v", fields)
	}
	if fields["timestamp"] != "1700000000" || fields["__payload"] != "v1:abc" {
		t.Errorf("fields = %v", fields)
	}
	if fields["__vector"] != string(valkey.VectorToBytes([]float32{0.1, 0.2, 0.3})) {
		t.Error("vector blob mismatch")
	}
}

func TestUpsertDatapoints_RejectsSeparatorInValue(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hreplaceFn = func(context.Context, []db.HashSetItem) error {
		t.Fatal("hset must not be called")
		return nil
	}

	dp := testDatapoint()
	dp.Restricts[0].AllowList = []string{"a|b"}
	if err := repo.UpsertDatapoints(context.Background(), []domdp.Datapoint{dp}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestValidateDatapoint(t *testing.T) {
	repo, _ := newTestRepo(t)

	ok := testDatapoint()
	if err := repo.ValidateDatapoint(&ok); err != nil {
		t.Fatalf("valid datapoint rejected: %v", err)
	}

	bad := testDatapoint()
	bad.Restricts[1].AllowList = []string{"donors", "foster|adopters"}
	err := repo.ValidateDatapoint(&bad)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if domain.IsRetryable(err) {
		t.Error("validation error must not be retryable")
	}
}

func TestUpsertDatapoints_StoreErrorIsRetryable(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hreplaceFn = func(context.Context, []db.HashSetItem) error {
		return &db.Error{Op: db.OpHSet, Err: errors.New("connection reset")}
	}

	err := repo.UpsertDatapoints(context.Background(), []domdp.Datapoint{testDatapoint()})
	if !errors.Is(err, domain.ErrDatabase) || !domain.IsRetryable(err) {
		t.Fatalf("expected retryable database error, got %v", err)
	}
}

func TestUpsertDatapoints_Empty(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hreplaceFn = func(context.Context, []db.HashSetItem) error {
		t.Fatal("replace must not be called")
		return nil
	}
	if err := repo.UpsertDatapoints(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
}

// --- Remove ---

func TestRemoveDatapoints(t *testing.T) {
	repo, ms := newTestRepo(t)

	var got []string
	ms.delFn = func(_ context.Context, keys ...string) (int, error) {
		got = keys
		return 1, nil
	}

	if err := repo.RemoveDatapoints(context.Background(), []string{"a", "missing"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(got, []string{"kb:dp:a", "kb:dp:missing"}) {
		t.Errorf("keys = %v", got)
	}
}

// --- FindNeighbors ---

func TestFindNeighbors(t *testing.T) {
	repo, ms := newTestRepo(t)

	var got *db.KNNQuery
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		got = q
		return &db.SearchResult{Total: 1, Entries: []db.SearchEntry{{
			Key:   "kb:dp:faq-1",
			Score: 0.25,
			Fields: map[string]string{
				"__payload": "v1:abc",
				"__vector":  string(valkey.VectorToBytes([]float32{1, 0, 0})),
				"audience":  "donors|guardians",
				"timestamp": "1700000000",
			},
		}}}, nil
	}

	ns, err := repo.FindNeighbors(context.Background(), domdp.Query{
		FeatureVector: []float32{1, 0, 0},
		NeighborCount: 4,
		Restricts:     []domdp.Restrict{{Namespace: "audience", AllowList: []string{"donors"}}},
		NumericRestricts: []domdp.NumericRestrict{
			{Namespace: "timestamp", Value: 100, Op: domdp.OpGreaterEqual},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.IndexName != "kb:idx" || got.VectorField != "__vector" || got.K != 4 {
		t.Errorf("query = %+v", got)
	}
	if len(got.Filter.Tags) != 1 || got.Filter.Tags[0].Field != "audience" {
		t.Errorf("tag filter = %+v", got.Filter.Tags)
	}
	if len(got.Filter.Numeric) != 1 || *got.Filter.Numeric[0].Min != 100 || got.Filter.Numeric[0].Max != nil {
		t.Errorf("numeric filter = %+v", got.Filter.Numeric)
	}
	if !slices.Contains(got.ReturnFields, "__payload") {
		t.Errorf("return fields = %v", got.ReturnFields)
	}

	if len(ns) != 1 {
		t.Fatalf("neighbors = %+v", ns)
	}
	n := ns[0]
	if n.Datapoint.ID != "faq-1" || n.Datapoint.Payload != "v1:abc" || n.Distance != 0.25 {
		t.Errorf("neighbor = %+v", n)
	}
	if !slices.Equal(n.Datapoint.RestrictValues("audience"), []string{"donors", "guardians"}) {
		t.Errorf("audience = %v", n.Datapoint.RestrictValues("audience"))
	}
	if ts, ok := n.Datapoint.NumericValue("timestamp"); !ok || ts != 1700000000 {
		t.Errorf("timestamp = %d, %v", ts, ok)
	}
	if !slices.Equal(n.Datapoint.FeatureVector, []float32{1, 0, 0}) {
		t.Errorf("vector = %v", n.Datapoint.FeatureVector)
	}
}

func TestFindNeighbors_DenyListRejected(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.FindNeighbors(context.Background(), domdp.Query{
		FeatureVector: []float32{1, 0, 0},
		NeighborCount: 1,
		Restricts:     []domdp.Restrict{{Namespace: "audience", DenyList: []string{"staff"}}},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestFindNeighbors_CanceledPassesThrough(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		return nil, context.Canceled
	}

	_, err := repo.FindNeighbors(context.Background(), domdp.Query{FeatureVector: []float32{1, 0, 0}, NeighborCount: 1})
	if !errors.Is(err, context.Canceled) || domain.IsRetryable(err) {
		t.Fatalf("expected non-retryable cancellation, got %v", err)
	}
}

func TestNativeDistance(t *testing.T) {
	tests := []struct {
		m    metric.Metric
		raw  float64
		want float64
	}{
		{metric.Cosine, 0.2, 0.2},
		{metric.DotProduct, 0.25, -0.75},
		{metric.DotProduct, 1.5, 0.5},
		{metric.Euclidean, 9, 3},
		{metric.Euclidean, -1e-7, 0},
	}
	for _, tt := range tests {
		if got := NativeDistance(tt.m, tt.raw); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NativeDistance(%s, %f) = %f, want %f", tt.m, tt.raw, got, tt.want)
		}
	}
}

func TestBuildFilter_NumericOps(t *testing.T) {
	tests := []struct {
		op       domdp.NumericOp
		min, max float64
		hasMin   bool
		hasMax   bool
	}{
		{domdp.OpLess, 0, 9, false, true},
		{domdp.OpLessEqual, 0, 10, false, true},
		{domdp.OpEqual, 10, 10, true, true},
		{domdp.OpGreaterEqual, 10, 0, true, false},
		{domdp.OpGreater, 11, 0, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			f, err := buildFilter(nil, []domdp.NumericRestrict{{Namespace: "timestamp", Value: 10, Op: tt.op}})
			if err != nil {
				t.Fatal(err)
			}
			nf := f.Numeric[0]
			if (nf.Min != nil) != tt.hasMin || (nf.Max != nil) != tt.hasMax {
				t.Fatalf("bounds = %+v", nf)
			}
			if tt.hasMin && *nf.Min != tt.min {
				t.Errorf("min = %f, want %f", *nf.Min, tt.min)
			}
			if tt.hasMax && *nf.Max != tt.max {
				t.Errorf("max = %f, want %f", *nf.Max, tt.max)
			}
		})
	}

	if _, err := buildFilter(nil, []domdp.NumericRestrict{{Namespace: "ts", Op: "BETWEEN"}}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown op, got %v", err)
	}
}

// --- Count / Clear / Read / Ping ---

func TestCountDatapoints(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchCountFn = func(_ context.Context, index, prefix string, f db.Filter) (int, error) {
		if index != "kb:idx" || prefix != "kb:dp:" {
			t.Errorf("index = %s, prefix = %s", index, prefix)
		}
		if len(f.Tags) != 1 || f.Tags[0].Values[0] != "donations" {
			t.Errorf("filter = %+v", f)
		}
		return 7, nil
	}

	n, err := repo.CountDatapoints(context.Background(),
		[]domdp.Restrict{{Namespace: "category", AllowList: []string{"donations"}}}, nil)
	if err != nil || n != 7 {
		t.Fatalf("CountDatapoints = %d, %v", n, err)
	}
}

func TestClearDatapoints_Batches(t *testing.T) {
	repo, ms := newTestRepo(t)

	keys := make([]string, clearBatchSize+3)
	for i := range keys {
		keys[i] = "kb:dp:x"
	}
	ms.scanFn = func(_ context.Context, pattern string) ([]string, error) {
		if pattern != "kb:dp:*" {
			t.Errorf("pattern = %s", pattern)
		}
		return keys, nil
	}
	var batches []int
	ms.delFn = func(_ context.Context, ks ...string) (int, error) {
		batches = append(batches, len(ks))
		return len(ks), nil
	}

	if err := repo.ClearDatapoints(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(batches, []int{clearBatchSize, 3}) {
		t.Errorf("batches = %v", batches)
	}
}

func TestReadDatapoints_SkipsMissing(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hgetAllMultiFn = func(_ context.Context, keys []string) ([]map[string]string, error) {
		if !slices.Equal(keys, []string{"kb:dp:a", "kb:dp:missing"}) {
			t.Errorf("keys = %v", keys)
		}
		return []map[string]string{{"__payload": "v1:abc", "category": "adoption"}, {}}, nil
	}

	dps, err := repo.ReadDatapoints(context.Background(), []string{"a", "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dps) != 1 || dps[0].ID != "a" || dps[0].RestrictValues("category")[0] != "adoption" {
		t.Errorf("datapoints = %+v", dps)
	}
}

func TestPing_Error(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.pingFn = func(context.Context) error { return errors.New("dial tcp: refused") }

	if err := repo.Ping(context.Background()); !errors.Is(err, domain.ErrDatabase) {
		t.Fatalf("expected ErrDatabase, got %v", err)
	}
}
