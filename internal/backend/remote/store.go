// Package remote adapts a remote approximate-nearest-neighbor index to the
// engine's backend contract. Every index call runs through the retry executor.
package remote

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/domain/datapoint"
	"github.com/pawrescue/kbengine/internal/domain/document"
	"github.com/pawrescue/kbengine/internal/domain/metric"
	"github.com/pawrescue/kbengine/internal/domain/search/filter"
	"github.com/pawrescue/kbengine/internal/domain/search/request"
	"github.com/pawrescue/kbengine/internal/domain/search/result"
	"github.com/pawrescue/kbengine/internal/metrics"
	"github.com/pawrescue/kbengine/internal/retry"
)

// Index is the minimal remote ANN contract. Neighbor distances must already be
// in the engine's native convention for the configured metric.
type Index interface {
	UpsertDatapoints(ctx context.Context, dps []datapoint.Datapoint) error
	RemoveDatapoints(ctx context.Context, ids []string) error
	FindNeighbors(ctx context.Context, q datapoint.Query) ([]datapoint.Neighbor, error)
}

// Counter is implemented by indexes that can report exact filtered counts.
type Counter interface {
	CountDatapoints(ctx context.Context, restricts []datapoint.Restrict, numeric []datapoint.NumericRestrict) (int, error)
}

// Clearer is implemented by indexes that support a bulk wipe.
type Clearer interface {
	ClearDatapoints(ctx context.Context) error
}

// Reader is implemented by indexes that can fetch datapoints by id.
// Missing ids are omitted from the result.
type Reader interface {
	ReadDatapoints(ctx context.Context, ids []string) ([]datapoint.Datapoint, error)
}

// Validator is implemented by indexes that cannot store every datapoint the
// codec produces. It runs per document before any index call.
type Validator interface {
	ValidateDatapoint(dp *datapoint.Datapoint) error
}

// Pinger is implemented by indexes with a cheap liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is the remote backend.
type Store struct {
	index  Index
	exec   *retry.Executor
	metric metric.Metric
	name   string
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithName overrides the backend name used in logs and metrics.
func WithName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a remote backend over index.
func New(index Index, m metric.Metric, exec *retry.Executor, opts ...Option) *Store {
	s := &Store{
		index:  index,
		exec:   exec,
		metric: m,
		name:   "remote",
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the backend name.
func (s *Store) Name() string { return s.name }

// Validate reports whether doc can be written to the index, so a batch can
// reject it alone instead of failing the whole index call.
func (s *Store) Validate(doc *document.Document) error {
	dp, err := ToDatapoint(doc)
	if err != nil {
		return fmt.Errorf("encode %q: %w: %w", doc.ID(), domain.ErrInternal, err)
	}
	if v, ok := s.index.(Validator); ok {
		return v.ValidateDatapoint(&dp)
	}
	return nil
}

// Upsert writes docs in a single index call.
func (s *Store) Upsert(ctx context.Context, docs []document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	dps := make([]datapoint.Datapoint, 0, len(docs))
	for i := range docs {
		dp, err := ToDatapoint(&docs[i])
		if err != nil {
			return fmt.Errorf("encode %q: %w: %w", docs[i].ID(), domain.ErrInternal, err)
		}
		dps = append(dps, dp)
	}
	return retry.Run(ctx, s.exec, "upsert", func(ctx context.Context) error {
		return s.index.UpsertDatapoints(ctx, dps)
	})
}

// Search queries the index and converts neighbors into results ordered by
// descending score, ties broken by id. Neighbors whose payload cannot be
// decoded are logged and skipped.
func (s *Store) Search(ctx context.Context, q request.Query) ([]result.Result, error) {
	f := q.Filter()
	restricts, numeric := FilterRestricts(f)
	dq := datapoint.Query{
		FeatureVector:    q.Embedding(),
		NeighborCount:    q.TopK(),
		Restricts:        restricts,
		NumericRestricts: numeric,
	}

	neighbors, err := retry.Do(ctx, s.exec, "search", func(ctx context.Context) ([]datapoint.Neighbor, error) {
		return s.index.FindNeighbors(ctx, dq)
	})
	if err != nil {
		return nil, err
	}

	results := make([]result.Result, 0, len(neighbors))
	for i := range neighbors {
		n := &neighbors[i]
		doc, err := FromDatapoint(&n.Datapoint)
		if err != nil {
			metrics.PayloadDecodeErrorsTotal.Inc()
			s.logger.Warn("Skipping neighbor with unreadable payload",
				zap.String("backend", s.name),
				zap.String("id", n.Datapoint.ID),
				zap.Error(err),
			)
			continue
		}
		if !f.Matches(doc.Metadata()) {
			continue
		}
		score := s.metric.Score(n.Distance)
		if !q.Accepts(score) {
			continue
		}
		results = append(results, result.New(doc, score, n.Distance))
	}

	slices.SortFunc(results, func(a, b result.Result) int {
		if c := cmp.Compare(b.Score(), a.Score()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})
	return result.Truncate(results, q.TopK()), nil
}

// Get fetches a document by id when the index supports reads.
func (s *Store) Get(ctx context.Context, id string) (document.Document, error) {
	reader, ok := s.index.(Reader)
	if !ok {
		return document.Document{}, fmt.Errorf("get on %s: %w", s.name, domain.ErrNotSupported)
	}
	dps, err := retry.Do(ctx, s.exec, "get", func(ctx context.Context) ([]datapoint.Datapoint, error) {
		return reader.ReadDatapoints(ctx, []string{id})
	})
	if err != nil {
		return document.Document{}, err
	}
	for i := range dps {
		if dps[i].ID != id {
			continue
		}
		doc, err := FromDatapoint(&dps[i])
		if err != nil {
			return document.Document{}, fmt.Errorf("%w: %w", domain.ErrInternal, err)
		}
		return doc, nil
	}
	return document.Document{}, fmt.Errorf("document %q: %w", id, domain.ErrNotFound)
}

// Delete removes datapoints by id. Missing ids are not an error.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return retry.Run(ctx, s.exec, "delete", func(ctx context.Context) error {
		return s.index.RemoveDatapoints(ctx, ids)
	})
}

// Count returns domain.ErrCountUnsupported unless the index implements Counter.
// The count comes from the index restricts alone; they match Filter.Matches
// exactly because timestamps are compared in whole microseconds.
func (s *Store) Count(ctx context.Context, f filter.Filter) (int, error) {
	counter, ok := s.index.(Counter)
	if !ok {
		return 0, domain.ErrCountUnsupported
	}
	restricts, numeric := FilterRestricts(f)
	return retry.Do(ctx, s.exec, "count", func(ctx context.Context) (int, error) {
		return counter.CountDatapoints(ctx, restricts, numeric)
	})
}

// Clear returns domain.ErrNotSupported unless the index implements Clearer.
func (s *Store) Clear(ctx context.Context) error {
	clearer, ok := s.index.(Clearer)
	if !ok {
		return fmt.Errorf("clear on %s: %w", s.name, domain.ErrNotSupported)
	}
	return retry.Run(ctx, s.exec, "clear", clearer.ClearDatapoints)
}

// Ping checks the index when it supports it.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.index.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
