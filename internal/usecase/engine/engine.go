// Package engine is the vector retrieval facade: dimension checks, batch
// itemization and instrumentation in front of a single storage backend.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/domain/batch"
	"github.com/pawrescue/kbengine/internal/domain/document"
	"github.com/pawrescue/kbengine/internal/domain/metric"
	"github.com/pawrescue/kbengine/internal/domain/search/filter"
	"github.com/pawrescue/kbengine/internal/domain/search/request"
	"github.com/pawrescue/kbengine/internal/domain/search/result"
	"github.com/pawrescue/kbengine/internal/logger"
	"github.com/pawrescue/kbengine/internal/metrics"
)

// Engine stores embedded documents and answers similarity queries.
type Engine struct {
	backend Backend
	dims    int
	metric  metric.Metric
	logger  *zap.Logger
}

// New creates an engine over b. dims is the fixed embedding length.
func New(b Backend, dims int, m metric.Metric, l *zap.Logger) (*Engine, error) {
	if b == nil {
		return nil, fmt.Errorf("backend is required: %w", domain.ErrValidation)
	}
	if dims <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d: %w", dims, domain.ErrValidation)
	}
	if !m.IsValid() {
		return nil, fmt.Errorf("distance metric %q: %w", m, domain.ErrValidation)
	}
	return &Engine{backend: b, dims: dims, metric: m, logger: logger.Or(l)}, nil
}

// Dimensions returns the embedding length every document and query must have.
func (e *Engine) Dimensions() int { return e.dims }

// Metric returns the distance metric.
func (e *Engine) Metric() metric.Metric { return e.metric }

// Backend returns the backend name.
func (e *Engine) Backend() string { return e.backend.Name() }

// Upsert stores or fully replaces a document. On error the store is unchanged.
func (e *Engine) Upsert(ctx context.Context, doc document.Document) (err error) {
	defer e.observe("upsert", time.Now(), &err)

	if err := e.validateDocument(&doc); err != nil {
		return err
	}
	if err := e.backend.Upsert(ctx, []document.Document{doc}); err != nil {
		return fmt.Errorf("upsert %s: %w", doc.ID(), err)
	}
	return nil
}

// UpsertBatch validates each document, sends the valid ones to the backend in
// one call and itemizes every failure. A backend failure fails every valid id.
func (e *Engine) UpsertBatch(ctx context.Context, docs []document.Document) batch.Summary {
	start := time.Now()

	results := make([]batch.Result, len(docs))
	valid := make([]document.Document, 0, len(docs))
	validPos := make([]int, 0, len(docs))
	for i := range docs {
		if err := e.validateDocument(&docs[i]); err != nil {
			results[i] = batch.NewError(docs[i].ID(), err)
			continue
		}
		valid = append(valid, docs[i])
		validPos = append(validPos, i)
	}

	var err error
	if len(valid) > 0 {
		err = e.backend.Upsert(ctx, valid)
	}
	for _, pos := range validPos {
		if err != nil {
			results[pos] = batch.NewError(docs[pos].ID(), err)
		} else {
			results[pos] = batch.NewOK(docs[pos].ID())
		}
	}

	summary := batch.Summarize(results)
	e.observeBatch("upsert_batch", start, &summary, err)
	return summary
}

// Search returns up to TopK results by descending score. An empty store yields
// an empty slice.
func (e *Engine) Search(ctx context.Context, q request.Query) (_ []result.Result, err error) {
	defer e.observe("search", time.Now(), &err)

	if n := len(q.Embedding()); n != e.dims {
		return nil, fmt.Errorf("query embedding has %d dimensions, want %d: %w", n, e.dims, domain.ErrVectorDimMismatch)
	}
	rs, err := e.backend.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if rs == nil {
		rs = []result.Result{}
	}
	return rs, nil
}

// Get returns a document by id, or a NotFound error.
func (e *Engine) Get(ctx context.Context, id string) (_ document.Document, err error) {
	defer e.observe("get", time.Now(), &err)

	if id == "" {
		return document.Document{}, fmt.Errorf("document id is required: %w", domain.ErrValidation)
	}
	doc, err := e.backend.Get(ctx, id)
	if err != nil {
		return document.Document{}, fmt.Errorf("get %s: %w", id, err)
	}
	return doc, nil
}

// Delete removes a document. Deleting a missing id succeeds.
func (e *Engine) Delete(ctx context.Context, id string) (err error) {
	defer e.observe("delete", time.Now(), &err)

	if id == "" {
		return fmt.Errorf("document id is required: %w", domain.ErrValidation)
	}
	if err := e.backend.Delete(ctx, []string{id}); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// DeleteBatch removes documents in one backend call, itemizing failures.
func (e *Engine) DeleteBatch(ctx context.Context, ids []string) batch.Summary {
	start := time.Now()

	results := make([]batch.Result, len(ids))
	valid := make([]string, 0, len(ids))
	validPos := make([]int, 0, len(ids))
	for i, id := range ids {
		if id == "" {
			results[i] = batch.NewError(id, fmt.Errorf("document id is required: %w", domain.ErrValidation))
			continue
		}
		valid = append(valid, id)
		validPos = append(validPos, i)
	}

	var err error
	if len(valid) > 0 {
		err = e.backend.Delete(ctx, valid)
	}
	if err != nil {
		for j, r := range batch.FailAll(valid, err) {
			results[validPos[j]] = r
		}
	} else {
		for _, pos := range validPos {
			results[pos] = batch.NewOK(ids[pos])
		}
	}

	summary := batch.Summarize(results)
	e.observeBatch("delete_batch", start, &summary, err)
	return summary
}

// Count returns the number of documents matching f. Backends that cannot count
// return domain.ErrCountUnsupported, which callers must not read as zero.
func (e *Engine) Count(ctx context.Context, f filter.Filter) (_ int, err error) {
	defer e.observe("count", time.Now(), &err)

	n, err := e.backend.Count(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Clear removes every document, or returns domain.ErrNotSupported.
func (e *Engine) Clear(ctx context.Context) (err error) {
	defer e.observe("clear", time.Now(), &err)

	if err := e.backend.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	e.logger.Info("Vector store cleared", zap.String("backend", e.backend.Name()))
	return nil
}

// Ping checks backend reachability.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.backend.Ping(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", e.backend.Name(), err)
	}
	return nil
}

func (e *Engine) validateDocument(doc *document.Document) error {
	if doc.ID() == "" {
		return fmt.Errorf("document id is required: %w", domain.ErrValidation)
	}
	if n := doc.Dimensions(); n != e.dims {
		return fmt.Errorf("document %s has %d dimensions, want %d: %w", doc.ID(), n, e.dims, domain.ErrVectorDimMismatch)
	}
	if v, ok := e.backend.(DocumentValidator); ok {
		if err := v.Validate(doc); err != nil {
			return fmt.Errorf("document %s: %w", doc.ID(), err)
		}
	}
	return nil
}

func (e *Engine) observe(op string, start time.Time, errp *error) {
	err := *errp
	name := e.backend.Name()
	metrics.VectorOperationsTotal.WithLabelValues(name, op, metrics.Status(err)).Inc()
	metrics.VectorOperationDuration.WithLabelValues(name, op).Observe(time.Since(start).Seconds())
	if err != nil {
		e.logger.Warn("Vector operation failed",
			zap.String("backend", name),
			zap.String("op", op),
			zap.String("kind", domain.Kind(err)),
			zap.Error(err),
		)
	}
}

func (e *Engine) observeBatch(op string, start time.Time, s *batch.Summary, backendErr error) {
	var err error
	if !s.Success {
		err = backendErr
		if err == nil {
			err = s.Errors[0].Err
		}
	}
	e.observe(op, start, &err)
	e.logger.Debug("Batch processed",
		zap.String("op", op),
		zap.Int("processed", s.ProcessedCount),
		zap.Int("failed", s.FailedCount),
	)
}
