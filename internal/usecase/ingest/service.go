// Package ingest turns knowledge items into embedded documents and writes
// them to the engine.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/domain/batch"
	"github.com/pawrescue/kbengine/internal/domain/document"
	"github.com/pawrescue/kbengine/internal/domain/knowledge"
	"github.com/pawrescue/kbengine/internal/logger"
)

// Defaults for Service.
const (
	DefaultConcurrency = 4
	DefaultChunkSize   = 32
)

// Service ingests knowledge items.
type Service struct {
	embedder    domain.Embedder
	index       Indexer
	validate    *validator.Validate
	concurrency int
	chunkSize   int
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithConcurrency bounds in-flight embedding requests.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithChunkSize sets how many texts go into one batch embedding call.
func WithChunkSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithClock overrides the timestamp source for items without updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logger.Or(l) }
}

// New creates an ingestion service.
func New(embedder domain.Embedder, index Indexer, opts ...Option) *Service {
	s := &Service{
		embedder:    embedder,
		index:       index,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		concurrency: DefaultConcurrency,
		chunkSize:   DefaultChunkSize,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest loads every item from src and ingests it. Only a source failure is
// returned as an error; per-item failures are itemized in the summary.
func (s *Service) Ingest(ctx context.Context, src Source) (batch.Summary, error) {
	items, err := src.Items(ctx)
	if err != nil {
		return batch.Summary{}, fmt.Errorf("load knowledge items: %w", err)
	}
	return s.IngestItems(ctx, items), nil
}

// IngestItems validates, embeds and upserts items.
func (s *Service) IngestItems(ctx context.Context, items []knowledge.Item) batch.Summary {
	start := time.Now()

	var failed []batch.Result
	valid := make([]knowledge.Item, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i := range items {
		if err := s.validateItem(&items[i]); err != nil {
			failed = append(failed, batch.NewError(items[i].ID, err))
			continue
		}
		if _, dup := seen[items[i].ID]; dup {
			failed = append(failed, batch.NewError(items[i].ID,
				fmt.Errorf("duplicate item id %q: %w", items[i].ID, domain.ErrValidation)))
			continue
		}
		seen[items[i].ID] = struct{}{}
		valid = append(valid, items[i])
	}

	vectors, embedded, embedFailed := s.embedAll(ctx, valid)
	failed = append(failed, embedFailed...)

	docs := make([]document.Document, 0, len(valid))
	for i := range valid {
		if !embedded[i] {
			continue
		}
		doc, err := s.toDocument(&valid[i], vectors[i])
		if err != nil {
			failed = append(failed, batch.NewError(valid[i].ID, err))
			continue
		}
		docs = append(docs, doc)
	}

	summary := batch.Summary{Success: true}
	if len(docs) > 0 {
		summary = s.index.UpsertBatch(ctx, docs)
	}
	summary = merge(summary, batch.Summarize(failed))

	s.logger.Info("Knowledge ingested",
		zap.Int("items", len(items)),
		zap.Int("processed", summary.ProcessedCount),
		zap.Int("failed", summary.FailedCount),
		zap.Duration("duration", time.Since(start)),
	)
	for _, ie := range summary.Errors {
		s.logger.Warn("Knowledge item failed", zap.String("id", ie.ID), zap.Error(ie.Err))
	}
	return summary
}

// embedAll returns one vector per item, whether the embed call for that item
// succeeded, and the itemized call failures. A successful call may still
// yield an empty vector; toDocument rejects it.
func (s *Service) embedAll(ctx context.Context, items []knowledge.Item) ([][]float32, []bool, []batch.Result) {
	vectors := make([][]float32, len(items))
	embedded := make([]bool, len(items))
	var (
		mu     sync.Mutex
		failed []batch.Result
	)
	fail := func(id string, err error) {
		mu.Lock()
		failed = append(failed, batch.NewError(id, err))
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	if be, ok := s.embedder.(domain.BatchEmbedder); ok {
		for off := 0; off < len(items); off += s.chunkSize {
			chunk := items[off:min(off+s.chunkSize, len(items))]
			base := off
			g.Go(func() error {
				texts := make([]string, len(chunk))
				for i := range chunk {
					texts[i] = chunk[i].EmbeddingText()
				}
				res, err := be.BatchEmbed(ctx, texts)
				if err == nil && len(res.Embeddings) != len(chunk) {
					err = fmt.Errorf("expected %d embeddings, got %d: %w",
						len(chunk), len(res.Embeddings), domain.ErrEmbeddingProviderError)
				}
				if err != nil {
					for i := range chunk {
						fail(chunk[i].ID, fmt.Errorf("embed: %w", err))
					}
					return nil
				}
				for i, v := range res.Embeddings {
					vectors[base+i] = v
					embedded[base+i] = true
				}
				return nil
			})
		}
	} else {
		for i := range items {
			g.Go(func() error {
				res, err := s.embedder.Embed(ctx, items[i].EmbeddingText())
				if err != nil {
					fail(items[i].ID, fmt.Errorf("embed: %w", err))
					return nil
				}
				vectors[i] = res.Embedding
				embedded[i] = true
				return nil
			})
		}
	}
	_ = g.Wait()

	return vectors, embedded, failed
}

func (s *Service) toDocument(item *knowledge.Item, vec []float32) (document.Document, error) {
	ts, ok := item.UpdatedAt()
	if !ok {
		ts = s.now()
	}
	doc, err := document.New(item.ID, vec, item.EmbeddingText(), document.Metadata{
		Category:  item.Category,
		Audience:  item.Audience,
		Source:    item.Source(),
		Timestamp: ts,
		Version:   item.Version(),
		Tags:      item.Tags(),
	})
	if err != nil {
		return document.Document{}, fmt.Errorf("build document %s: %w: %w", item.ID, err, domain.ErrValidation)
	}
	return doc, nil
}

func (s *Service) validateItem(item *knowledge.Item) error {
	err := s.validate.Struct(item)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("item %q: field %s failed %q: %w", item.ID, fe.Field(), fe.Tag(), domain.ErrValidation)
	}
	return fmt.Errorf("item %q: %w: %w", item.ID, err, domain.ErrValidation)
}

func merge(a, b batch.Summary) batch.Summary {
	out := batch.Summary{
		ProcessedCount: a.ProcessedCount + b.ProcessedCount,
		FailedCount:    a.FailedCount + b.FailedCount,
		Errors:         append(append([]batch.ItemError(nil), a.Errors...), b.Errors...),
	}
	out.Success = out.FailedCount == 0
	return out
}
