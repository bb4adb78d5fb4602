// Package memory is the in-process vector backend: a mutex-guarded map
// searched by brute force. Nothing survives a restart.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/domain/document"
	"github.com/pawrescue/kbengine/internal/domain/metric"
	"github.com/pawrescue/kbengine/internal/domain/search/filter"
	"github.com/pawrescue/kbengine/internal/domain/search/request"
	"github.com/pawrescue/kbengine/internal/domain/search/result"
	"github.com/pawrescue/kbengine/internal/metrics"
)

// BackendName labels the in-memory backend in logs and metrics.
const BackendName = "memory"

type entry struct {
	doc     document.Document
	seq     uint64 // first insertion, tie-break for equal scores
	written uint64 // last write, eviction order
}

// Store is an in-memory vector store. Scans run under a read lock, so every
// search sees a consistent snapshot.
type Store struct {
	mu      sync.RWMutex
	docs    map[string]*entry
	clock   uint64
	metric  metric.Metric
	maxDocs int
	logger  *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxDocuments bounds the store; the least recently written document is
// evicted to make room. 0 means unbounded.
func WithMaxDocuments(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxDocs = n
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

// New creates an empty store scoring with m.
func New(m metric.Metric, opts ...Option) *Store {
	s := &Store{
		docs:   make(map[string]*entry),
		metric: m,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns BackendName.
func (s *Store) Name() string { return BackendName }

// Upsert stores docs, fully replacing existing ones by ID. Replaced documents
// keep their original insertion position.
func (s *Store) Upsert(ctx context.Context, docs []document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		s.clock++
		if e, ok := s.docs[doc.ID()]; ok {
			e.doc = doc
			e.written = s.clock
			continue
		}
		if s.maxDocs > 0 && len(s.docs) >= s.maxDocs {
			s.evictOldestLocked()
		}
		s.docs[doc.ID()] = &entry{doc: doc, seq: s.clock, written: s.clock}
	}
	metrics.VectorDocumentsIndexed.WithLabelValues(BackendName).Set(float64(len(s.docs)))
	return nil
}

func (s *Store) evictOldestLocked() {
	var victim *entry
	for _, e := range s.docs {
		if victim == nil || e.written < victim.written {
			victim = e
		}
	}
	if victim == nil {
		return
	}
	delete(s.docs, victim.doc.ID())
	s.logger.Debug("Evicted document", zap.String("id", victim.doc.ID()), zap.Int("max_documents", s.maxDocs))
}

// Search scores every document passing the query filter and returns the best
// TopK by descending score. Equal scores keep insertion order.
func (s *Store) Search(ctx context.Context, q request.Query) ([]result.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type candidate struct {
		res result.Result
		seq uint64
	}

	f := q.Filter()
	emb := q.Embedding()

	s.mu.RLock()
	candidates := make([]candidate, 0, len(s.docs))
	for _, e := range s.docs {
		if !f.Matches(e.doc.Metadata()) {
			continue
		}
		embedding := e.doc.Embedding()
		if len(embedding) != len(emb) {
			continue
		}
		score, distance := s.metric.Compare(emb, embedding)
		if !q.Accepts(score) {
			continue
		}
		candidates = append(candidates, candidate{res: result.New(e.doc, score, distance), seq: e.seq})
	}
	s.mu.RUnlock()

	slices.SortFunc(candidates, func(a, b candidate) int { return cmp.Compare(a.seq, b.seq) })

	results := make([]result.Result, len(candidates))
	for i := range candidates {
		results[i] = candidates[i].res
	}
	result.SortByScore(results)
	return result.Truncate(results, q.TopK()), nil
}

// Get returns the document stored under id.
func (s *Store) Get(ctx context.Context, id string) (document.Document, error) {
	if err := ctx.Err(); err != nil {
		return document.Document{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.docs[id]
	if !ok {
		return document.Document{}, fmt.Errorf("document %q: %w", id, domain.ErrNotFound)
	}
	return e.doc, nil
}

// Delete removes documents by ID. Missing ids are ignored.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.docs, id)
	}
	metrics.VectorDocumentsIndexed.WithLabelValues(BackendName).Set(float64(len(s.docs)))
	return nil
}

// Count returns the number of documents matching f, without scoring.
func (s *Store) Count(ctx context.Context, f filter.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if f.IsEmpty() {
		return len(s.docs), nil
	}
	n := 0
	for _, e := range s.docs {
		if f.Matches(e.doc.Metadata()) {
			n++
		}
	}
	return n, nil
}

// Clear removes every document.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = make(map[string]*entry)
	metrics.VectorDocumentsIndexed.WithLabelValues(BackendName).Set(0)
	return nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
