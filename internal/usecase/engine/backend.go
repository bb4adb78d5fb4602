package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pawrescue/kbengine/internal/backend/memory"
	"github.com/pawrescue/kbengine/internal/backend/remote"
	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/domain/document"
	"github.com/pawrescue/kbengine/internal/domain/metric"
	"github.com/pawrescue/kbengine/internal/domain/search/filter"
	"github.com/pawrescue/kbengine/internal/domain/search/request"
	"github.com/pawrescue/kbengine/internal/domain/search/result"
	"github.com/pawrescue/kbengine/internal/retry"
)

// Backend kinds accepted by NewBackend.
const (
	KindInMemory = "in-memory"
	KindRemote   = "remote"
)

// Backend is the storage contract shared by the in-memory and remote stores.
type Backend interface {
	Name() string
	Upsert(ctx context.Context, docs []document.Document) error
	Search(ctx context.Context, q request.Query) ([]result.Result, error)
	Get(ctx context.Context, id string) (document.Document, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context, f filter.Filter) (int, error)
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
}

// DocumentValidator is implemented by backends with storage-specific limits
// on document content. The engine checks each document before a write.
type DocumentValidator interface {
	Validate(doc *document.Document) error
}

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	Kind   string
	Metric metric.Metric

	// In-memory.
	MaxDocuments int

	// Remote. Index is the ANN client (Vertex, Valkey); RemoteName labels it.
	Index      remote.Index
	RemoteName string
	Retry      retry.Config

	Logger *zap.Logger
}

// NewBackend builds the configured backend. The choice is made once here.
func NewBackend(cfg BackendConfig) (Backend, error) {
	if !cfg.Metric.IsValid() {
		return nil, fmt.Errorf("distance metric %q: %w", cfg.Metric, domain.ErrValidation)
	}

	switch cfg.Kind {
	case KindInMemory, "":
		return memory.New(cfg.Metric,
			memory.WithMaxDocuments(cfg.MaxDocuments),
			memory.WithLogger(cfg.Logger),
		), nil

	case KindRemote:
		if cfg.Index == nil {
			return nil, fmt.Errorf("remote backend requires an index client: %w", domain.ErrValidation)
		}
		exec := retry.New(cfg.Retry, retry.WithLogger(cfg.Logger))
		return remote.New(cfg.Index, cfg.Metric, exec,
			remote.WithName(cfg.RemoteName),
			remote.WithLogger(cfg.Logger),
		), nil

	default:
		return nil, fmt.Errorf("unknown backend %q: %w", cfg.Kind, domain.ErrValidation)
	}
}
