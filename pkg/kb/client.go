package kb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pawrescue/kbengine/internal/backend/remote"
	dbValkey "github.com/pawrescue/kbengine/internal/db/valkey"
	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/domain/batch"
	domdoc "github.com/pawrescue/kbengine/internal/domain/document"
	"github.com/pawrescue/kbengine/internal/domain/metric"
	"github.com/pawrescue/kbengine/internal/domain/search/filter"
	"github.com/pawrescue/kbengine/internal/domain/search/request"
	"github.com/pawrescue/kbengine/internal/domain/search/result"
	"github.com/pawrescue/kbengine/internal/logger"
	dprepo "github.com/pawrescue/kbengine/internal/repository/datapoint"
	"github.com/pawrescue/kbengine/internal/retry"
	"github.com/pawrescue/kbengine/internal/transport/vertex"
	"github.com/pawrescue/kbengine/internal/usecase/engine"
	healthuc "github.com/pawrescue/kbengine/internal/usecase/health"
	"github.com/pawrescue/kbengine/internal/usecase/ingest"
	"github.com/pawrescue/kbengine/internal/usecase/retrieval"
)

const defaultReadinessTimeout = 10 * time.Second

// Internal interfaces, swapped for mocks in tests.
type engineUseCase interface {
	Upsert(ctx context.Context, doc domdoc.Document) error
	UpsertBatch(ctx context.Context, docs []domdoc.Document) batch.Summary
	Search(ctx context.Context, q request.Query) ([]result.Result, error)
	Get(ctx context.Context, id string) (domdoc.Document, error)
	Delete(ctx context.Context, id string) error
	DeleteBatch(ctx context.Context, ids []string) batch.Summary
	Count(ctx context.Context, f filter.Filter) (int, error)
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
}

type ingestUseCase interface {
	IngestItems(ctx context.Context, items []Item) batch.Summary
}

type retrievalUseCase interface {
	Retrieve(ctx context.Context, req RetrieveRequest) []Snippet
}

type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}

// Client is the kbengine entry point.
type Client struct {
	closeFn     func()
	engine      engineUseCase
	ingest      ingestUseCase
	retrieval   retrievalUseCase
	healthSvc   healthUseCase
	hasEmbedder bool
	obs         *observer
}

// New creates a Client. For the Valkey backend the provided context bounds
// the initial readiness check and index creation.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o.apply(cfg)
	}

	m, err := metric.Parse(string(cfg.metric))
	if err != nil {
		return nil, fmt.Errorf("kb: %w: %w", err, domain.ErrValidation)
	}
	if cfg.dimensions <= 0 {
		return nil, fmt.Errorf("kb: dimensions must be positive, got %d: %w", cfg.dimensions, domain.ErrValidation)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	l := logger.Or(cfg.logger)
	bcfg := engine.BackendConfig{
		Kind:         engine.KindInMemory,
		Metric:       m,
		MaxDocuments: cfg.maxDocuments,
		Logger:       l,
	}

	var closeFn func()
	switch cfg.backend {
	case backendMemory:
	case backendValkey, backendVertex:
		index, cl, err := createIndex(ctx, cfg, m, l)
		if err != nil {
			return nil, err
		}
		closeFn = cl
		bcfg.Kind = engine.KindRemote
		bcfg.Index = index
		bcfg.RemoteName = cfg.backend
		bcfg.Retry = retry.Config(cfg.retry)
	default:
		return nil, fmt.Errorf("kb: unknown backend %q", cfg.backend)
	}

	c, err := wireClient(bcfg, cfg, obs)
	if err != nil {
		if closeFn != nil {
			closeFn()
		}
		return nil, err
	}
	c.closeFn = closeFn
	return c, nil
}

func createIndex(
	ctx context.Context, cfg *clientConfig, m metric.Metric, l *zap.Logger,
) (remote.Index, func(), error) {
	switch cfg.backend {
	case backendValkey:
		if len(cfg.addrs) == 0 || cfg.addrs[0] == "" {
			return nil, nil, errors.New("kb: valkey address required")
		}
		store, err := dbValkey.NewStore(dbValkey.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("kb: create valkey store: %w", err)
		}
		if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("kb: database not ready: %w", err)
		}
		repo, err := dprepo.New(store, dprepo.Config{
			IndexName:  cfg.indexName,
			KeyPrefix:  cfg.keyPrefix,
			Dimensions: cfg.dimensions,
			Metric:     m,
			HNSW:       dprepo.HNSWConfig{M: cfg.hnswM, EFConstruct: cfg.hnswEFConstruct},
		})
		if err == nil {
			err = repo.EnsureIndex(ctx)
		}
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("kb: valkey index: %w", err)
		}
		return repo, store.Close, nil

	default:
		v := cfg.vertex
		vopts := []vertex.ClientOption{vertex.WithLogger(l)}
		if v.RequestsPerSecond > 0 {
			vopts = append(vopts, vertex.WithRateLimit(v.RequestsPerSecond))
		}
		client, err := vertex.NewClient(ctx, vertex.Config{
			ProjectID:            v.ProjectID,
			Location:             v.Location,
			IndexID:              v.IndexID,
			IndexEndpointID:      v.IndexEndpointID,
			DeployedIndexID:      v.DeployedIndexID,
			PublicEndpointDomain: v.PublicEndpointDomain,
			Metric:               m,
		}, vopts...)
		if err != nil {
			return nil, nil, fmt.Errorf("kb: create vertex client: %w", err)
		}
		return client, nil, nil
	}
}

func wireClient(bcfg engine.BackendConfig, cfg *clientConfig, obs *observer) (*Client, error) {
	backend, err := engine.NewBackend(bcfg)
	if err != nil {
		return nil, fmt.Errorf("kb: create backend: %w", err)
	}
	eng, err := engine.New(backend, cfg.dimensions, bcfg.Metric, bcfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("kb: create engine: %w", err)
	}

	emb := adaptEmbedder(cfg.embedder)
	var embHealth healthuc.EmbeddingChecker
	if cfg.embedder != nil {
		embHealth = embedderHealth{inner: cfg.embedder}
	}

	return &Client{
		engine: eng,
		ingest: ingest.New(emb, eng, ingest.WithLogger(bcfg.Logger)),
		retrieval: retrieval.New(emb, eng,
			retrieval.NewCache(cfg.cacheSize, cfg.cacheTTL),
			retrieval.Config{TopK: cfg.topK, MinScore: cfg.minScore},
			bcfg.Logger,
		),
		healthSvc:   healthuc.New(eng, embHealth, bcfg.Logger),
		hasEmbedder: cfg.embedder != nil,
		obs:         obs,
	}, nil
}

// Close releases all resources.
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// Ping checks backend connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ping", start, err) }()

	if err = c.engine.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Health checks the health of all components.
func (c *Client) Health(ctx context.Context) HealthStatus {
	report := c.healthSvc.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	return HealthStatus{
		Status: string(report.Status),
		Checks: checks,
	}
}
