package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pawrescue/kbengine/internal/backend/remote"
	"github.com/pawrescue/kbengine/internal/config"
	dbValkey "github.com/pawrescue/kbengine/internal/db/valkey"
	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/domain/metric"
	"github.com/pawrescue/kbengine/internal/metrics"
	dprepo "github.com/pawrescue/kbengine/internal/repository/datapoint"
	"github.com/pawrescue/kbengine/internal/repository/embcache"
	"github.com/pawrescue/kbengine/internal/retry"
	genaiEmb "github.com/pawrescue/kbengine/internal/transport/genai"
	openaiEmb "github.com/pawrescue/kbengine/internal/transport/openai"
	"github.com/pawrescue/kbengine/internal/transport/vertex"
	embeddinguc "github.com/pawrescue/kbengine/internal/usecase/embedding"
	"github.com/pawrescue/kbengine/internal/usecase/engine"
	healthuc "github.com/pawrescue/kbengine/internal/usecase/health"
	"github.com/pawrescue/kbengine/internal/usecase/ingest"
	"github.com/pawrescue/kbengine/internal/usecase/retrieval"
)

// app is the composition root shared by every subcommand.
type app struct {
	engine    *engine.Engine
	ingest    *ingest.Service
	retrieval *retrieval.Service
	health    *healthuc.Service

	store *dbValkey.Store
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterVectorMetrics()

	m, err := metric.Parse(cfg.Vector.DistanceMetric)
	if err != nil {
		return nil, err
	}

	a := &app{}

	needValkey := cfg.Embedding.CacheTTLSec > 0 ||
		(cfg.Vector.Backend == config.BackendRemote && cfg.Vector.RemoteProvider == config.ProviderValkey)
	if needValkey {
		a.store, err = dbValkey.NewStore(dbValkey.Config{
			Addrs:    cfg.Valkey.Addrs,
			Password: cfg.Valkey.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("create valkey store: %w", err)
		}
		if err := a.store.WaitForReady(ctx, time.Duration(cfg.Valkey.ReadinessTimeout)*time.Second); err != nil {
			a.Close()
			return nil, fmt.Errorf("valkey not ready: %w", err)
		}
		logger.Info("Connected to valkey", zap.Strings("addrs", cfg.Valkey.Addrs))
	}

	docEmbedder, err := buildEmbedder(ctx, cfg, genaiEmb.TaskRetrievalDocument, a.store, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	queryEmbedder, err := buildEmbedder(ctx, cfg, genaiEmb.TaskRetrievalQuery, a.store, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Vector.Dimensions),
	)

	bcfg := engine.BackendConfig{
		Kind:         cfg.Vector.Backend,
		Metric:       m,
		MaxDocuments: cfg.Vector.MaxDocuments,
		RemoteName:   cfg.Vector.RemoteProvider,
		Retry: retry.Config{
			MaxRetries:     *cfg.Vector.MaxRetries,
			BaseDelay:      cfg.Vector.RetryDelay,
			MaxDelay:       cfg.Vector.RetryCap,
			RequestTimeout: cfg.Vector.RequestTimeout,
		},
		Logger: logger,
	}
	if cfg.Vector.Backend == config.BackendRemote {
		bcfg.Index, err = buildIndex(ctx, cfg, m, a.store, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	backend, err := engine.NewBackend(bcfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create vector backend: %w", err)
	}
	a.engine, err = engine.New(backend, cfg.Vector.Dimensions, m, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("Vector engine ready",
		zap.String("backend", a.engine.Backend()),
		zap.String("metric", string(m)),
	)

	a.ingest = ingest.New(docEmbedder, a.engine,
		ingest.WithConcurrency(cfg.Embedding.Concurrency),
		ingest.WithLogger(logger),
	)
	a.retrieval = retrieval.New(queryEmbedder, a.engine,
		retrieval.NewCache(cfg.Retrieval.CacheSize, time.Duration(cfg.Retrieval.CacheTTLSec)*time.Second),
		retrieval.Config{TopK: cfg.Retrieval.TopK, MinScore: cfg.Retrieval.MinScore},
		logger,
	)
	a.health = healthuc.New(a.engine, queryEmbedder, logger)
	return a, nil
}

// Close releases the Valkey connection, if any.
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// buildEmbedder assembles the decorator chain: provider -> cache -> instrumented.
// taskType only affects genai, whose vectors differ for documents and queries.
func buildEmbedder(
	ctx context.Context,
	cfg *config.Config,
	taskType string,
	store *dbValkey.Store,
	logger *zap.Logger,
) (*embeddinguc.InstrumentedEmbedder, error) {
	ec := cfg.Embedding
	cacheModel := ec.Model

	var base domain.Embedder
	switch ec.Provider {
	case config.EmbeddingGenAI:
		if ec.TaskType != "" {
			taskType = ec.TaskType
		}
		e, err := genaiEmb.NewEmbedder(ctx, &genaiEmb.Config{
			APIKey:     ec.APIKey,
			Project:    ec.Project,
			Location:   ec.Location,
			Model:      ec.Model,
			Dimensions: cfg.Vector.Dimensions,
			TaskType:   taskType,
			BaseURL:    ec.BaseURL,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create genai embedder: %w", err)
		}
		base = e
		cacheModel = ec.Model + ":" + taskType
	default:
		base = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			Dimensions: cfg.Vector.Dimensions,
			Provider:   ec.Provider,
			Logger:     logger,
		})
	}

	embedder := base
	if store != nil && ec.CacheTTLSec > 0 {
		embedder = embcache.New(base, store, cacheModel,
			time.Duration(ec.CacheTTLSec)*time.Second, metrics.EmbeddingCacheTotal, logger)
	}

	return embeddinguc.NewInstrumentedEmbedder(
		embedder, ec.Provider, ec.Model, cfg.Vector.Dimensions, logger,
	), nil
}

// buildIndex creates the remote ANN client for the configured provider.
func buildIndex(
	ctx context.Context,
	cfg *config.Config,
	m metric.Metric,
	store *dbValkey.Store,
	logger *zap.Logger,
) (remote.Index, error) {
	switch cfg.Vector.RemoteProvider {
	case config.ProviderValkey:
		repo, err := dprepo.New(store, dprepo.Config{
			IndexName:  cfg.Valkey.IndexName,
			KeyPrefix:  cfg.Valkey.KeyPrefix,
			Dimensions: cfg.Vector.Dimensions,
			Metric:     m,
			HNSW: dprepo.HNSWConfig{
				M:           cfg.Valkey.HNSWM,
				EFConstruct: cfg.Valkey.HNSWEFConstruct,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("create valkey index: %w", err)
		}
		if err := repo.EnsureIndex(ctx); err != nil {
			return nil, fmt.Errorf("ensure valkey index: %w", err)
		}
		return repo, nil

	case config.ProviderVertex:
		v := cfg.Vertex
		client, err := vertex.NewClient(ctx, vertex.Config{
			ProjectID:            v.ProjectID,
			Location:             v.Location,
			IndexID:              v.IndexID,
			IndexEndpointID:      v.IndexEndpointID,
			DeployedIndexID:      v.DeployedIndexID,
			PublicEndpointDomain: v.PublicEndpointDomain,
			Metric:               m,
		},
			vertex.WithRateLimit(v.RateLimit),
			vertex.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("create vertex client: %w", err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unknown remote provider %q: %w", cfg.Vector.RemoteProvider, domain.ErrValidation)
	}
}
