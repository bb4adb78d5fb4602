// Package health aggregates liveness of the vector store and the embedding
// provider for the ops endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pawrescue/kbengine/internal/logger"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded means retrieval works but a secondary component is failing.
	Degraded Status = "degraded"
	// Unhealthy means the vector store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names used as Report.Checks keys.
const (
	ComponentVectorStore = "vector_store"
	ComponentEmbedding   = "embedding"
)

// DefaultCheckTimeout bounds each component check.
const DefaultCheckTimeout = 3 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Service coordinates health checks.
type Service struct {
	store     StorePinger
	embedding EmbeddingChecker
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a Service. embedding can be nil.
func New(store StorePinger, embedding EmbeddingChecker, l *zap.Logger) *Service {
	return &Service{store: store, embedding: embedding, timeout: DefaultCheckTimeout, logger: logger.Or(l)}
}

// Check pings all components concurrently, each under its own timeout.
func (s *Service) Check(ctx context.Context) Report {
	var mu sync.Mutex
	checks := make(map[string]CheckResult, 2)
	record := func(name string, err error) {
		res := CheckOK
		if err != nil {
			res = CheckError
			s.logger.Warn("Health check failed", zap.String("component", name), zap.Error(err))
		}
		mu.Lock()
		checks[name] = res
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		record(ComponentVectorStore, s.checkOne(ctx, s.store.Ping))
		return nil
	})
	if s.embedding != nil {
		g.Go(func() error {
			record(ComponentEmbedding, s.checkOne(ctx, s.embedding.HealthCheck))
			return nil
		})
	}
	_ = g.Wait()

	status := Healthy
	switch {
	case checks[ComponentVectorStore] == CheckError:
		status = Unhealthy
	case checks[ComponentEmbedding] == CheckError:
		status = Degraded
	}

	return Report{Status: status, Checks: checks}
}

func (s *Service) checkOne(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx)
}
