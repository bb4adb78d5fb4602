// Package genai is an embedding provider backed by the Gemini API or Vertex AI
// through the Google Gen AI SDK.
package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/metrics"
)

const (
	// DefaultModel is the Gemini embedding model.
	DefaultModel = "gemini-embedding-001"

	// DefaultDimensions matches the knowledge index.
	DefaultDimensions = 768

	// Task types understood by the embedding endpoint.
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"

	providerName = "genai"
)

// Config holds the embedding provider settings. With Project set the client
// uses Vertex AI and application default credentials, otherwise the Gemini API
// with APIKey.
type Config struct {
	APIKey     string
	Project    string
	Location   string
	Model      string
	Dimensions int
	TaskType   string
	// BaseURL overrides the API host (tests, proxies).
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Embedder implements domain.Embedder and domain.BatchEmbedder.
type Embedder struct {
	models     *genai.Models
	model      string
	dimensions int
	taskType   string
	logger     *zap.Logger
}

// NewEmbedder creates a Gen AI embedding provider.
func NewEmbedder(ctx context.Context, cfg *Config) (*Embedder, error) {
	cc := &genai.ClientConfig{
		HTTPClient: cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	}
	if cfg.Project != "" {
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	} else {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("genai: api key or project is required: %w", domain.ErrValidation)
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("init genai client: %w: %w", domain.ErrValidation, err)
	}

	e := &Embedder{
		models:     client.Models,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		taskType:   cfg.TaskType,
		logger:     cfg.Logger,
	}
	if e.model == "" {
		e.model = DefaultModel
	}
	if e.dimensions <= 0 {
		e.dimensions = DefaultDimensions
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e, nil
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: vecs[0]}, nil
}

// BatchEmbed implements domain.BatchEmbedder.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	vecs, err := e.embed(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	return domain.BatchEmbeddingResult{Embeddings: vecs}, nil
}

// HealthCheck embeds a short test string.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.embed(ctx, []string{"ping"}); err != nil {
		return fmt.Errorf("embedding health check: %w", err)
	}
	return nil
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	dim := int32(e.dimensions) //nolint:gosec // bounded by config validation
	cfg := &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
		TaskType:             e.taskType,
	}

	start := time.Now()
	resp, err := e.models.EmbedContent(ctx, e.model, contents, cfg)
	duration := time.Since(start)
	if err != nil {
		e.recordError("api_error")
		e.logger.Warn("Embedding request failed",
			zap.String("model", e.model),
			zap.Int("inputs", len(texts)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, classify(err)
	}

	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		e.recordError("count_mismatch")
		return nil, fmt.Errorf("expected %d embeddings, got %d: %w", len(texts), got, domain.ErrEmbeddingProviderError)
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			e.recordError("empty_response")
			return nil, fmt.Errorf("empty embedding at %d: %w", i, domain.ErrEmbeddingProviderError)
		}
		out[i] = emb.Values
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, e.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(providerName, e.model).Observe(duration.Seconds())
	return out, nil
}

func (e *Embedder) recordError(kind string) {
	metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, e.model, "error").Inc()
	metrics.EmbeddingErrorsTotal.WithLabelValues(providerName, e.model, kind).Inc()
}

// classify maps SDK errors onto the domain taxonomy.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("embedding request: %w: %w", domain.ErrTimeout, err)
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		return fmt.Errorf("embedding request failed: %w: %w", domain.ErrEmbeddingProviderError, err)
	}

	switch {
	case code == http.StatusTooManyRequests:
		return domain.NewRateLimited(0, err)
	case code >= 400 && code < 500 && code != http.StatusRequestTimeout:
		return fmt.Errorf("embedding API error %d: %w: %w", code, domain.ErrValidation, err)
	default:
		return fmt.Errorf("embedding API error %d: %w: %w", code, domain.ErrEmbeddingProviderError, err)
	}
}
