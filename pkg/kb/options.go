package kb

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

const (
	backendMemory = "memory"
	backendValkey = "valkey"
	backendVertex = "vertex"
)

type clientConfig struct {
	backend string

	// valkey
	addrs           []string
	password        string
	keyPrefix       string
	indexName       string
	hnswM           int
	hnswEFConstruct int

	vertex VertexConfig

	maxDocuments int

	dimensions int
	metric     Metric
	retry      RetryPolicy

	embedder Embedder

	topK      int
	minScore  float64
	cacheSize int
	cacheTTL  time.Duration

	logger     *zap.Logger
	metricsReg prometheus.Registerer
}

func defaultConfig() *clientConfig {
	return &clientConfig{
		backend:         backendMemory,
		keyPrefix:       "kbengine:dp:",
		indexName:       "kbengine:idx",
		hnswM:           16,
		hnswEFConstruct: 200,
		dimensions:      768,
		metric:          Cosine,
		retry: RetryPolicy{
			MaxRetries:     3,
			BaseDelay:      time.Second,
			MaxDelay:       30 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		topK:      5,
		cacheSize: 256,
		cacheTTL:  5 * time.Minute,
	}
}

// VertexConfig locates a deployed Vertex AI Vector Search index.
// Credentials come from application default credentials.
type VertexConfig struct {
	ProjectID            string
	Location             string
	IndexID              string
	IndexEndpointID      string
	DeployedIndexID      string
	PublicEndpointDomain string
	// RequestsPerSecond throttles calls; 0 disables throttling.
	RequestsPerSecond int
}

// RetryPolicy bounds retries of remote backend calls.
type RetryPolicy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RequestTimeout time.Duration
}

// WithInMemory keeps documents in process memory (the default).
// maxDocuments > 0 evicts the least recently written documents beyond it.
func WithInMemory(maxDocuments int) Option {
	return optionFunc(func(c *clientConfig) {
		c.backend = backendMemory
		c.maxDocuments = maxDocuments
	})
}

// WithValkey stores documents in a Valkey search index.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.backend = backendValkey
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithValkeyIndex overrides the Valkey index name and key prefix.
func WithValkeyIndex(indexName, keyPrefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.indexName = indexName
		c.keyPrefix = keyPrefix
	})
}

// WithHNSW configures HNSW index parameters (M and EF construction) for Valkey.
// Defaults: M=16, EFConstruct=200.
func WithHNSW(m, efConstruct int) Option {
	return optionFunc(func(c *clientConfig) {
		c.hnswM = m
		c.hnswEFConstruct = efConstruct
	})
}

// WithVertex targets a Vertex AI Vector Search deployment.
func WithVertex(cfg VertexConfig) Option {
	return optionFunc(func(c *clientConfig) {
		c.backend = backendVertex
		c.vertex = cfg
	})
}

// WithDimensions sets the embedding length. Defaults to 768.
func WithDimensions(dim int) Option {
	return optionFunc(func(c *clientConfig) {
		c.dimensions = dim
	})
}

// WithMetric sets the distance metric. Defaults to Cosine.
func WithMetric(m Metric) Option {
	return optionFunc(func(c *clientConfig) {
		c.metric = m
	})
}

// WithRetry overrides the remote retry policy.
func WithRetry(p RetryPolicy) Option {
	return optionFunc(func(c *clientConfig) {
		c.retry = p
	})
}

// WithEmbedder sets the text embedding provider.
// Required for Ingest and Retrieve; vector-level calls work without it.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithRetrievalDefaults sets the default topK and minimum score for Retrieve.
func WithRetrievalDefaults(topK int, minScore float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.topK = topK
		c.minScore = minScore
	})
}

// WithRetrievalCache sizes the Retrieve result cache. size 0 disables it.
func WithRetrievalCache(size int, ttl time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheSize = size
		c.cacheTTL = ttl
	})
}

// WithLogger enables structured logging for client operations.
// Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers client metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
