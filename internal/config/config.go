package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendInMemory = "in-memory"
	BackendRemote   = "remote"
)

// Remote provider names.
const (
	ProviderVertex = "vertex"
	ProviderValkey = "valkey"
)

// Embedding provider names.
const (
	EmbeddingOpenAI = "openai"
	EmbeddingGenAI  = "genai"
)

// Default embedding models per provider.
const (
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultGenAIModel  = "gemini-embedding-001"
)

// Config holds the kbengine configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Vector    VectorConfig    `yaml:"vector"`
	Valkey    ValkeyConfig    `yaml:"valkey"`
	Vertex    VertexConfig    `yaml:"vertex"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings. No keys disables auth.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds ops server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// VectorConfig selects and tunes the vector store.
type VectorConfig struct {
	Backend        string        `yaml:"backend"`         // in-memory | remote
	RemoteProvider string        `yaml:"remote_provider"` // vertex | valkey
	Dimensions     int           `yaml:"dimensions"`
	DistanceMetric string        `yaml:"distance_metric"` // cosine | dot-product | euclidean
	MaxRetries     *int          `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RetryCap       time.Duration `yaml:"retry_cap"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxDocuments   int           `yaml:"max_documents"` // in-memory only, 0 = unbounded
}

// ValkeyConfig holds the Valkey connection and index layout.
type ValkeyConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	KeyPrefix        string   `yaml:"key_prefix"`
	IndexName        string   `yaml:"index_name"`
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
}

// VertexConfig locates the Vertex AI Vector Search deployment.
type VertexConfig struct {
	ProjectID            string `yaml:"project_id"`
	Location             string `yaml:"location"`
	IndexID              string `yaml:"index_id"`
	IndexEndpointID      string `yaml:"index_endpoint_id"`
	DeployedIndexID      string `yaml:"deployed_index_id"`
	PublicEndpointDomain string `yaml:"public_endpoint_domain"`
	RateLimit            int    `yaml:"rate_limit"` // requests per second
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"` // openai | genai
	Model       string `yaml:"model"`
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	Project     string `yaml:"project"`  // genai on Vertex AI
	Location    string `yaml:"location"` // genai on Vertex AI
	TaskType    string `yaml:"task_type"`
	Concurrency int    `yaml:"concurrency"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"` // Valkey embedding cache, 0 = disabled
}

// RetrievalConfig tunes the knowledge retrieval orchestrator.
type RetrievalConfig struct {
	TopK        int     `yaml:"top_k"`
	MinScore    float64 `yaml:"min_score"`
	CacheSize   int     `yaml:"cache_size"`
	CacheTTLSec int     `yaml:"cache_ttl_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references, decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Vector.Backend == "" {
		c.Vector.Backend = BackendInMemory
	}
	if c.Vector.RemoteProvider == "" {
		c.Vector.RemoteProvider = ProviderVertex
	}
	if c.Vector.Dimensions <= 0 {
		c.Vector.Dimensions = 768
	}
	if c.Vector.DistanceMetric == "" {
		c.Vector.DistanceMetric = "cosine"
	}
	if c.Vector.MaxRetries == nil {
		n := 3
		c.Vector.MaxRetries = &n
	}
	if c.Vector.RetryDelay <= 0 {
		c.Vector.RetryDelay = time.Second
	}
	if c.Vector.RetryCap <= 0 {
		c.Vector.RetryCap = 30 * time.Second
	}
	if c.Vector.RequestTimeout <= 0 {
		c.Vector.RequestTimeout = 10 * time.Second
	}

	if c.Valkey.ReadinessTimeout <= 0 {
		c.Valkey.ReadinessTimeout = 10
	}
	if c.Valkey.KeyPrefix == "" {
		c.Valkey.KeyPrefix = "kbengine:dp:"
	}
	if c.Valkey.IndexName == "" {
		c.Valkey.IndexName = "kbengine:idx"
	}
	if c.Valkey.HNSWM <= 0 {
		c.Valkey.HNSWM = 16
	}
	if c.Valkey.HNSWEFConstruct <= 0 {
		c.Valkey.HNSWEFConstruct = 200
	}

	if c.Vertex.RateLimit <= 0 {
		c.Vertex.RateLimit = 10
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = EmbeddingOpenAI
	}
	if c.Embedding.Model == "" {
		switch c.Embedding.Provider {
		case EmbeddingOpenAI:
			c.Embedding.Model = DefaultOpenAIModel
		case EmbeddingGenAI:
			c.Embedding.Model = DefaultGenAIModel
		}
	}
	if c.Embedding.Concurrency <= 0 {
		c.Embedding.Concurrency = 4
	}

	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.CacheSize <= 0 {
		c.Retrieval.CacheSize = 256
	}
	if c.Retrieval.CacheTTLSec <= 0 {
		c.Retrieval.CacheTTLSec = 300
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Vector.DistanceMetric {
	case "cosine", "dot-product", "euclidean":
	default:
		return fmt.Errorf("vector.distance_metric must be cosine, dot-product or euclidean, got %q", c.Vector.DistanceMetric)
	}
	if c.Vector.MaxRetries != nil && *c.Vector.MaxRetries < 0 {
		return fmt.Errorf("vector.max_retries must not be negative, got %d", *c.Vector.MaxRetries)
	}
	if c.Vector.MaxDocuments < 0 {
		return fmt.Errorf("vector.max_documents must not be negative, got %d", c.Vector.MaxDocuments)
	}

	switch c.Vector.Backend {
	case BackendInMemory:
	case BackendRemote:
		if err := c.validateRemote(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("vector.backend must be %q or %q, got %q", BackendInMemory, BackendRemote, c.Vector.Backend)
	}

	switch c.Embedding.Provider {
	case EmbeddingOpenAI, EmbeddingGenAI:
	default:
		return fmt.Errorf("embedding.provider must be %q or %q, got %q", EmbeddingOpenAI, EmbeddingGenAI, c.Embedding.Provider)
	}
	if c.Embedding.CacheTTLSec > 0 && len(c.Valkey.Addrs) == 0 {
		return fmt.Errorf("embedding.cache_ttl_sec requires valkey.addrs")
	}

	if c.Retrieval.MinScore < 0 {
		return fmt.Errorf("retrieval.min_score must not be negative, got %v", c.Retrieval.MinScore)
	}
	return nil
}

func (c *Config) validateRemote() error {
	switch c.Vector.RemoteProvider {
	case ProviderVertex:
		v := c.Vertex
		for _, f := range []struct{ name, val string }{
			{"project_id", v.ProjectID},
			{"location", v.Location},
			{"index_id", v.IndexID},
			{"index_endpoint_id", v.IndexEndpointID},
			{"deployed_index_id", v.DeployedIndexID},
		} {
			if f.val == "" {
				return fmt.Errorf("vertex.%s is required for the vertex provider", f.name)
			}
		}
	case ProviderValkey:
		if len(c.Valkey.Addrs) == 0 {
			return fmt.Errorf("valkey.addrs is required for the valkey provider")
		}
	default:
		return fmt.Errorf("vector.remote_provider must be %q or %q, got %q",
			ProviderVertex, ProviderValkey, c.Vector.RemoteProvider)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
