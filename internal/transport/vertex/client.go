// Package vertex is a REST client for Vertex AI Vector Search. It implements
// the remote backend's Index and Reader contracts.
package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"

	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/domain/datapoint"
	"github.com/pawrescue/kbengine/internal/domain/metric"
)

const (
	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default request rate (requests per second).
	DefaultRateLimit = 10

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

// Config locates the index and its deployment.
type Config struct {
	ProjectID       string
	Location        string
	IndexID         string
	IndexEndpointID string
	DeployedIndexID string
	// PublicEndpointDomain serves findNeighbors for public endpoints; empty uses the regional API host.
	PublicEndpointDomain string
	Metric               metric.Metric
}

// Validate checks required fields.
func (c *Config) Validate() error {
	switch {
	case c.ProjectID == "":
		return fmt.Errorf("vertex: project_id is required: %w", domain.ErrValidation)
	case c.Location == "":
		return fmt.Errorf("vertex: location is required: %w", domain.ErrValidation)
	case c.IndexID == "":
		return fmt.Errorf("vertex: index_id is required: %w", domain.ErrValidation)
	case c.IndexEndpointID == "":
		return fmt.Errorf("vertex: index_endpoint_id is required: %w", domain.ErrValidation)
	case c.DeployedIndexID == "":
		return fmt.Errorf("vertex: deployed_index_id is required: %w", domain.ErrValidation)
	}
	return nil
}

// Client talks to the Vertex AI index and index endpoint APIs.
type Client struct {
	cfg        Config
	apiBase    string
	queryBase  string
	tokens     oauth2.TokenSource
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL overrides both the regional API host and the query host (tests).
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.apiBase = baseURL
		c.queryBase = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenSource sets OAuth2 credentials instead of application default credentials.
func WithTokenSource(ts oauth2.TokenSource) ClientOption {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithLogger sets a logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client. Without WithTokenSource it resolves application
// default credentials.
func NewClient(ctx context.Context, cfg Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	regional := fmt.Sprintf("https://%s-aiplatform.googleapis.com", cfg.Location)
	c := &Client{
		cfg:        cfg,
		apiBase:    regional,
		queryBase:  regional,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     zap.NewNop(),
	}
	if cfg.PublicEndpointDomain != "" {
		c.queryBase = "https://" + cfg.PublicEndpointDomain
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.tokens == nil {
		ts, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("vertex credentials: %w: %w", domain.ErrValidation, err)
		}
		c.tokens = ts
	}
	c.tokens = oauth2.ReuseTokenSource(nil, c.tokens)

	return c, nil
}

// APIError is a non-2xx response from Vertex AI.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vertex API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Unwrap classifies the status into the domain error taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case e.StatusCode == http.StatusRequestTimeout || e.StatusCode >= 500:
		return domain.ErrExternalAPI
	default:
		return domain.ErrValidation
	}
}

func (c *Client) indexPath(verb string) string {
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/indexes/%s:%s",
		c.apiBase, c.cfg.ProjectID, c.cfg.Location, c.cfg.IndexID, verb)
}

func (c *Client) endpointPath(verb string) string {
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/indexEndpoints/%s:%s",
		c.queryBase, c.cfg.ProjectID, c.cfg.Location, c.cfg.IndexEndpointID, verb)
}

// post sends a JSON request and decodes the JSON response into result (may be nil).
func (c *Client) post(ctx context.Context, endpoint string, body, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", classifyTransport(err))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w: %w", domain.ErrInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w: %w", domain.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("fetch access token: %w: %w", domain.ErrExternalAPI, err)
	}
	tok.SetAuthHeader(req)

	c.logger.Debug("Vertex API request", zap.String("url", endpoint))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", classifyTransport(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    decodeError(raw),
			Endpoint:   endpoint,
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			return domain.NewRateLimited(apiErr.RetryAfter, apiErr)
		}
		return apiErr
	}

	if result == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w: %w", domain.ErrExternalAPI, err)
	}
	return nil
}

// UpsertDatapoints writes datapoints to the index (stream update).
func (c *Client) UpsertDatapoints(ctx context.Context, dps []datapoint.Datapoint) error {
	req := upsertRequest{Datapoints: make([]indexDatapoint, len(dps))}
	for i := range dps {
		req.Datapoints[i] = toWire(&dps[i])
	}
	if err := c.post(ctx, c.indexPath("upsertDatapoints"), req, nil); err != nil {
		return fmt.Errorf("upsert %d datapoints: %w", len(dps), err)
	}
	return nil
}

// RemoveDatapoints deletes datapoints by id. Vertex ignores unknown ids.
func (c *Client) RemoveDatapoints(ctx context.Context, ids []string) error {
	if err := c.post(ctx, c.indexPath("removeDatapoints"), removeRequest{DatapointIDs: ids}, nil); err != nil {
		return fmt.Errorf("remove %d datapoints: %w", len(ids), err)
	}
	return nil
}

// FindNeighbors queries the deployed index. Returned distances are converted
// to the engine's native convention for the configured metric.
func (c *Client) FindNeighbors(ctx context.Context, q datapoint.Query) ([]datapoint.Neighbor, error) {
	query := datapoint.Datapoint{
		FeatureVector:    q.FeatureVector,
		Restricts:        q.Restricts,
		NumericRestricts: q.NumericRestricts,
	}
	req := findRequest{
		DeployedIndexID:     c.cfg.DeployedIndexID,
		Queries:             []findQuery{{Datapoint: toWire(&query), NeighborCount: q.NeighborCount}},
		ReturnFullDatapoint: true,
	}

	var resp findResponse
	if err := c.post(ctx, c.endpointPath("findNeighbors"), req, &resp); err != nil {
		return nil, fmt.Errorf("find neighbors: %w", err)
	}
	if len(resp.NearestNeighbors) == 0 {
		return nil, nil
	}

	raw := resp.NearestNeighbors[0].Neighbors
	out := make([]datapoint.Neighbor, 0, len(raw))
	for i := range raw {
		out = append(out, datapoint.Neighbor{
			Datapoint: fromWire(&raw[i].Datapoint),
			Distance:  NativeDistance(c.cfg.Metric, raw[i].Distance),
		})
	}
	return out, nil
}

// ReadDatapoints fetches datapoints by id from the deployed index.
func (c *Client) ReadDatapoints(ctx context.Context, ids []string) ([]datapoint.Datapoint, error) {
	var resp readResponse
	err := c.post(ctx, c.endpointPath("readIndexDatapoints"), readRequest{DeployedIndexID: c.cfg.DeployedIndexID, IDs: ids}, &resp)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read datapoints: %w", err)
	}
	out := make([]datapoint.Datapoint, len(resp.Datapoints))
	for i := range resp.Datapoints {
		out[i] = fromWire(&resp.Datapoints[i])
	}
	return out, nil
}

// NativeDistance maps a Vertex distance value to the engine convention.
// Vertex reports similarity for DOT_PRODUCT and COSINE and the squared
// distance for SQUARED_L2.
func NativeDistance(m metric.Metric, raw float64) float64 {
	switch m {
	case metric.DotProduct:
		return -raw
	case metric.Euclidean:
		return math.Sqrt(math.Max(raw, 0))
	default:
		return 1 - raw
	}
}

func classifyTransport(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrExternalAPI, err)
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
