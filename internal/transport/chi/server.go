// Package chi is the ops HTTP surface: health, Prometheus metrics and a
// retrieval endpoint for the assistant.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/domain/search/request"
	logpkg "github.com/pawrescue/kbengine/internal/logger"
	"github.com/pawrescue/kbengine/internal/metrics"
	healthuc "github.com/pawrescue/kbengine/internal/usecase/health"
	"github.com/pawrescue/kbengine/internal/usecase/retrieval"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ErrorCode is the machine-readable error code in error responses.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest       ErrorCode = "bad_request"
	CodeValidationFailed ErrorCode = "validation_failed"
	CodeUnauthorized     ErrorCode = "unauthorized"
	CodeInternal         ErrorCode = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// RetrieveResponse is the POST /v1/retrieve body.
type RetrieveResponse struct {
	Snippets []retrieval.Snippet `json:"snippets"`
	Context  string              `json:"context"`
}

// Retriever answers retrieval requests.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) []retrieval.Snippet
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// Server holds the HTTP handlers.
type Server struct {
	retriever Retriever
	health    HealthChecker
	logger    *zap.Logger
}

// NewServer creates the ops server.
func NewServer(retriever Retriever, health HealthChecker, logger *zap.Logger) *Server {
	return &Server{retriever: retriever, health: health, logger: logpkg.Or(logger)}
}

// Router builds the chi router with the standard middleware chain.
func (s *Server) Router(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/v1/retrieve", s.Retrieve)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeBadRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})
	return r
}

// HealthCheck handles GET /healthz. Only an unreachable vector store fails the check.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// Retrieve handles POST /v1/retrieve. Retrieval failures degrade to an empty
// list, so only malformed requests produce errors.
func (s *Server) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieval.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeBadRequest, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if msg := validateRetrieve(&req); msg != "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, msg)
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	snippets := s.retriever.Retrieve(ctx, req)
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, RetrieveResponse{
		Snippets: snippets,
		Context:  retrieval.FormatContext(snippets),
	})
}

func validateRetrieve(req *retrieval.Request) string {
	switch {
	case strings.TrimSpace(req.Text) == "":
		return "text is required"
	case req.TopK < 0 || req.TopK > request.MaxTopK:
		return "topK must be between 0 and 500"
	case req.MinScore != nil && (*req.MinScore < 0 || *req.MinScore > 1):
		return "minScore must be between 0 and 1"
	}
	return ""
}

// setEmbeddingHeaders reports embedding tokens spent on the request.
// Cached answers do not embed and carry no header.
func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage.Used {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.TotalTokens))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
