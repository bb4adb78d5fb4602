package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Collaborators wrap one of these at the point of failure so that
// callers can classify with errors.Is instead of inspecting messages.
var (
	// ErrValidation signals malformed input (wrong dimension, missing config).
	ErrValidation = errors.New("validation error")
	// ErrExternalAPI signals a transient failure of a remote backend or embedding call.
	ErrExternalAPI = errors.New("external api error")
	// ErrDatabase signals a failure of an underlying persistent store.
	ErrDatabase = errors.New("database error")
	// ErrNotFound signals a missing resource where the contract requires existence.
	ErrNotFound = errors.New("not found")
	// ErrTimeout signals an operation that exceeded an enforced deadline.
	ErrTimeout = errors.New("timeout")
	// ErrRateLimited signals backend throttling.
	ErrRateLimited = errors.New("rate limited")
	// ErrInternal signals an unexpected, unclassified failure.
	ErrInternal = errors.New("internal error")

	// ErrNotSupported signals an operation the configured backend cannot perform.
	ErrNotSupported = errors.New("not supported by backend")
	// ErrCountUnsupported signals that the backend cannot report exact counts.
	// Callers must not treat it as zero.
	ErrCountUnsupported = fmt.Errorf("count: %w", ErrNotSupported)
	// ErrVectorDimMismatch signals an embedding whose length differs from the engine dimension.
	ErrVectorDimMismatch = fmt.Errorf("vector dimension mismatch: %w", ErrValidation)
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = fmt.Errorf("embedding provider error: %w", ErrExternalAPI)
)

// RateLimitError wraps ErrRateLimited with the backend's suggested wait.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := ErrRateLimited.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *RateLimitError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRateLimited}
	}
	return []error{ErrRateLimited, e.Err}
}

// NewRateLimited creates a rate limit error carrying retry-after.
func NewRateLimited(retryAfter time.Duration, cause error) error {
	return &RateLimitError{RetryAfter: retryAfter, Err: cause}
}

// RetryAfter extracts the suggested wait from a rate limit error (0 if absent).
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// IsRetryable reports whether err belongs to a retryable kind:
// external API, database, or timeout. Rate limits are not retried automatically.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrValidation) {
		return false
	}
	return errors.Is(err, ErrExternalAPI) ||
		errors.Is(err, ErrDatabase) ||
		errors.Is(err, ErrTimeout)
}

// Kind returns the taxonomy name of err, "internal" for unclassified errors.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotSupported):
		return "not_supported"
	case errors.Is(err, ErrExternalAPI):
		return "external_api"
	case errors.Is(err, ErrDatabase):
		return "database"
	default:
		return "internal"
	}
}
