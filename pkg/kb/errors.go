package kb

import "github.com/pawrescue/kbengine/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrValidation             = domain.ErrValidation
	ErrExternalAPI            = domain.ErrExternalAPI
	ErrDatabase               = domain.ErrDatabase
	ErrNotFound               = domain.ErrNotFound
	ErrTimeout                = domain.ErrTimeout
	ErrRateLimited            = domain.ErrRateLimited
	ErrInternal               = domain.ErrInternal
	ErrNotSupported           = domain.ErrNotSupported
	ErrCountUnsupported       = domain.ErrCountUnsupported
	ErrVectorDimMismatch      = domain.ErrVectorDimMismatch
	ErrEmbeddingProviderError = domain.ErrEmbeddingProviderError
)

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool { return domain.IsRetryable(err) }
