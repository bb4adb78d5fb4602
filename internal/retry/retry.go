// Package retry runs remote calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/pawrescue/kbengine/internal/domain"
	"github.com/pawrescue/kbengine/internal/metrics"
)

// Configuration defaults.
const (
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Config bounds a retry loop.
type Config struct {
	// MaxRetries is the number of retries after the first attempt (0 disables retrying).
	MaxRetries int
	// BaseDelay is the backoff unit: attempt n waits BaseDelay*2^(n-1) plus jitter in [0, BaseDelay).
	BaseDelay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
	// RequestTimeout bounds each attempt; 0 leaves attempts bounded only by the caller's context.
	RequestTimeout time.Duration
}

// Executor retries operations that fail with a retryable error kind.
// Safe for concurrent use.
type Executor struct {
	cfg    Config
	logger *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(n time.Duration) time.Duration
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSleep replaces the context-aware sleep (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithJitter replaces the jitter source; fn returns a value in [0, n).
func WithJitter(fn func(n time.Duration) time.Duration) Option {
	return func(e *Executor) { e.jitter = fn }
}

// New creates an Executor. Negative MaxRetries is treated as zero.
func New(cfg Config, opts ...Option) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	e := &Executor{
		cfg:    cfg,
		logger: zap.NewNop(),
		sleep:  sleepCtx,
		jitter: uniformJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config { return e.cfg }

// Backoff returns the wait before retry number n (1-based).
func (e *Executor) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := e.cfg.MaxDelay
	// shifts past 30 overflow long before any sane cap is reached
	if n <= 30 {
		if exp := e.cfg.BaseDelay << (n - 1); exp > 0 && exp < e.cfg.MaxDelay {
			d = exp
		}
	}
	d += e.jitter(e.cfg.BaseDelay)
	return min(d, e.cfg.MaxDelay)
}

// Do runs fn until it succeeds, fails with a non-retryable error, the retry
// budget is spent, or ctx is done. At most MaxRetries+1 attempts are made and
// the last error is returned as produced by fn.
func Do[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for n := 0; n <= e.cfg.MaxRetries; n++ {
		if n > 0 {
			wait := e.Backoff(n)
			e.logger.Debug("Retrying after backoff",
				zap.String("operation", op),
				zap.Int("attempt", n+1),
				zap.Duration("backoff", wait),
				zap.Error(lastErr),
			)
			if err := e.sleep(ctx, wait); err != nil {
				return zero, fmt.Errorf("%s: retry aborted: %w", op, errors.Join(err, lastErr))
			}
		}

		res, err := runAttempt(ctx, e.cfg.RequestTimeout, fn)
		if err == nil {
			metrics.RetryAttemptsTotal.WithLabelValues(op, "ok").Inc()
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil || !domain.IsRetryable(err) {
			metrics.RetryAttemptsTotal.WithLabelValues(op, "fatal").Inc()
			return zero, err
		}
		metrics.RetryAttemptsTotal.WithLabelValues(op, "retry").Inc()
	}

	metrics.RetryAttemptsTotal.WithLabelValues(op, "give_up").Inc()
	e.logger.Warn("All retry attempts exhausted",
		zap.String("operation", op),
		zap.Int("attempts", e.cfg.MaxRetries+1),
		zap.Error(lastErr),
	)
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, e *Executor, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, e, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// runAttempt runs fn under the per-attempt deadline. A deadline hit that belongs
// to the attempt (not the caller) becomes a retryable timeout.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := fn(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
		err = fmt.Errorf("attempt exceeded %s: %w: %w", timeout, domain.ErrTimeout, err)
	}
	return res, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func uniformJitter(n time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	return rand.N(n)
}
