// Package backoff provides retry with exponential backoff for remote
// calls. All network I/O in the drive gateway routes through an
// Executor; it is the sole point of resilience against transient
// provider failures.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

// Defaults mirror the provider's documented throttling guidance.
const (
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxRetries = 5
	DefaultJitterCap  = 300 * time.Millisecond
	maxDelay          = 60 * time.Second
)

// StatusCoder is implemented by errors that carry an HTTP-like status
// code. Only such errors are considered for retry; anything else
// (malformed local data, context cancellation) propagates immediately.
type StatusCoder interface {
	HTTPStatus() int
}

// RetryAfterer is optionally implemented by errors carrying a
// provider-supplied Retry-After hint, which takes precedence over the
// computed exponential delay.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Executor retries an operation on transient HTTP failures.
// The zero value is not usable; construct with New.
type Executor struct {
	base       time.Duration
	maxRetries int
	jitterCap  time.Duration
	logger     *slog.Logger

	// sleepFunc waits between attempts. Tests override it to avoid
	// real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates an Executor with the default retry policy.
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		base:       DefaultBaseDelay,
		maxRetries: DefaultMaxRetries,
		jitterCap:  DefaultJitterCap,
		logger:     logger,
		sleepFunc:  sleepContext,
	}
}

// WithPolicy returns a copy of the Executor with the given base delay
// and retry cap. Used by tests and by callers that need tighter loops.
func (e *Executor) WithPolicy(base time.Duration, maxRetries int) *Executor {
	clone := *e
	clone.base = base
	clone.maxRetries = maxRetries

	return &clone
}

// Execute invokes op, retrying on retriable HTTP status codes with
// exponential backoff plus uniform jitter. The original error is
// returned unchanged when retries exhaust or the error is not
// retriable.
func (e *Executor) Execute(ctx context.Context, name string, op func() error) error {
	var attempt int
	for {
		err := op()
		if err == nil {
			return nil
		}

		if !retriable(err) || attempt >= e.maxRetries {
			if attempt > 0 {
				e.logger.Error("operation failed after retries",
					slog.String("op", name),
					slog.Int("attempts", attempt+1),
					slog.String("error", err.Error()),
				)
			}

			return err
		}

		delay := e.delay(err, attempt)
		e.logger.Warn("retrying after transient error",
			slog.String("op", name),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		if sleepErr := e.sleepFunc(ctx, delay); sleepErr != nil {
			return fmt.Errorf("backoff: %s canceled: %w", name, sleepErr)
		}

		attempt++
	}
}

// Do runs op through exec and returns its value. Generic convenience
// over Execute for operations that produce a result.
func Do[T any](ctx context.Context, exec *Executor, name string, op func() (T, error)) (T, error) {
	var out T

	err := exec.Execute(ctx, name, func() error {
		var opErr error
		out, opErr = op()

		return opErr
	})

	return out, err
}

// retriable reports whether err carries a status code in the
// retriable set.
func retriable(err error) bool {
	var sc StatusCoder
	if !errors.As(err, &sc) {
		return false
	}

	switch sc.HTTPStatus() {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// delay computes base·2^attempt plus uniform jitter in [0, jitterCap),
// capped at maxDelay. A provider Retry-After hint wins outright.
func (e *Executor) delay(err error, attempt int) time.Duration {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		if hint := ra.RetryAfter(); hint > 0 {
			return hint
		}
	}

	d := float64(e.base) * math.Pow(2, float64(attempt))
	if d > float64(maxDelay) {
		d = float64(maxDelay)
	}

	jitter := rand.N(e.jitterCap) //nolint:gosec // jitter does not need crypto rand

	return time.Duration(d) + jitter
}

// sleepContext waits for d or until ctx is canceled. Default sleepFunc.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
