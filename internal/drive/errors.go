// Package drive provides a typed client for the cloud drive REST API:
// upload, download (full and ranged), metadata, folder listing and
// creation, and trash/delete. Every call is authenticated through a
// TokenSource and routed through a backoff.Executor.
package drive

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, drive.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("drive: bad request")
	ErrUnauthorized = errors.New("drive: unauthorized")
	ErrForbidden    = errors.New("drive: forbidden")
	ErrNotFound     = errors.New("drive: not found")
	ErrThrottled    = errors.New("drive: throttled")
	ErrServerError  = errors.New("drive: server error")
)

// APIError wraps a sentinel error with the HTTP status code, the
// provider request ID, and the error body for debugging. It implements
// backoff.StatusCoder and backoff.RetryAfterer so the executor can
// classify it.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()

	retryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("drive: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("drive: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// HTTPStatus implements backoff.StatusCoder.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// RetryAfter implements backoff.RetryAfterer. Zero when the provider
// sent no hint.
func (e *APIError) RetryAfter() time.Duration { return e.retryAfter }

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return fmt.Errorf("drive: unexpected status %d", code)
	}
}
