package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrNoDataAvailable = errors.New("no data available")
	ErrRunInProgress   = errors.New("run already in progress")
)

// UpstreamError is a network or HTTP failure talking to an upstream vendor.
// Retryable failures (connectivity, HTTP >= 500) are retried by the fetch
// client before triggering provider fallback.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %v", e.Endpoint, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// AuthError is a 401/403 from upstream, surfaced distinctly so callers can
// alert on credential expiry. Never retried.
type AuthError struct {
	Endpoint   string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream %s: authentication failed (status %d)", e.Endpoint, e.StatusCode)
}

// RateLimitError is a 429 from upstream. The token bucket exists to prevent
// these; when one slips through it is not retried at the client level.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("upstream %s: rate limit exceeded", e.Endpoint)
}

// ValidationError is a malformed or unexpectedly-shaped upstream response.
type ValidationError struct {
	Endpoint string
	Reason   string
	Err      error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validate %s: %s: %v", e.Endpoint, e.Reason, e.Err)
	}
	return fmt.Sprintf("validate %s: %s", e.Endpoint, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// MappingError is an opaque vendor-normalization failure. It feeds the error
// tracker under the mapper's context key.
type MappingError struct {
	Provider string
	Field    string
	Err      error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("map %s field %q: %v", e.Provider, e.Field, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// CircuitOpenError is returned without attempting a call when a provider's
// circuit breaker is open.
type CircuitOpenError struct {
	Provider string
	Until    time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for provider %s until %s", e.Provider, e.Until.Format(time.RFC3339))
}

// CircuitBreakerError is raised by the generic error tracker once a context
// key accumulates Threshold errors within its sliding window.
type CircuitBreakerError struct {
	Context   string
	Count     int
	Threshold int
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("error threshold reached for %s: %d/%d", e.Context, e.Count, e.Threshold)
}

// AttemptError records one failed provider attempt during fallback.
type AttemptError struct {
	Provider string
	Message  string
}

// FallbackExhaustedError aggregates every provider failure when no provider
// could serve a request.
type FallbackExhaustedError struct {
	Category Category
	Attempts []AttemptError
}

func (e *FallbackExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.Message))
	}
	return fmt.Sprintf("all providers failed for %s [%s]", e.Category, strings.Join(parts, "; "))
}

// IsAuthFailure reports whether err looks like a credential problem rather
// than a transient outage, either via the typed AuthError or auth-related
// error text from a vendor body.
func IsAuthFailure(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) && (upErr.StatusCode == 401 || upErr.StatusCode == 403) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"unauthorized", "forbidden", "authentication failed", "api key", "token expired", "invalid token"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err should be retried by the fetch client.
func IsRetryable(err error) bool {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Retryable
	}
	return false
}
