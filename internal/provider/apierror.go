package provider

import (
	"fmt"
	"io"
	"net/http"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

// APIError represents an error response from an upstream LLM provider.
// It satisfies the httpStatusError interface used by failover and circuit
// breaker classification.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

// Error returns a formatted error string including provider, status, and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatus returns the upstream HTTP status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Unwrap maps the upstream status onto the gateway error taxonomy so callers
// can classify with errors.Is.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return gateway.ErrUnauthorized
	case http.StatusNotFound:
		return gateway.ErrNotFound
	case http.StatusTooManyRequests:
		return gateway.ErrRateLimited
	default:
		return gateway.ErrProviderError
	}
}

// ParseAPIError reads up to 4KB from the response body and returns an APIError.
func ParseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
}

// RateLimitError is returned when the upstream still answers 429 after all
// retries. RetryAfter carries the upstream's last Retry-After hint.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// HTTPStatus returns 429 for failover classification.
func (e *RateLimitError) HTTPStatus() int { return http.StatusTooManyRequests }

// Unwrap ties the error into the gateway taxonomy.
func (e *RateLimitError) Unwrap() error { return gateway.ErrRateLimited }

// NetworkError wraps a transport failure that persisted through retries.
type NetworkError struct {
	Provider string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *NetworkError) Unwrap() error { return e.Err }
