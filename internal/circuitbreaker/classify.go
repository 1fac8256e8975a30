package circuitbreaker

import (
	"context"
	"errors"
	"net"
	"os"

	gateway "github.com/eugener/radagast/internal"
)

// httpStatusError is satisfied by upstream API errors carrying a status code.
type httpStatusError interface {
	HTTPStatus() int
}

// ClassifyError returns the error weight for circuit breaker tracking.
//
// Weights:
//   - timeout (deadline exceeded) -> 1.5
//   - 429 (rate limited) -> 0.5
//   - 500-504 -> 1.0
//   - 4xx (except 429) -> 0.0 (caller errors, not provider fault)
//   - caller cancellation -> 0.0
//   - network errors (non-timeout) -> 1.0
//   - nil -> 0.0
func ClassifyError(err error) float64 {
	if err == nil {
		return 0
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, gateway.ErrTimeout) {
		return 1.5
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, gateway.ErrCanceled) {
		return 0
	}

	var he httpStatusError
	if errors.As(err, &he) {
		return classifyStatus(he.HTTPStatus())
	}

	switch {
	case errors.Is(err, gateway.ErrRateLimited):
		return 0.5
	case errors.Is(err, gateway.ErrBadRequest),
		errors.Is(err, gateway.ErrUnauthorized),
		errors.Is(err, gateway.ErrForbidden),
		errors.Is(err, gateway.ErrNotFound):
		return 0
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return 1.0
	}

	// Unclassified errors (connection refused, EOF mid-body) count as
	// provider fault.
	return 1.0
}

// classifyStatus returns the error weight for an upstream HTTP status code.
func classifyStatus(code int) float64 {
	switch {
	case code == 429:
		return 0.5
	case code >= 500 && code <= 504:
		return 1.0
	default:
		return 0.0
	}
}
