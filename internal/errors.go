package gateway

import "errors"

// Sentinel errors for the gateway domain.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrRateLimited    = errors.New("rate limited")
	ErrBadRequest     = errors.New("bad request")
	ErrTimeout        = errors.New("request timed out")
	ErrCanceled       = errors.New("request canceled")
	ErrQueueFull      = errors.New("queue full")
	ErrQueueCleared   = errors.New("queue cleared")
	ErrKeyExpired     = errors.New("gateway key expired")
	ErrKeyDisabled    = errors.New("gateway key disabled")
	ErrProviderError  = errors.New("provider error")
	ErrBudgetExceeded = errors.New("budget exceeded")
)
