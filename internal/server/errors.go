package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
)

// OpenAI-style error types.
const (
	typeAuthentication = "authentication_error"
	typePermission     = "permission_denied"
	typeInvalidRequest = "invalid_request_error"
	typeNotFound       = "not_found_error"
	typeAPI            = "api_error"
	typeRateLimit      = "rate_limit_error"
)

// apiError is the OpenAI-compatible error envelope.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func errorEnvelope(msg, typ string, code int) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = typ
	e.Error.Code = code
	return e
}

// errorStatus maps a domain error to an HTTP status code.
func errorStatus(err error) int {
	var rle *provider.RateLimitError
	var ne *provider.NetworkError
	var ae *provider.APIError
	switch {
	case errors.Is(err, gateway.ErrUnauthorized),
		errors.Is(err, gateway.ErrKeyExpired),
		errors.Is(err, gateway.ErrKeyDisabled):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrForbidden),
		errors.Is(err, gateway.ErrBudgetExceeded):
		return http.StatusForbidden
	case errors.Is(err, gateway.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrRateLimited),
		errors.Is(err, gateway.ErrQueueFull),
		errors.As(err, &rle):
		return http.StatusTooManyRequests
	case errors.Is(err, gateway.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &ne):
		return http.StatusBadGateway
	case errors.As(err, &ae):
		if ae.StatusCode >= 500 {
			return http.StatusBadGateway
		}
		return ae.StatusCode
	case errors.Is(err, gateway.ErrProviderError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorType maps an HTTP status to the envelope's error type.
func errorType(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return typeAuthentication
	case http.StatusForbidden:
		return typePermission
	case http.StatusBadRequest, http.StatusConflict:
		return typeInvalidRequest
	case http.StatusNotFound:
		return typeNotFound
	case http.StatusTooManyRequests:
		return typeRateLimit
	default:
		return typeAPI
	}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment avoids
// the []string{v} alloc that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.LogAttrs(context.Background(), slog.LevelError, "encode response failed",
			slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, msg, typ string) {
	writeJSON(w, status, errorEnvelope(msg, typ, status))
}

// writeDomainError maps err onto the envelope. Error strings from the domain
// never carry secrets; provider errors carry only upstream status and body.
func writeDomainError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	writeError(w, status, err.Error(), errorType(status))
}
