package provider

import (
	"context"
	"errors"
	"fmt"

	gateway "github.com/eugener/radagast/internal"
)

// HealthGate decides whether a provider should receive traffic and observes
// call outcomes. Implemented by the circuit breaker registry.
type HealthGate interface {
	Allow(provider string) bool
	Observe(provider string, err error)
}

// nopGate admits everything.
type nopGate struct{}

func (nopGate) Allow(string) bool     { return true }
func (nopGate) Observe(string, error) {}

// ChatWithFallback tries providers in order and returns the first successful
// response along with the provider that produced it. Providers whose health
// gate is open are skipped. Terminal errors (bad request, auth, unknown model)
// stop the chain; transient errors (rate limit, network, timeout, upstream
// 5xx) continue to the next provider. When every provider fails, the last
// error is returned.
func (r *Registry) ChatWithFallback(ctx context.Context, req *gateway.ChatRequest,
	names []string, gate HealthGate) (*gateway.ChatResponse, string, error) {

	if gate == nil {
		gate = nopGate{}
	}
	if len(names) == 0 {
		return nil, "", fmt.Errorf("%w: no providers to try", gateway.ErrBadRequest)
	}

	var lastErr error
	for _, name := range names {
		p, err := r.Get(name)
		if err != nil {
			lastErr = err
			continue
		}
		if !gate.Allow(name) {
			lastErr = fmt.Errorf("%w: provider %q circuit open", gateway.ErrProviderError, name)
			continue
		}

		resp, err := p.ChatCompletion(ctx, req)
		gate.Observe(name, err)
		if err == nil {
			return resp, name, nil
		}
		if isTerminal(err) || ctx.Err() != nil {
			return nil, name, err
		}
		lastErr = err
	}
	return nil, "", lastErr
}

// isTerminal reports whether retrying another provider cannot help.
func isTerminal(err error) bool {
	return errors.Is(err, gateway.ErrBadRequest) ||
		errors.Is(err, gateway.ErrUnauthorized) ||
		errors.Is(err, gateway.ErrForbidden) ||
		errors.Is(err, gateway.ErrNotFound) ||
		errors.Is(err, gateway.ErrCanceled)
}
