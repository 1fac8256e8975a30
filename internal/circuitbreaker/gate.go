package circuitbreaker

import (
	"context"
	"errors"

	gateway "github.com/eugener/radagast/internal"
)

// Allow reports whether the named provider should receive traffic. Together
// with Observe it implements the health gate consumed by provider failover.
func (r *Registry) Allow(provider string) bool {
	return r.GetOrCreate(provider).Allow()
}

// Observe records a call outcome for the named provider. Caller
// cancellations are ignored so an impatient client cannot trip a breaker.
func (r *Registry) Observe(provider string, err error) {
	b := r.GetOrCreate(provider)
	if err == nil {
		b.RecordSuccess()
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, gateway.ErrCanceled) {
		return
	}
	weight := ClassifyError(err)
	if weight == 0 {
		// Caller errors prove the provider is reachable.
		b.RecordSuccess()
		return
	}
	b.RecordError(weight)
}
