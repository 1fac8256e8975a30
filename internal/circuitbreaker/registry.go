package circuitbreaker

import (
	"sync"
	"time"
)

// Registry holds one Breaker per provider name, created on first use.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewRegistry creates an empty registry. All breakers share cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), cfg: cfg}
}

// Get returns the breaker for provider, or nil if it has never been used.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[provider]
}

// GetOrCreate returns the breaker for provider, creating it on first use.
func (r *Registry) GetOrCreate(provider string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b = NewBreaker(r.cfg)
	r.breakers[provider] = b
	return b
}

// EvictStale drops breakers with no activity since cutoff and returns how
// many were removed. Stale keys are collected under the read lock first so
// the write lock is only held for the deletions.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.RLock()
	var stale []string
	for name, b := range r.breakers {
		if b.LastUsed().Before(cutoff) {
			stale = append(stale, name)
		}
	}
	r.mu.RUnlock()

	if len(stale) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for _, name := range stale {
		b, ok := r.breakers[name]
		if ok && b.LastUsed().Before(cutoff) {
			delete(r.breakers, name)
			evicted++
		}
	}
	return evicted
}
