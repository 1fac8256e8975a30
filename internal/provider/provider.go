// Package provider implements the adapter registry, model routing, and shared
// HTTP plumbing for LLM provider adapters.
package provider

import (
	"fmt"
	"slices"
	"sync"

	gateway "github.com/eugener/radagast/internal"
)

// Registry maps provider names to gateway.Provider instances.
// Registrations happen during startup wiring; Freeze forbids later mutation
// so request handlers can read without synchronization concerns.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]gateway.Provider
	defaultName string
	frozen      bool
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]gateway.Provider)}
}

// Register adds a provider under the given name. It overwrites any previously
// registered provider with the same name. Registering after Freeze is an error.
func (r *Registry) Register(name string, p gateway.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: registry is frozen, cannot register %q", gateway.ErrConflict, name)
	}
	r.providers[name] = p
	if r.defaultName == "" {
		r.defaultName = name
	}
	return nil
}

// SetDefault names the provider used when a model cannot be routed.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: registry is frozen", gateway.ErrConflict)
	}
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q not registered", name)
	}
	r.defaultName = name
	return nil
}

// Default returns the default provider name, or "" if nothing is registered.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Freeze forbids further registrations. Called once after startup wiring.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Get returns the provider registered under name, or an error if not found.
func (r *Registry) Get(name string) (gateway.Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: provider %q not registered", gateway.ErrNotFound, name)
	}
	return p, nil
}

// Has reports whether a provider is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	_, ok := r.providers[name]
	r.mu.RUnlock()
	return ok
}

// List returns a sorted slice of all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.providers {
			if !yield(name) {
				return
			}
		}
	})
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}
