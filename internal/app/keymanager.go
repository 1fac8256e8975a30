package app

import (
	"fmt"
	"sync"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
)

// KeyManager holds the mutable provider credentials. The provider registry is
// frozen after startup; runtime key rotation goes through the Credential
// handles the adapters were built with.
type KeyManager struct {
	mu    sync.RWMutex
	creds map[string]*provider.Credential
}

// NewKeyManager returns an empty KeyManager.
func NewKeyManager() *KeyManager {
	return &KeyManager{creds: make(map[string]*provider.Credential)}
}

// Register associates a provider name with its credential handle. Called
// during startup wiring, before the registry freezes.
func (km *KeyManager) Register(providerName string, cred *provider.Credential) {
	km.mu.Lock()
	km.creds[providerName] = cred
	km.mu.Unlock()
}

// SetKey replaces the API key for a provider. Requests already in flight keep
// the key they resolved at send time.
func (km *KeyManager) SetKey(providerName, key string) error {
	km.mu.RLock()
	cred, ok := km.creds[providerName]
	km.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: provider %q not configured", gateway.ErrNotFound, providerName)
	}
	cred.Set(key)
	return nil
}

// DeleteKey clears the API key for a provider. Subsequent upstream calls fail
// authentication until a new key is set.
func (km *KeyManager) DeleteKey(providerName string) error {
	return km.SetKey(providerName, "")
}

// HasKey reports whether a provider currently has a non-empty key.
func (km *KeyManager) HasKey(providerName string) bool {
	km.mu.RLock()
	cred, ok := km.creds[providerName]
	km.mu.RUnlock()
	return ok && cred.Get() != ""
}
