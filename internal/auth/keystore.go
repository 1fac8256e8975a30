package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter/v2"

	gateway "github.com/eugener/radagast/internal"
)

const (
	keyRandomLen = 48
	base62       = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	verifyCacheTTL = 30 * time.Second // short enough to pick up revocations promptly
	verifyCacheLen = 10_000
)

// keyFile is the on-disk document shape.
type keyFile struct {
	Version int                   `json:"version"`
	Keys    []*gateway.GatewayKey `json:"keys"`
}

// CreatedKey is returned from Create and Regenerate; Key carries the
// plaintext and is never persisted or returned again.
type CreatedKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	Prefix    string     `json:"prefix"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// KeyStats summarizes the key population.
type KeyStats struct {
	Total      int   `json:"total"`
	Active     int   `json:"active"`
	Disabled   int   `json:"disabled"`
	Expired    int   `json:"expired"`
	TotalUsage int64 `json:"totalUsage"`
}

// KeyStore persists gateway keys in a JSON document and verifies bearers by
// hash. Verification results ride a short-TTL cache that is invalidated on
// every mutation.
type KeyStore struct {
	path   string
	logger *slog.Logger
	cache  *otter.Cache[string, *gateway.GatewayKey]

	mu     sync.Mutex
	byID   map[string]*gateway.GatewayKey
	byHash map[string]*gateway.GatewayKey
	order  []string // key IDs in creation order
}

// NewKeyStore loads (or lazily creates) the key document at path.
func NewKeyStore(path string, logger *slog.Logger) (*KeyStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := otter.New[string, *gateway.GatewayKey](&otter.Options[string, *gateway.GatewayKey]{
		MaximumSize:      verifyCacheLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *gateway.GatewayKey](verifyCacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create verify cache: %w", err)
	}
	s := &KeyStore{
		path:   path,
		logger: logger,
		cache:  c,
		byID:   make(map[string]*gateway.GatewayKey),
		byHash: make(map[string]*gateway.GatewayKey),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *KeyStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}
	var doc keyFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse key file: %w", err)
	}
	for _, k := range doc.Keys {
		s.byID[k.ID] = k
		s.byHash[k.KeyHash] = k
		s.order = append(s.order, k.ID)
	}
	return nil
}

// persistLocked writes the document atomically. Callers must hold mu.
func (s *KeyStore) persistLocked() error {
	doc := keyFile{Version: 1, Keys: make([]*gateway.GatewayKey, 0, len(s.order))}
	for _, id := range s.order {
		doc.Keys = append(doc.Keys, s.byID[id])
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace key file: %w", err)
	}
	return nil
}

// persistAsync flushes the document off the caller's path; verify updates
// are best-effort and may lose counter increments on crash.
func (s *KeyStore) persistAsync() {
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.persistLocked(); err != nil {
			s.logger.LogAttrs(context.Background(), slog.LevelError, "persist gateway keys",
				slog.String("error", err.Error()))
		}
	}()
}

// generatePlaintext draws gw-<48 base62 chars> from the CSPRNG.
func generatePlaintext() (string, error) {
	raw, err := randomFromAlphabet(base62, keyRandomLen)
	if err != nil {
		return "", err
	}
	return gateway.KeyPrefix + raw, nil
}

// Create mints a new key. The returned CreatedKey carries the plaintext;
// only its hash is stored.
func (s *KeyStore) Create(name string, scopes []string, rateLimit *int64, expiresAt *time.Time) (*CreatedKey, error) {
	plaintext, err := generatePlaintext()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	key := &gateway.GatewayKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Name:      name,
		Prefix:    gateway.DisplayPrefix(plaintext),
		KeyHash:   gateway.HashKey(plaintext),
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Enabled:   true,
		Scopes:    scopes,
		RateLimit: rateLimit,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[key.ID] = key
	s.byHash[key.KeyHash] = key
	s.order = append(s.order, key.ID)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}

	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "gateway key created",
		slog.String("id", key.ID),
		slog.String("prefix", key.Prefix))

	return &CreatedKey{
		ID:        key.ID,
		Name:      key.Name,
		Key:       plaintext,
		Prefix:    key.Prefix,
		CreatedAt: key.CreatedAt,
		ExpiresAt: key.ExpiresAt,
	}, nil
}

// Verify authenticates a plaintext bearer. On success it bumps usage
// counters and schedules asynchronous persistence. Counter races are
// best-effort; enabled/expiry checks are authoritative.
func (s *KeyStore) Verify(plaintext string) (*gateway.GatewayKey, error) {
	hash := gateway.HashKey(plaintext)
	now := time.Now()

	if key, ok := s.cache.GetIfPresent(hash); ok {
		if err := usableErr(key, now); err != nil {
			return nil, err
		}
		s.touch(key)
		out := *key
		return &out, nil
	}

	s.mu.Lock()
	key, ok := s.byHash[hash]
	if !ok {
		s.mu.Unlock()
		return nil, gateway.ErrUnauthorized
	}
	if err := usableErr(key, now); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	key.UsageCount++
	t := now.UTC()
	key.LastUsedAt = &t
	out := *key
	s.mu.Unlock()

	// The cache holds a snapshot, never the live entry. Mutators invalidate
	// by hash, so a stale snapshot lives at most verifyCacheTTL.
	snapshot := out
	s.cache.Set(hash, &snapshot)
	s.persistAsync()
	return &out, nil
}

func usableErr(k *gateway.GatewayKey, now time.Time) error {
	if !k.Enabled {
		return gateway.ErrKeyDisabled
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return gateway.ErrKeyExpired
	}
	return nil
}

// touch bumps counters for a cache-hit verify.
func (s *KeyStore) touch(key *gateway.GatewayKey) {
	s.mu.Lock()
	if live, ok := s.byID[key.ID]; ok {
		live.UsageCount++
		t := time.Now().UTC()
		live.LastUsedAt = &t
	}
	s.mu.Unlock()
	s.persistAsync()
}

// Get returns a key by ID.
func (s *KeyStore) Get(id string) (*gateway.GatewayKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: gateway key %s", gateway.ErrNotFound, id)
	}
	out := *key
	return &out, nil
}

// List returns all keys in creation order.
func (s *KeyStore) List() []*gateway.GatewayKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*gateway.GatewayKey, 0, len(s.order))
	for _, id := range s.order {
		k := *s.byID[id]
		out = append(out, &k)
	}
	return out
}

// ListActive returns keys that are currently usable.
func (s *KeyStore) ListActive() []*gateway.GatewayKey {
	now := time.Now()
	var out []*gateway.GatewayKey
	for _, k := range s.List() {
		if k.Usable(now) {
			out = append(out, k)
		}
	}
	return out
}

// SetEnabled toggles a key and invalidates its verify cache entry.
func (s *KeyStore) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: gateway key %s", gateway.ErrNotFound, id)
	}
	key.Enabled = enabled
	s.cache.Invalidate(key.KeyHash)
	return s.persistLocked()
}

// Revoke removes a key entirely.
func (s *KeyStore) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: gateway key %s", gateway.ErrNotFound, id)
	}
	delete(s.byID, id)
	delete(s.byHash, key.KeyHash)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.cache.Invalidate(key.KeyHash)
	return s.persistLocked()
}

// KeyUpdate carries optional field updates; nil fields are left unchanged.
type KeyUpdate struct {
	Name      *string
	Scopes    *[]string
	RateLimit **int64
	BudgetUSD **float64
	ExpiresAt **time.Time
}

// Update applies a partial update to a key.
func (s *KeyStore) Update(id string, upd KeyUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: gateway key %s", gateway.ErrNotFound, id)
	}
	if upd.Name != nil {
		key.Name = *upd.Name
	}
	if upd.Scopes != nil {
		key.Scopes = *upd.Scopes
	}
	if upd.RateLimit != nil {
		key.RateLimit = *upd.RateLimit
	}
	if upd.BudgetUSD != nil {
		key.BudgetUSD = *upd.BudgetUSD
	}
	if upd.ExpiresAt != nil {
		key.ExpiresAt = *upd.ExpiresAt
	}
	s.cache.Invalidate(key.KeyHash)
	return s.persistLocked()
}

// Regenerate replaces a key's plaintext, resets its counters, and drops the
// old hash index entry. Returns the new plaintext once.
func (s *KeyStore) Regenerate(id string) (*CreatedKey, error) {
	plaintext, err := generatePlaintext()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: gateway key %s", gateway.ErrNotFound, id)
	}
	delete(s.byHash, key.KeyHash)
	s.cache.Invalidate(key.KeyHash)

	key.KeyHash = gateway.HashKey(plaintext)
	key.Prefix = gateway.DisplayPrefix(plaintext)
	key.CreatedAt = time.Now().UTC()
	key.LastUsedAt = nil
	key.UsageCount = 0
	s.byHash[key.KeyHash] = key
	if err := s.persistLocked(); err != nil {
		return nil, err
	}

	return &CreatedKey{
		ID:        key.ID,
		Name:      key.Name,
		Key:       plaintext,
		Prefix:    key.Prefix,
		CreatedAt: key.CreatedAt,
		ExpiresAt: key.ExpiresAt,
	}, nil
}

// Stats summarizes the key population.
func (s *KeyStore) Stats() KeyStats {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := KeyStats{Total: len(s.byID)}
	for _, k := range s.byID {
		st.TotalUsage += k.UsageCount
		switch {
		case !k.Enabled:
			st.Disabled++
		case k.ExpiresAt != nil && !k.ExpiresAt.After(now):
			st.Expired++
		default:
			st.Active++
		}
	}
	return st
}
