package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter/v2"
)

// entry carries its own deadline so callers can set per-entry TTLs shorter
// than the cache-wide expiry otter enforces.
type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is an in-memory response cache on otter's W-TinyLFU policy.
type Memory struct {
	cache  *otter.Cache[string, entry]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemory creates a cache holding at most maxSize entries. defaultTTL
// bounds entry lifetime at the otter layer; Set may shorten it per entry.
func NewMemory(maxSize int, defaultTTL time.Duration) (*Memory, error) {
	c, err := otter.New[string, entry](&otter.Options[string, entry]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, entry](defaultTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{cache: c}, nil
}

// Get returns the cached value for key, dropping entries past their
// per-entry deadline on read.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	e, ok := m.cache.GetIfPresent(key)
	switch {
	case !ok:
	case time.Now().After(e.expiresAt):
		m.cache.Invalidate(key)
		ok = false
	}
	if !ok {
		m.misses.Add(1)
		return nil, false
	}
	m.hits.Add(1)
	return e.data, true
}

// Set stores val under key with its own TTL.
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	m.cache.Set(key, entry{data: val, expiresAt: time.Now().Add(ttl)})
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) {
	m.cache.Invalidate(key)
}

// Purge drops every entry.
func (m *Memory) Purge(_ context.Context) {
	m.cache.InvalidateAll()
}

// Stats reports hit and miss counters since startup.
func (m *Memory) Stats() Stats {
	hits := m.hits.Load()
	misses := m.misses.Load()
	s := Stats{Hits: hits, Misses: misses, Size: int(m.cache.EstimatedSize())}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
