package testutil

import (
	"context"
	"sync"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/storage"
)

var _ storage.Store = (*FakeStore)(nil)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu      sync.RWMutex
	records []gateway.UsageRecord
	rollups []gateway.UsageRollup
}

// NewFakeStore returns an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

// InsertUsage appends the records.
func (s *FakeStore) InsertUsage(_ context.Context, records []gateway.UsageRecord) error {
	s.mu.Lock()
	s.records = append(s.records, records...)
	s.mu.Unlock()
	return nil
}

// SumUsageCost totals stored cost for a key.
func (s *FakeStore) SumUsageCost(_ context.Context, keyID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for _, r := range s.records {
		if r.KeyID == keyID {
			total += r.CostUSD
		}
	}
	return total, nil
}

// QueryUsage returns stored records matching the filter's key, provider, and
// model fields. Time-range and pagination fields are ignored.
func (s *FakeStore) QueryUsage(_ context.Context, f gateway.UsageFilter) ([]gateway.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []gateway.UsageRecord
	for _, r := range s.records {
		if f.KeyID != "" && r.KeyID != f.KeyID {
			continue
		}
		if f.Provider != "" && r.Provider != f.Provider {
			continue
		}
		if f.Model != "" && r.Model != f.Model {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// CountUsage counts records matching the filter.
func (s *FakeStore) CountUsage(ctx context.Context, f gateway.UsageFilter) (int, error) {
	recs, err := s.QueryUsage(ctx, f)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// UpsertRollup appends the rollups without merging.
func (s *FakeStore) UpsertRollup(_ context.Context, rollups []gateway.UsageRollup) error {
	s.mu.Lock()
	s.rollups = append(s.rollups, rollups...)
	s.mu.Unlock()
	return nil
}

// QueryRollups returns all stored rollups.
func (s *FakeStore) QueryRollups(_ context.Context, _ gateway.RollupFilter) ([]gateway.UsageRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.UsageRollup, len(s.rollups))
	copy(out, s.rollups)
	return out, nil
}

// Records returns a copy of all inserted usage records.
func (s *FakeStore) Records() []gateway.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.UsageRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Ping reports healthy.
func (s *FakeStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
