package ratelimit

import (
	"context"
	"sync"
)

// QuotaStore provides aggregated usage cost for quota sync, normally backed
// by the usage-record store.
type QuotaStore interface {
	SumUsageCost(ctx context.Context, keyID string) (float64, error)
}

// budgetEntry tracks cumulative spend for a single gateway key.
type budgetEntry struct {
	limit    float64
	consumed float64
}

// QuotaTracker enforces cumulative spend budgets per gateway key. Limits
// come from the key's BudgetUSD field; consumed amounts accumulate in memory
// and are periodically re-synced from durable usage records.
type QuotaTracker struct {
	mu      sync.Mutex
	budgets map[string]*budgetEntry
}

// NewQuotaTracker creates an empty tracker.
func NewQuotaTracker() *QuotaTracker {
	return &QuotaTracker{budgets: make(map[string]*budgetEntry)}
}

// entryLocked returns the entry for keyID, creating it if absent. Callers
// hold q.mu.
func (q *QuotaTracker) entryLocked(keyID string) *budgetEntry {
	e, ok := q.budgets[keyID]
	if !ok {
		e = &budgetEntry{}
		q.budgets[keyID] = e
	}
	return e
}

// Check reports whether keyID is still under limit. A limit of zero means
// unlimited. The limit is refreshed on every check so key updates take
// effect without restart.
func (q *QuotaTracker) Check(keyID string, limit float64) bool {
	if limit <= 0 {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.entryLocked(keyID)
	e.limit = limit
	return e.consumed < limit
}

// Consume adds costUSD to the key's accumulated spend.
func (q *QuotaTracker) Consume(keyID string, costUSD float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entryLocked(keyID).consumed += costUSD
}

// Preload seeds an entry for a key so SyncAll covers it from the start.
// Existing entries are left untouched.
func (q *QuotaTracker) Preload(keyID string, limit float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.budgets[keyID]; !ok {
		q.budgets[keyID] = &budgetEntry{limit: limit}
	}
}

// Sync replaces a key's consumed amount with the durable total from store.
func (q *QuotaTracker) Sync(ctx context.Context, store QuotaStore, keyID string) error {
	total, err := store.SumUsageCost(ctx, keyID)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entryLocked(keyID).consumed = total
	return nil
}

// SyncAll re-syncs every tracked key from store.
func (q *QuotaTracker) SyncAll(ctx context.Context, store QuotaStore) error {
	q.mu.Lock()
	keys := make([]string, 0, len(q.budgets))
	for k := range q.budgets {
		keys = append(keys, k)
	}
	q.mu.Unlock()

	for _, k := range keys {
		if err := q.Sync(ctx, store, k); err != nil {
			return err
		}
	}
	return nil
}
