package worker

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

const (
	rollupInterval = 5 * time.Minute
	// rollupLookback covers late-arriving records from the previous hour.
	rollupLookback = 2 * time.Hour
	rollupMaxRows  = 10_000
)

// RollupStore is the persistence interface consumed by UsageRollupWorker.
type RollupStore interface {
	QueryUsage(ctx context.Context, filter gateway.UsageFilter) ([]gateway.UsageRecord, error)
	UpsertRollup(ctx context.Context, rollups []gateway.UsageRollup) error
}

// UsageRollupWorker folds raw usage records into hourly per-key, per-model
// buckets so billing queries never scan the raw table.
type UsageRollupWorker struct {
	store RollupStore
}

// NewUsageRollupWorker creates a rollup worker.
func NewUsageRollupWorker(store RollupStore) *UsageRollupWorker {
	return &UsageRollupWorker{store: store}
}

// Name returns the worker identifier.
func (w *UsageRollupWorker) Name() string { return "usage_rollup" }

// Run re-aggregates the recent window on every tick until ctx is cancelled.
func (w *UsageRollupWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(rollupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.rollup(ctx)
		}
	}
}

func (w *UsageRollupWorker) rollup(ctx context.Context) {
	now := time.Now().UTC()
	records, err := w.store.QueryUsage(ctx, gateway.UsageFilter{
		Since: now.Add(-rollupLookback).Truncate(time.Hour).Format(time.RFC3339),
		Until: now.Truncate(time.Hour).Format(time.RFC3339),
		Limit: rollupMaxRows,
	})
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "rollup query failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(records) == 0 {
		return
	}

	rollups := aggregateHourly(records)
	if err := w.store.UpsertRollup(ctx, rollups); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "rollup upsert failed",
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Info("usage rollup completed", "rollups", len(rollups), "records", len(records))
}

// aggregateHourly groups records by (key, provider, model, hour bucket) and
// sums their counters.
func aggregateHourly(records []gateway.UsageRecord) []gateway.UsageRollup {
	type groupKey struct {
		keyID    string
		provider string
		model    string
		bucket   string
	}
	groups := make(map[groupKey]*gateway.UsageRollup)
	for _, r := range records {
		k := groupKey{
			keyID:    r.KeyID,
			provider: r.Provider,
			model:    r.Model,
			bucket:   r.CreatedAt.UTC().Truncate(time.Hour).Format(time.RFC3339),
		}
		g, ok := groups[k]
		if !ok {
			g = &gateway.UsageRollup{
				KeyID:    k.keyID,
				Provider: k.provider,
				Model:    k.model,
				Period:   "hourly",
				Bucket:   k.bucket,
			}
			groups[k] = g
		}
		g.RequestCount++
		g.PromptTokens += int64(r.PromptTokens)
		g.CompletionTokens += int64(r.CompletionTokens)
		g.TotalTokens += int64(r.TotalTokens)
		g.CostUSD += r.CostUSD
		if r.Cached {
			g.CachedCount++
		}
	}

	out := make([]gateway.UsageRollup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	return out
}
