package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/eugener/radagast/internal/ratelimit"
)

const quotaSyncInterval = 60 * time.Second

// QuotaSyncWorker keeps in-memory spend counters honest by reloading them
// from durable usage records. Without it, a gateway restart would forget
// everything a key has spent.
type QuotaSyncWorker struct {
	tracker *ratelimit.QuotaTracker
	store   ratelimit.QuotaStore
}

// NewQuotaSyncWorker creates a QuotaSyncWorker.
func NewQuotaSyncWorker(tracker *ratelimit.QuotaTracker, store ratelimit.QuotaStore) *QuotaSyncWorker {
	return &QuotaSyncWorker{tracker: tracker, store: store}
}

// Name returns the worker identifier.
func (w *QuotaSyncWorker) Name() string { return "quota_sync" }

// Run syncs once at startup, then on every tick until ctx is cancelled.
func (w *QuotaSyncWorker) Run(ctx context.Context) error {
	w.sync(ctx)

	ticker := time.NewTicker(quotaSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sync(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *QuotaSyncWorker) sync(ctx context.Context) {
	if err := w.tracker.SyncAll(ctx, w.store); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "quota sync failed",
			slog.String("error", err.Error()),
		)
	}
}
