package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	gateway "github.com/eugener/radagast/internal"
)

const (
	usageChanSize   = 1000
	usageBatchSize  = 100
	usageFlushEvery = 5 * time.Second
	usageDrainTime  = 30 * time.Second
)

// UsageStore is the persistence interface consumed by UsageRecorder.
type UsageStore interface {
	InsertUsage(ctx context.Context, records []gateway.UsageRecord) error
}

// UsageRecorder decouples the request path from usage persistence. Record
// never blocks: records queue onto a channel and a background loop batches
// them into the store. When the channel is full the record is dropped.
type UsageRecorder struct {
	ch    chan gateway.UsageRecord
	store UsageStore
}

// NewUsageRecorder creates a UsageRecorder backed by store.
func NewUsageRecorder(store UsageStore) *UsageRecorder {
	return &UsageRecorder{
		ch:    make(chan gateway.UsageRecord, usageChanSize),
		store: store,
	}
}

// Name returns the worker identifier.
func (u *UsageRecorder) Name() string { return "usage_recorder" }

// Record enqueues a usage record without blocking the caller.
func (u *UsageRecorder) Record(r gateway.UsageRecord) {
	select {
	case u.ch <- r:
	default:
		slog.Warn("usage record dropped, channel full")
	}
}

// Run batches incoming records until ctx is cancelled, flushing either when
// a batch fills or on the flush ticker. Shutdown drains whatever remains.
func (u *UsageRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(usageFlushEvery)
	defer ticker.Stop()

	batch := make([]gateway.UsageRecord, 0, usageBatchSize)
	for {
		select {
		case r := <-u.ch:
			batch = append(batch, r)
			if len(batch) >= usageBatchSize {
				batch = u.flush(ctx, batch)
			}

		case <-ticker.C:
			batch = u.flush(ctx, batch)

		case <-ctx.Done():
			u.drain(batch)
			return nil
		}
	}
}

// drain empties the channel and flushes under a fresh timeout, since the
// run context is already cancelled.
func (u *UsageRecorder) drain(batch []gateway.UsageRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), usageDrainTime)
	defer cancel()

	for {
		select {
		case r := <-u.ch:
			batch = append(batch, r)
			if len(batch) >= usageBatchSize {
				batch = u.flush(ctx, batch)
			}
		default:
			u.flush(ctx, batch)
			return
		}
	}
}

// flush writes the batch and returns the slice truncated for reuse. Records
// arrive without IDs; they are assigned here, off the request path.
func (u *UsageRecorder) flush(ctx context.Context, batch []gateway.UsageRecord) []gateway.UsageRecord {
	if len(batch) == 0 {
		return batch
	}
	out := make([]gateway.UsageRecord, len(batch))
	copy(out, batch)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := u.store.InsertUsage(ctx, out); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "usage flush failed",
			slog.Int("count", len(out)),
			slog.String("error", err.Error()),
		)
	}
	return batch[:0]
}
