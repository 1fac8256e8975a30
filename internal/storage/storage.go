// Package storage defines persistence interfaces for the gateway's usage
// audit trail. Credentials and gateway keys persist as JSON documents in the
// auth package; provider wiring comes from configuration.
package storage

import (
	"context"

	gateway "github.com/eugener/radagast/internal"
)

// UsageStore manages usage record persistence.
type UsageStore interface {
	InsertUsage(ctx context.Context, records []gateway.UsageRecord) error
	SumUsageCost(ctx context.Context, keyID string) (float64, error)
	QueryUsage(ctx context.Context, f gateway.UsageFilter) ([]gateway.UsageRecord, error)
	CountUsage(ctx context.Context, f gateway.UsageFilter) (int, error)
}

// RollupStore manages pre-aggregated usage buckets.
type RollupStore interface {
	UpsertRollup(ctx context.Context, rollups []gateway.UsageRollup) error
	QueryRollups(ctx context.Context, f gateway.RollupFilter) ([]gateway.UsageRollup, error)
}

// Store combines all storage interfaces.
type Store interface {
	UsageStore
	RollupStore
	Ping(ctx context.Context) error
	Close() error
}
