package sqlite

import (
	"context"
	"strings"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

const defaultQueryLimit = 50

// condition accumulates WHERE clauses with their arguments.
type condition struct {
	clauses []string
	args    []any
}

func (c *condition) add(clause, value string) {
	if value == "" {
		return
	}
	c.clauses = append(c.clauses, clause)
	c.args = append(c.args, value)
}

func (c *condition) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// InsertUsage writes records as one multi-row INSERT, avoiding a round trip
// per record on large batches.
func (s *Store) InsertUsage(ctx context.Context, records []gateway.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	const cols = 13 // must match the column list below
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)
	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		cached := 0
		if r.Cached {
			cached = 1
		}
		args = append(args,
			r.ID, r.KeyID, r.Provider, r.Model,
			r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.CostUSD,
			cached, r.LatencyMs, r.StatusCode,
			r.RequestID, r.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO usage_records
		(id, key_id, provider, model,
		 prompt_tokens, completion_tokens, total_tokens, cost_usd,
		 cached, latency_ms, status_code, request_id, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// SumUsageCost returns the total accumulated cost for a gateway key.
func (s *Store) SumUsageCost(ctx context.Context, keyID string) (float64, error) {
	var total float64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM usage_records WHERE key_id = ?`, keyID,
	).Scan(&total)
	return total, err
}

func usageCondition(f gateway.UsageFilter) *condition {
	c := &condition{}
	c.add("key_id = ?", f.KeyID)
	c.add("provider = ?", f.Provider)
	c.add("model = ?", f.Model)
	c.add("created_at >= ?", f.Since)
	c.add("created_at < ?", f.Until)
	return c
}

// QueryUsage returns usage records matching the filter, newest first.
func (s *Store) QueryUsage(ctx context.Context, f gateway.UsageFilter) ([]gateway.UsageRecord, error) {
	c := usageCondition(f)
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	args := append(c.args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx,
		`SELECT id, key_id, provider, model,
		 prompt_tokens, completion_tokens, total_tokens, cost_usd,
		 cached, latency_ms, status_code, request_id, created_at
		 FROM usage_records`+c.where()+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.UsageRecord
	for rows.Next() {
		var r gateway.UsageRecord
		var cached int
		var createdAt string
		if err := rows.Scan(
			&r.ID, &r.KeyID, &r.Provider, &r.Model,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.CostUSD,
			&cached, &r.LatencyMs, &r.StatusCode,
			&r.RequestID, &createdAt,
		); err != nil {
			return nil, err
		}
		r.Cached = cached != 0
		if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountUsage returns the number of usage records matching the filter.
func (s *Store) CountUsage(ctx context.Context, f gateway.UsageFilter) (int, error) {
	c := usageCondition(f)
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_records`+c.where(), c.args...,
	).Scan(&n)
	return n, err
}

// UpsertRollup merges rollup buckets in one transaction. Conflicting buckets
// accumulate rather than overwrite, so re-rolling a window is safe.
func (s *Store) UpsertRollup(ctx context.Context, rollups []gateway.UsageRollup) error {
	if len(rollups) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO usage_rollups (key_id, provider, model, period, bucket,
		 request_count, prompt_tokens, completion_tokens, total_tokens, cost_usd, cached_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key_id, provider, model, period, bucket) DO UPDATE SET
		 request_count = request_count + excluded.request_count,
		 prompt_tokens = prompt_tokens + excluded.prompt_tokens,
		 completion_tokens = completion_tokens + excluded.completion_tokens,
		 total_tokens = total_tokens + excluded.total_tokens,
		 cost_usd = cost_usd + excluded.cost_usd,
		 cached_count = cached_count + excluded.cached_count`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rollups {
		if _, err := stmt.ExecContext(ctx,
			r.KeyID, r.Provider, r.Model, r.Period, r.Bucket,
			r.RequestCount, r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.CostUSD, r.CachedCount,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// QueryRollups returns rollups matching the filter, newest bucket first.
func (s *Store) QueryRollups(ctx context.Context, f gateway.RollupFilter) ([]gateway.UsageRollup, error) {
	c := &condition{}
	c.add("key_id = ?", f.KeyID)
	c.add("provider = ?", f.Provider)
	c.add("model = ?", f.Model)
	c.add("period = ?", f.Period)
	c.add("bucket >= ?", f.Since)
	c.add("bucket < ?", f.Until)

	rows, err := s.read.QueryContext(ctx,
		`SELECT key_id, provider, model, period, bucket,
		 request_count, prompt_tokens, completion_tokens, total_tokens, cost_usd, cached_count
		 FROM usage_rollups`+c.where()+` ORDER BY bucket DESC`, c.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.UsageRollup
	for rows.Next() {
		var r gateway.UsageRollup
		if err := rows.Scan(&r.KeyID, &r.Provider, &r.Model, &r.Period, &r.Bucket,
			&r.RequestCount, &r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.CostUSD, &r.CachedCount,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
