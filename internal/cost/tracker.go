package cost

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	gateway "github.com/eugener/radagast/internal"
)

// Budget configures soft spend thresholds in USD. Zero disables a threshold.
type Budget struct {
	Warning float64
	Limit   float64
}

// Config bounds the tracker's in-memory record set.
type Config struct {
	MaxRecords int           // cap on retained records; 0 uses DefaultMaxRecords
	Retention  time.Duration // drop records older than this; 0 uses DefaultRetention
	Budget     Budget
}

const (
	DefaultMaxRecords = 10000
	DefaultRetention  = 90 * 24 * time.Hour
)

// Sink receives every tracked record, e.g. for durable persistence.
// Implementations must not block.
type Sink interface {
	Record(rec gateway.CostRecord)
}

// Tracker prices usage events and accumulates spend. Budget callbacks fire
// asynchronously, at most once per threshold crossing.
type Tracker struct {
	logger *slog.Logger
	cfg    Config
	sink   Sink // optional

	onWarning func(total float64)
	onLimit   func(total float64)

	mu           sync.RWMutex
	prices       map[string]Price
	records      []gateway.CostRecord
	warningFired bool
	limitFired   bool
}

// New creates a Tracker seeded with the default price table.
func New(cfg Config, logger *slog.Logger) *Tracker {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	prices := make(map[string]Price, len(defaultPrices))
	for k, v := range defaultPrices {
		prices[k] = v
	}
	return &Tracker{logger: logger, cfg: cfg, prices: prices}
}

// SetSink installs a persistence sink for tracked records.
func (t *Tracker) SetSink(s Sink) { t.sink = s }

// OnWarning registers the budget warning callback.
func (t *Tracker) OnWarning(fn func(total float64)) { t.onWarning = fn }

// OnLimit registers the budget limit callback.
func (t *Tracker) OnLimit(fn func(total float64)) { t.onLimit = fn }

// Track prices a response and appends a record. Responses without usage are
// recorded with zero cost so request counts stay accurate.
func (t *Tracker) Track(resp *gateway.ChatResponse, provider string) gateway.CostRecord {
	rec := gateway.CostRecord{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Provider:  provider,
		Model:     resp.Model,
		Timestamp: time.Now().UTC(),
	}
	if resp.Usage != nil {
		rec.Usage = *resp.Usage
	}

	t.mu.Lock()
	price := t.prices[resp.Model]
	rec.CostUSD = float64(rec.Usage.PromptTokens)/1000*price.InputPer1k +
		float64(rec.Usage.CompletionTokens)/1000*price.OutputPer1k
	t.records = append(t.records, rec)
	t.pruneLocked(time.Now())
	total := t.monthTotalLocked(time.Now().UTC())

	var fire func(total float64)
	switch {
	case t.cfg.Budget.Limit > 0 && total >= t.cfg.Budget.Limit && !t.limitFired:
		t.limitFired = true
		fire = t.onLimit
	case t.cfg.Budget.Warning > 0 && total >= t.cfg.Budget.Warning && !t.warningFired:
		t.warningFired = true
		fire = t.onWarning
	}
	t.mu.Unlock()

	if t.sink != nil {
		t.sink.Record(rec)
	}
	if fire != nil {
		go t.invoke(fire, total)
	}
	return rec
}

// invoke runs a budget callback, recovering panics so tracking never dies
// with a misbehaving callback.
func (t *Tracker) invoke(fn func(float64), total float64) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.LogAttrs(context.Background(), slog.LevelError, "budget callback panicked",
				slog.Any("panic", r))
		}
	}()
	fn(total)
}

// pruneLocked enforces age and count retention. Callers must hold mu.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.cfg.Retention)
	i := 0
	for i < len(t.records) && t.records[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.records = append(t.records[:0:0], t.records[i:]...)
	}
	if n := len(t.records) - t.cfg.MaxRecords; n > 0 {
		t.records = append(t.records[:0:0], t.records[n:]...)
	}
}

// monthTotalLocked sums spend since the start of the current UTC month.
func (t *Tracker) monthTotalLocked(now time.Time) float64 {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	var total float64
	for _, r := range t.records {
		if !r.Timestamp.Before(monthStart) {
			total += r.CostUSD
		}
	}
	return total
}

// CurrentMonthCost returns total spend since the start of the current UTC
// month.
func (t *Tracker) CurrentMonthCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.monthTotalLocked(time.Now().UTC())
}

// BillingLine is one aggregation bucket of a billing report.
type BillingLine struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Date     string  `json:"date"` // UTC day, YYYY-MM-DD
	Requests int     `json:"requests"`
	Tokens   int     `json:"tokens"`
	CostUSD  float64 `json:"costUsd"`
}

// Billing aggregates records in [start, end) by provider, model, and UTC day.
func (t *Tracker) Billing(start, end time.Time) []BillingLine {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type key struct{ provider, model, date string }
	agg := make(map[key]*BillingLine)
	var order []key
	for _, r := range t.records {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		k := key{r.Provider, r.Model, r.Timestamp.UTC().Format("2006-01-02")}
		line, ok := agg[k]
		if !ok {
			line = &BillingLine{Provider: k.provider, Model: k.model, Date: k.date}
			agg[k] = line
			order = append(order, k)
		}
		line.Requests++
		line.Tokens += r.Usage.TotalTokens
		line.CostUSD += r.CostUSD
	}

	out := make([]BillingLine, 0, len(order))
	for _, k := range order {
		out = append(out, *agg[k])
	}
	return out
}

// Records returns a copy of the retained records, newest last.
func (t *Tracker) Records() []gateway.CostRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]gateway.CostRecord, len(t.records))
	copy(out, t.records)
	return out
}

// ResetBudgetFlags clears threshold latches, e.g. at a month rollover.
func (t *Tracker) ResetBudgetFlags() {
	t.mu.Lock()
	t.warningFired = false
	t.limitFired = false
	t.mu.Unlock()
}
