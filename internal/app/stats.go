package app

import (
	"sync/atomic"
	"time"

	"github.com/eugener/radagast/internal/cache"
	"github.com/eugener/radagast/internal/cost"
	"github.com/eugener/radagast/internal/provider"
	"github.com/eugener/radagast/internal/queue"
)

// StatsService aggregates gateway-wide counters and collaborator snapshots
// for the health and stats endpoints.
type StatsService struct {
	started time.Time
	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64

	providers *provider.Registry
	queues    *queue.Manager
	cache     cache.Cache // nil when caching is disabled
	tracker   *cost.Tracker
}

// NewStatsService creates a StatsService. All collaborators may be nil.
func NewStatsService(providers *provider.Registry, queues *queue.Manager, c cache.Cache, tracker *cost.Tracker) *StatsService {
	return &StatsService{
		started:   time.Now(),
		providers: providers,
		queues:    queues,
		cache:     c,
		tracker:   tracker,
	}
}

// RecordRequest counts one finished HTTP request.
func (s *StatsService) RecordRequest(status int) {
	s.total.Add(1)
	if status >= 200 && status < 400 {
		s.success.Add(1)
	} else {
		s.failed.Add(1)
	}
}

// RequestCounts is the request counter block of the health payload.
type RequestCounts struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

// Health is the /health response body.
type Health struct {
	Status   string        `json:"status"`
	Uptime   string        `json:"uptime"`
	Requests RequestCounts `json:"requests"`
}

// Health returns the health payload.
func (s *StatsService) Health() Health {
	return Health{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Requests: RequestCounts{
			Total:   s.total.Load(),
			Success: s.success.Load(),
			Failed:  s.failed.Load(),
		},
	}
}

// Snapshot is the full /internal/stats payload.
type Snapshot struct {
	Uptime       string        `json:"uptime"`
	Requests     RequestCounts `json:"requests"`
	Providers    []string      `json:"providers,omitempty"`
	Queues       []queue.Stats `json:"queues,omitempty"`
	Cache        *cache.Stats  `json:"cache,omitempty"`
	MonthCostUSD float64       `json:"monthCostUsd"`
}

// Snapshot collects the current gateway state.
func (s *StatsService) Snapshot() Snapshot {
	snap := Snapshot{
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Requests: RequestCounts{
			Total:   s.total.Load(),
			Success: s.success.Load(),
			Failed:  s.failed.Load(),
		},
	}
	if s.providers != nil {
		snap.Providers = s.providers.List()
	}
	if s.queues != nil {
		snap.Queues = s.queues.Stats()
	}
	if s.cache != nil {
		cs := s.cache.Stats()
		snap.Cache = &cs
	}
	if s.tracker != nil {
		snap.MonthCostUSD = s.tracker.CurrentMonthCost()
	}
	return snap
}
