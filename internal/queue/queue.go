// Package queue implements bounded per-provider request queues with priority
// ordering, sliding-window rate admission, and a concurrency cap.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

// Handler executes one admitted request.
type Handler func(ctx context.Context) (*gateway.ChatResponse, error)

// Result resolves an enqueued request.
type Result struct {
	Resp *gateway.ChatResponse
	Err  error
}

// Config bounds a single provider queue.
type Config struct {
	MaxQueueSize  int           // pending capacity; 0 uses DefaultMaxQueueSize
	MaxConcurrent int           // in-flight cap; 0 uses DefaultMaxConcurrent
	RateLimit     int           // admissions per RateWindow; 0 = unlimited
	RateWindow    time.Duration // sliding window; 0 uses DefaultRateWindow
	ExecTimeout   time.Duration // per-request execution budget; 0 uses DefaultExecTimeout
}

const (
	DefaultMaxQueueSize  = 100
	DefaultMaxConcurrent = 5
	DefaultRateWindow    = time.Minute
	DefaultExecTimeout   = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.RateWindow <= 0 {
		c.RateWindow = DefaultRateWindow
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = DefaultExecTimeout
	}
	return c
}

type item struct {
	priority int
	ctx      context.Context
	fn       Handler
	done     chan Result   // buffered, capacity 1
	removed  chan struct{} // closed when the item leaves pending
}

// Queue is a bounded priority queue for one provider. All admission state is
// guarded by mu; executors run in their own goroutines and re-trigger
// admission on completion.
type Queue struct {
	provider string
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	pending []*item
	active  int
	stamps  []time.Time // admission timestamps inside the rate window
	paused  bool
	closed  bool
}

// New creates a queue for the named provider.
func New(provider string, cfg Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		provider: provider,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Enqueue adds a request and returns a channel that resolves exactly once.
// Higher priority values admit first; equal priorities admit in arrival
// order. Returns ErrQueueFull when pending capacity is exhausted.
func (q *Queue) Enqueue(ctx context.Context, priority int, fn Handler) (<-chan Result, error) {
	it := &item{
		priority: priority,
		ctx:      ctx,
		fn:       fn,
		done:     make(chan Result, 1),
		removed:  make(chan struct{}),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, gateway.ErrQueueCleared
	}
	if len(q.pending) >= q.cfg.MaxQueueSize {
		return nil, gateway.ErrQueueFull
	}

	// Insert keeping priorities non-increasing; equal priorities keep FIFO.
	pos := len(q.pending)
	for pos > 0 && q.pending[pos-1].priority < priority {
		pos--
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[pos+1:], q.pending[pos:])
	q.pending[pos] = it

	if ctx.Done() != nil {
		go q.watch(it)
	}
	q.admitLocked()
	return it.done, nil
}

// watch resolves a pending item whose context is canceled before admission,
// freeing its queue slot without burning a rate-window stamp.
func (q *Queue) watch(it *item) {
	select {
	case <-it.removed:
	case <-it.ctx.Done():
		q.mu.Lock()
		dropped := q.dropLocked(it)
		q.mu.Unlock()
		if dropped {
			it.done <- Result{Err: gateway.ErrCanceled}
		}
	}
}

// dropLocked removes a still-pending item. Whoever removes an item from
// pending owns resolving its done channel. Callers must hold mu.
func (q *Queue) dropLocked(it *item) bool {
	for i, p := range q.pending {
		if p == it {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			close(it.removed)
			return true
		}
	}
	return false
}

// admitLocked pops and launches pending items while the concurrency cap and
// rate window allow. Callers must hold mu.
func (q *Queue) admitLocked() {
	now := time.Now()
	for !q.paused && q.active < q.cfg.MaxConcurrent && len(q.pending) > 0 && q.canAdmitLocked(now) {
		it := q.pending[0]
		q.pending = q.pending[1:]
		close(it.removed)
		if it.ctx.Err() != nil {
			// Canceled while pending; resolve without a stamp.
			it.done <- Result{Err: gateway.ErrCanceled}
			continue
		}
		q.active++
		if q.cfg.RateLimit > 0 {
			q.stamps = append(q.stamps, now)
		}
		go q.run(it)
	}
}

// canAdmitLocked prunes timestamps older than the window and checks the
// admission budget.
func (q *Queue) canAdmitLocked(now time.Time) bool {
	if q.cfg.RateLimit <= 0 {
		return true
	}
	cutoff := now.Add(-q.cfg.RateWindow)
	i := 0
	for i < len(q.stamps) && !q.stamps[i].After(cutoff) {
		i++
	}
	q.stamps = q.stamps[i:]
	return len(q.stamps) < q.cfg.RateLimit
}

// run executes one item against the execution timeout and resolves its
// result channel.
func (q *Queue) run(it *item) {
	defer func() {
		q.mu.Lock()
		q.active--
		q.admitLocked()
		q.mu.Unlock()
	}()

	if err := it.ctx.Err(); err != nil {
		it.done <- Result{Err: gateway.ErrCanceled}
		return
	}

	ctx, cancel := context.WithTimeout(it.ctx, q.cfg.ExecTimeout)
	defer cancel()

	resp, err := it.fn(ctx)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded) && it.ctx.Err() == nil:
			err = gateway.ErrTimeout
		case errors.Is(err, context.Canceled):
			err = gateway.ErrCanceled
		}
		it.done <- Result{Err: err}
		return
	}
	it.done <- Result{Resp: resp}
}

// Pause stops admissions; in-flight requests finish normally.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	q.logger.LogAttrs(context.Background(), slog.LevelInfo, "queue paused",
		slog.String("provider", q.provider))
}

// Resume re-enables admissions and drains what the budget allows.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.admitLocked()
	q.mu.Unlock()
	q.logger.LogAttrs(context.Background(), slog.LevelInfo, "queue resumed",
		slog.String("provider", q.provider))
}

// Clear rejects all pending requests with ErrQueueCleared.
func (q *Queue) Clear() int {
	q.mu.Lock()
	cleared := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, it := range cleared {
		close(it.removed)
		it.done <- Result{Err: gateway.ErrQueueCleared}
	}
	if len(cleared) > 0 {
		q.logger.LogAttrs(context.Background(), slog.LevelInfo, "queue cleared",
			slog.String("provider", q.provider),
			slog.Int("rejected", len(cleared)))
	}
	return len(cleared)
}

// Close clears pending work and rejects future enqueues.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Clear()
}

// Stats is a point-in-time snapshot of queue state.
type Stats struct {
	Provider      string `json:"provider"`
	Pending       int    `json:"pending"`
	Active        int    `json:"active"`
	Paused        bool   `json:"paused"`
	MaxConcurrent int    `json:"maxConcurrent"`
	MaxQueueSize  int    `json:"maxQueueSize"`
	RateLimit     int    `json:"rateLimit"`
	WindowUsed    int    `json:"windowUsed"`
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.canAdmitLocked(time.Now()) // prune stale stamps
	return Stats{
		Provider:      q.provider,
		Pending:       len(q.pending),
		Active:        q.active,
		Paused:        q.paused,
		MaxConcurrent: q.cfg.MaxConcurrent,
		MaxQueueSize:  q.cfg.MaxQueueSize,
		RateLimit:     q.cfg.RateLimit,
		WindowUsed:    len(q.stamps),
	}
}
