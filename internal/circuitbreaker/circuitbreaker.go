// Package circuitbreaker tracks upstream provider health with a weighted
// sliding-window error rate and short-circuits calls to providers that are
// known to be failing, so failover skips them without paying a timeout.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the breaker state machine position.
type State int

const (
	// StateClosed passes all traffic.
	StateClosed State = iota
	// StateOpen rejects all traffic until the open timeout elapses.
	StateOpen
	// StateHalfOpen admits one probe request to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Config holds breaker tuning parameters shared by all providers.
type Config struct {
	ErrorThreshold float64       // weighted error rate that trips the breaker
	MinSamples     int           // samples required before the rate is trusted
	WindowSeconds  int           // sliding window length, capped at 60
	OpenTimeout    time.Duration // how long an open breaker waits before probing
}

// DefaultConfig returns the tuning used when no override is configured.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 0.30,
		MinSamples:     10,
		WindowSeconds:  60,
		OpenTimeout:    30 * time.Second,
	}
}

const maxSlots = 60

// slot accumulates outcomes for one second of traffic.
type slot struct {
	weighted float64
	total    int
}

// window is a ring of per-second slots. The backing array is fixed-size so a
// breaker never allocates after construction.
type window struct {
	slots    [maxSlots]slot
	span     int   // active slot count
	head     int   // slot receiving current-second traffic
	headUnix int64 // unix second the head slot belongs to
}

func newWindow(seconds int) window {
	if seconds <= 0 || seconds > maxSlots {
		seconds = maxSlots
	}
	return window{span: seconds}
}

// rotate expires slots older than the window and repositions the head at now.
func (w *window) rotate(nowUnix int64) {
	if w.headUnix == 0 {
		w.headUnix = nowUnix
		return
	}
	elapsed := nowUnix - w.headUnix
	if elapsed <= 0 {
		return
	}
	stale := min(int(elapsed), w.span)
	for i := 1; i <= stale; i++ {
		w.slots[(w.head+i)%w.span] = slot{}
	}
	w.head = (w.head + int(elapsed)) % w.span
	w.headUnix = nowUnix
}

// observe records one call outcome. Weight 0 counts as success.
func (w *window) observe(weight float64, now time.Time) {
	w.rotate(now.Unix())
	w.slots[w.head].total++
	w.slots[w.head].weighted += weight
}

// errorRate reports the weighted error rate and sample count in the window.
func (w *window) errorRate(now time.Time) (rate float64, samples int) {
	w.rotate(now.Unix())
	var weighted float64
	for i := 0; i < w.span; i++ {
		weighted += w.slots[i].weighted
		samples += w.slots[i].total
	}
	if samples == 0 {
		return 0, 0
	}
	return weighted / float64(samples), samples
}

func (w *window) reset() {
	for i := 0; i < w.span; i++ {
		w.slots[i] = slot{}
	}
	w.head = 0
	w.headUnix = 0
}

// Breaker guards a single provider.
type Breaker struct {
	mu       sync.Mutex
	state    State
	win      window
	openedAt time.Time
	lastUsed time.Time
	probing  bool
	cfg      Config
}

// NewBreaker creates a closed breaker with the given tuning.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{
		win:      newWindow(cfg.WindowSeconds),
		cfg:      cfg,
		lastUsed: time.Now(),
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. An open breaker whose timeout has
// elapsed moves to half-open and admits the caller as the probe; a half-open
// breaker admits at most one probe at a time.
func (b *Breaker) Allow() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess records a successful call. A successful half-open probe
// closes the breaker and clears its history.
func (b *Breaker) RecordSuccess() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now
	b.win.observe(0, now)

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.probing = false
		b.win.reset()
	}
}

// RecordError records a failed call with the given severity weight. A closed
// breaker opens once the windowed rate crosses the threshold with enough
// samples; a failed half-open probe reopens immediately.
func (b *Breaker) RecordError(weight float64) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now
	b.win.observe(weight, now)

	switch b.state {
	case StateClosed:
		rate, samples := b.win.errorRate(now)
		if samples >= b.cfg.MinSamples && rate >= b.cfg.ErrorThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.probing = false
	}
}

// LastUsed returns the time of the breaker's most recent activity.
func (b *Breaker) LastUsed() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUsed
}
