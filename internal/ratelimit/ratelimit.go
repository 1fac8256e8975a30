// Package ratelimit throttles the public chat surface: request-per-minute
// and token-per-minute buckets keyed per gateway key or per anonymous client
// IP, plus cumulative spend quotas for gateway keys.
package ratelimit

import (
	"sync"
	"time"
)

// Limits is the effective RPM/TPM pair for one key. Zero means unlimited.
type Limits struct {
	RPM int64
	TPM int64
}

// Result reports the outcome of a limit check.
type Result struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	RetryAfterSeconds float64
}

// bucket refills lazily on access instead of running a timer goroutine:
// elapsed time since the last touch converts directly into tokens.
type bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(perMinute int64) *bucket {
	return &bucket{
		tokens:   float64(perMinute),
		max:      float64(perMinute),
		rate:     float64(perMinute) / 60.0,
		lastFill: time.Now(),
	}
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

// take consumes n tokens, reporting the denial with a retry hint when the
// bucket cannot cover it.
func (b *bucket) take(n float64, limit int64, now time.Time) Result {
	b.refill(now)
	if b.tokens >= n {
		b.tokens -= n
		return Result{Allowed: true, Limit: limit, Remaining: int64(b.tokens)}
	}
	return Result{
		Allowed:           false,
		Limit:             limit,
		RetryAfterSeconds: (n - b.tokens) / b.rate,
	}
}

// adjust corrects the balance after the fact, clamped to [0, max].
func (b *bucket) adjust(delta float64) {
	b.tokens = min(b.max, max(0, b.tokens+delta))
}

// Limiter pairs an RPM bucket with a TPM bucket for a single key. A nil
// bucket means that dimension is unlimited.
type Limiter struct {
	mu       sync.Mutex
	rpm      *bucket
	tpm      *bucket
	limits   Limits
	lastUsed time.Time
}

func newLimiter(limits Limits) *Limiter {
	l := &Limiter{limits: limits, lastUsed: time.Now()}
	if limits.RPM > 0 {
		l.rpm = newBucket(limits.RPM)
	}
	if limits.TPM > 0 {
		l.tpm = newBucket(limits.TPM)
	}
	return l
}

// AllowRPM consumes one request slot.
func (l *Limiter) AllowRPM() Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.lastUsed = now
	if l.rpm == nil {
		return Result{Allowed: true}
	}
	return l.rpm.take(1, l.limits.RPM, now)
}

// ConsumeTPM consumes the estimated token count for a request.
func (l *Limiter) ConsumeTPM(estimated int64) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.lastUsed = now
	if l.tpm == nil {
		return Result{Allowed: true}
	}
	return l.tpm.take(float64(estimated), l.limits.TPM, now)
}

// AdjustTPM reconciles the token bucket once actual usage is known:
// positive delta refunds an overestimate, negative charges the shortfall.
func (l *Limiter) AdjustTPM(delta int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tpm != nil {
		l.tpm.adjust(float64(delta))
	}
}

// RPMResult reports the current RPM state without consuming anything.
func (l *Limiter) RPMResult() Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rpm == nil {
		return Result{Allowed: true}
	}
	l.rpm.refill(time.Now())
	return Result{Allowed: true, Limit: l.limits.RPM, Remaining: int64(l.rpm.tokens)}
}

// Registry holds one Limiter per key.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry creates an empty limiter registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// GetOrCreate returns the limiter for keyID. A limiter whose limits no
// longer match (the key was updated) is replaced with a fresh one.
func (r *Registry) GetOrCreate(keyID string, limits Limits) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[keyID]
	r.mu.RUnlock()
	if ok && l.limits == limits {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[keyID]; ok && l.limits == limits {
		return l
	}
	l = newLimiter(limits)
	r.limiters[keyID] = l
	return l
}

// EvictStale drops limiters idle since cutoff and returns the count removed.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for keyID, l := range r.limiters {
		l.mu.Lock()
		idle := l.lastUsed.Before(cutoff)
		l.mu.Unlock()
		if idle {
			delete(r.limiters, keyID)
			evicted++
		}
	}
	return evicted
}
