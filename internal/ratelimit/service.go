package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

// Defaults configures limits applied when a principal carries no override.
// Zero values mean unlimited.
type Defaults struct {
	AnonymousRPM int64 // per client IP, unauthenticated requests
	KeyRPM       int64 // per gateway key without an explicit RateLimit
	KeyTPM       int64 // per gateway key, estimated tokens per minute
}

const evictAfter = time.Hour

// Service resolves the effective limiter for a request principal. Gateway
// keys are limited per key ID with per-key overrides; anonymous callers are
// limited per client IP.
type Service struct {
	defaults Defaults
	registry *Registry
	logger   *slog.Logger
}

// NewService creates a Service with the given defaults.
func NewService(defaults Defaults, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		defaults: defaults,
		registry: NewRegistry(),
		logger:   logger,
	}
}

// ForPrincipal returns the limiter governing this principal, or nil when the
// principal is not rate limited (admin sessions, embedded mode, passthrough).
func (s *Service) ForPrincipal(p *gateway.Principal, remoteAddr string) *Limiter {
	if p == nil || !p.Authenticated {
		if s.defaults.AnonymousRPM <= 0 {
			return nil
		}
		return s.registry.GetOrCreate("anon:"+clientIP(remoteAddr), Limits{RPM: s.defaults.AnonymousRPM})
	}
	if p.GatewayKey != nil {
		limits := Limits{RPM: s.defaults.KeyRPM, TPM: s.defaults.KeyTPM}
		if p.GatewayKey.RateLimit != nil {
			limits.RPM = *p.GatewayKey.RateLimit
		}
		return s.registry.GetOrCreate("key:"+p.GatewayKey.ID, limits)
	}
	return nil
}

// Allow consumes one request slot for the principal. A nil limiter allows.
func (s *Service) Allow(p *gateway.Principal, remoteAddr string) Result {
	l := s.ForPrincipal(p, remoteAddr)
	if l == nil {
		return Result{Allowed: true}
	}
	return l.AllowRPM()
}

// Run evicts limiters idle for over an hour, every ten minutes, until ctx is
// cancelled. It implements worker.Worker.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.registry.EvictStale(time.Now().Add(-evictAfter)); n > 0 {
				s.logger.LogAttrs(ctx, slog.LevelDebug, "evicted idle rate limiters",
					slog.Int("count", n))
			}
		}
	}
}

// clientIP strips the port from a RemoteAddr, falling back to the raw value.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
