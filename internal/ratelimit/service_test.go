package ratelimit

import (
	"testing"

	gateway "github.com/eugener/radagast/internal"
)

func TestServiceAnonymousPerIP(t *testing.T) {
	t.Parallel()

	s := NewService(Defaults{AnonymousRPM: 2}, nil)
	anon := &gateway.Principal{Role: gateway.RoleAnonymous}

	for i := range 2 {
		if r := s.Allow(anon, "10.0.0.1:1234"); !r.Allowed {
			t.Fatalf("request %d denied", i+1)
		}
	}
	if r := s.Allow(anon, "10.0.0.1:5678"); r.Allowed {
		t.Error("same IP on a new port should share the bucket")
	}
	if r := s.Allow(anon, "10.0.0.2:1234"); !r.Allowed {
		t.Error("different IP should have its own bucket")
	}
}

func TestServiceKeyOverride(t *testing.T) {
	t.Parallel()

	s := NewService(Defaults{KeyRPM: 100}, nil)
	override := int64(1)
	p := &gateway.Principal{
		Authenticated: true,
		Mode:          gateway.ModeGateway,
		GatewayKey:    &gateway.GatewayKey{ID: "k1", RateLimit: &override},
	}

	if r := s.Allow(p, ""); !r.Allowed {
		t.Fatal("first request denied")
	}
	r := s.Allow(p, "")
	if r.Allowed {
		t.Error("override limit of 1 not enforced")
	}
	if r.Limit != 1 {
		t.Errorf("limit = %d, want 1", r.Limit)
	}
}

func TestServiceKeyDefault(t *testing.T) {
	t.Parallel()

	s := NewService(Defaults{KeyRPM: 2}, nil)
	p := &gateway.Principal{
		Authenticated: true,
		Mode:          gateway.ModeGateway,
		GatewayKey:    &gateway.GatewayKey{ID: "k2"},
	}

	s.Allow(p, "")
	s.Allow(p, "")
	if r := s.Allow(p, ""); r.Allowed {
		t.Error("default key limit not enforced")
	}
}

func TestServiceUnlimitedPrincipals(t *testing.T) {
	t.Parallel()

	s := NewService(Defaults{AnonymousRPM: 1, KeyRPM: 1}, nil)

	admin := &gateway.Principal{Role: gateway.RoleAdmin, Authenticated: true, Mode: gateway.ModeSession}
	for range 5 {
		if r := s.Allow(admin, "127.0.0.1:1"); !r.Allowed {
			t.Fatal("admin session should not be limited")
		}
	}

	if s.ForPrincipal(admin, "127.0.0.1:1") != nil {
		t.Error("session principal should have no limiter")
	}
}

func TestServiceAnonymousUnlimitedWhenZero(t *testing.T) {
	t.Parallel()

	s := NewService(Defaults{}, nil)
	anon := &gateway.Principal{}
	for range 10 {
		if r := s.Allow(anon, "1.2.3.4:5"); !r.Allowed {
			t.Fatal("zero default should mean unlimited")
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	if got := clientIP("10.1.2.3:9999"); got != "10.1.2.3" {
		t.Errorf("clientIP = %q", got)
	}
	if got := clientIP("[::1]:80"); got != "::1" {
		t.Errorf("clientIP v6 = %q", got)
	}
	if got := clientIP("no-port"); got != "no-port" {
		t.Errorf("clientIP fallback = %q", got)
	}
}
