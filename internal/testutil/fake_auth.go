package testutil

import (
	"net/http"

	gateway "github.com/eugener/radagast/internal"
)

// FakeAuth authenticates every request as the admin principal.
type FakeAuth struct{}

// Authenticate returns an admin session principal.
func (FakeAuth) Authenticate(*http.Request) (*gateway.Principal, error) {
	return &gateway.Principal{
		Role:          gateway.RoleAdmin,
		Mode:          gateway.ModeSession,
		Authenticated: true,
	}, nil
}

// Embedded reports false.
func (FakeAuth) Embedded() bool { return false }

// AnonAuth authenticates every request as the anonymous principal.
type AnonAuth struct{}

// Authenticate returns the anonymous principal.
func (AnonAuth) Authenticate(*http.Request) (*gateway.Principal, error) {
	return &gateway.Principal{
		Role: gateway.RoleAnonymous,
		Mode: gateway.ModeNone,
	}, nil
}

// Embedded reports false.
func (AnonAuth) Embedded() bool { return false }

// RejectAuth rejects every request.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(*http.Request) (*gateway.Principal, error) {
	return nil, gateway.ErrUnauthorized
}

// Embedded reports false.
func (RejectAuth) Embedded() bool { return false }
