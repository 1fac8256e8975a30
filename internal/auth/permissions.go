package auth

import (
	"strings"

	gateway "github.com/eugener/radagast/internal"
)

// Access levels for HTTP routes.
const (
	AccessPublic = "public" // no authentication required
	AccessAuth   = "auth"   // any authenticated principal
	AccessAdmin  = "admin"  // admin role only
)

// routeRule maps a method+path pattern to an access level. Pattern segments
// beginning with ':' match any single segment.
type routeRule struct {
	method  string
	pattern string
	access  string
}

// routeRules is ordered most-specific first; the matcher prefers an exact
// pattern match, then the longest matching pattern.
var routeRules = []routeRule{
	{"GET", "/health", AccessPublic},
	{"GET", "/metrics", AccessPublic},
	{"POST", "/internal/auth/login", AccessPublic},
	{"GET", "/internal/auth/status", AccessPublic},
	{"POST", "/internal/auth/logout", AccessAuth},
	{"POST", "/internal/auth/change-password", AccessAdmin},
	{"GET", "/internal/auth/me", AccessAuth},

	// Anonymous chat is allowed; the rate limiter throttles it per IP.
	{"GET", "/v1/models", AccessPublic},
	{"POST", "/v1/chat/completions", AccessPublic},

	{"GET", "/internal/gateway-keys", AccessAdmin},
	{"POST", "/internal/gateway-keys", AccessAdmin},
	{"GET", "/internal/gateway-keys/stats", AccessAdmin},
	{"GET", "/internal/gateway-keys/:id", AccessAdmin},
	{"PUT", "/internal/gateway-keys/:id", AccessAdmin},
	{"PATCH", "/internal/gateway-keys/:id", AccessAdmin},
	{"DELETE", "/internal/gateway-keys/:id", AccessAdmin},
	{"POST", "/internal/gateway-keys/:id/disable", AccessAdmin},
	{"POST", "/internal/gateway-keys/:id/enable", AccessAdmin},
	{"POST", "/internal/gateway-keys/:id/regenerate", AccessAdmin},

	{"GET", "/internal/providers", AccessAdmin},
	{"POST", "/internal/providers", AccessAdmin},
	{"POST", "/internal/providers/:name/validate", AccessAdmin},
	{"POST", "/internal/providers/:name/key", AccessAdmin},
	{"PUT", "/internal/providers/:name/key", AccessAdmin},
	{"DELETE", "/internal/providers/:name/key", AccessAdmin},
	{"GET", "/internal/stats", AccessAdmin},

	// Collaborator chat surface rides the same pipeline as /v1 but stays
	// admin-gated.
	{"POST", "/internal/chat", AccessAdmin},
	{"POST", "/internal/chat/stream", AccessAdmin},
}

// RequiredAccess returns the access level for a method+path. Unknown routes
// default to admin-only so new endpoints fail closed.
func RequiredAccess(method, path string) string {
	var best *routeRule
	bestLen := -1
	for i := range routeRules {
		r := &routeRules[i]
		if r.method != method || !matchPattern(r.pattern, path) {
			continue
		}
		if r.pattern == path {
			return r.access
		}
		if len(r.pattern) > bestLen {
			best = r
			bestLen = len(r.pattern)
		}
	}
	if best != nil {
		return best.access
	}
	return AccessAdmin
}

// Allowed reports whether the principal may access the route.
func Allowed(p *gateway.Principal, method, path string) bool {
	switch RequiredAccess(method, path) {
	case AccessPublic:
		return true
	case AccessAuth:
		return p != nil && p.Authenticated
	default:
		return p != nil && p.Authenticated && p.Role == gateway.RoleAdmin
	}
}

func matchPattern(pattern, path string) bool {
	if pattern == path {
		return true
	}
	ps := strings.Split(pattern, "/")
	xs := strings.Split(path, "/")
	if len(ps) != len(xs) {
		return false
	}
	for i := range ps {
		if strings.HasPrefix(ps[i], ":") {
			if xs[i] == "" {
				return false
			}
			continue
		}
		if ps[i] != xs[i] {
			return false
		}
	}
	return true
}
