// Package server implements the HTTP transport layer for the Radagast gateway.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/app"
	"github.com/eugener/radagast/internal/auth"
	"github.com/eugener/radagast/internal/provider"
	"github.com/eugener/radagast/internal/ratelimit"
	"github.com/eugener/radagast/internal/storage"
	"github.com/eugener/radagast/internal/telemetry"
)

// Authenticator derives the request principal from HTTP credentials.
type Authenticator interface {
	Authenticate(r *http.Request) (*gateway.Principal, error)
	Embedded() bool
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth        Authenticator
	Pipeline    *app.Pipeline
	Providers   *provider.Registry
	ProviderKey *app.KeyManager       // nil = key rotation endpoints 404
	Stats       *app.StatsService     // nil = zero counters
	Credentials *auth.CredentialStore // nil = login disabled
	Sessions    *auth.SessionStore    // nil = login disabled
	GatewayKeys *auth.KeyStore        // nil = key admin endpoints unavailable
	RateLimit   *ratelimit.Service    // nil = no rate limiting
	Usage       storage.Store         // nil = usage audit endpoints unavailable
	Metrics     *telemetry.Metrics    // nil = no metrics middleware
	Prometheus  http.Handler          // nil = no /metrics route
	CORSOrigins []string              // nil = allow all
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}
	if s.deps.Stats == nil {
		s.deps.Stats = app.NewStatsService(nil, nil, nil, nil)
	}

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", "X-Auth-Mode", "X-Provider", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(s.authenticate)
	r.Use(s.permission)

	r.Get("/health", s.handleHealth)
	if deps.Prometheus != nil {
		r.Method("GET", "/metrics", deps.Prometheus)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/v1/chat/completions", s.handleChatCompletion)
		r.Get("/v1/models", s.handleListModels)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.Post("/change-password", s.handleChangePassword)
			r.Get("/me", s.handleMe)
			r.Get("/status", s.handleAuthStatus)
		})
		r.Route("/gateway-keys", func(r chi.Router) {
			r.Get("/", s.handleListKeys)
			r.Post("/", s.handleCreateKey)
			r.Get("/stats", s.handleKeyStats)
			r.Get("/{id}", s.handleGetKey)
			r.Put("/{id}", s.handleUpdateKey)
			r.Patch("/{id}", s.handleUpdateKey)
			r.Delete("/{id}", s.handleRevokeKey)
			r.Post("/{id}/disable", s.handleDisableKey)
			r.Post("/{id}/enable", s.handleEnableKey)
			r.Post("/{id}/regenerate", s.handleRegenerateKey)
		})
		r.Route("/providers", func(r chi.Router) {
			r.Get("/", s.handleListProviders)
			r.Post("/", s.handleAddProviderKey)
			r.Post("/{provider}/validate", s.handleValidateProvider)
			r.Post("/{provider}/key", s.handleSetProviderKey)
			r.Put("/{provider}/key", s.handleSetProviderKey)
			r.Delete("/{provider}/key", s.handleDeleteProviderKey)
		})
		r.Get("/stats", s.handleStats)
		r.Get("/usage", s.handleUsage)
		r.Get("/usage/rollups", s.handleUsageRollups)

		// Collaborator chat rides the same pipeline as /v1.
		r.Post("/chat", s.handleChatCompletion)
		r.Post("/chat/stream", s.handleInternalChatStream)

		// Conversation storage belongs to the desktop collaborator, not the
		// gateway core.
		r.HandleFunc("/conversations", s.handleNotImplemented)
		r.HandleFunc("/conversations/*", s.handleNotImplemented)
	})

	return r
}

type server struct {
	deps Deps
}

func (s *server) handleNotImplemented(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotImplemented, "not available in gateway mode", typeNotFound)
}
