package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gateway "github.com/eugener/radagast/internal"
)

// Authenticator derives the request principal from HTTP credentials. The
// checks run in a fixed order: embedded mode, Basic auth, bearer tokens
// (passthrough provider keys, gateway keys, session tokens), then anonymous.
type Authenticator struct {
	creds    *CredentialStore
	sessions *SessionStore
	keys     *KeyStore
	logger   *slog.Logger

	// embedded trusts every request as admin. Only safe when the listener
	// is bound to loopback inside a desktop shell.
	embedded bool

	// staticKey is an optional operator-configured bearer accepted in
	// gateway mode alongside stored keys.
	staticKey string
}

// SetStaticKey installs the operator-configured gateway key from config.
func (a *Authenticator) SetStaticKey(key string) { a.staticKey = key }

// NewAuthenticator wires the credential, session, and key stores together.
func NewAuthenticator(creds *CredentialStore, sessions *SessionStore, keys *KeyStore, embedded bool, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		creds:    creds,
		sessions: sessions,
		keys:     keys,
		logger:   logger,
		embedded: embedded,
	}
}

// Embedded reports whether the authenticator trusts all requests.
func (a *Authenticator) Embedded() bool { return a.embedded }

// Authenticate derives a principal for the request. It never returns nil:
// requests without credentials get the anonymous principal. A non-nil error
// means credentials were presented and rejected.
func (a *Authenticator) Authenticate(r *http.Request) (*gateway.Principal, error) {
	if a.embedded {
		return &gateway.Principal{
			Role:          gateway.RoleAdmin,
			Mode:          gateway.ModeEmbedded,
			Authenticated: true,
		}, nil
	}

	if username, password, ok := r.BasicAuth(); ok {
		return a.basic(username, password)
	}

	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		return a.bearer(r, token)
	}

	return &gateway.Principal{
		Role: gateway.RoleAnonymous,
		Mode: gateway.ModeNone,
	}, nil
}

func (a *Authenticator) basic(username, password string) (*gateway.Principal, error) {
	if a.creds == nil || !a.creds.Verify(username, password) {
		a.logger.LogAttrs(context.Background(), slog.LevelWarn, "basic auth rejected",
			slog.String("username", username))
		return nil, gateway.ErrUnauthorized
	}
	return &gateway.Principal{
		Role:          gateway.RoleAdmin,
		Mode:          gateway.ModeBasic,
		Authenticated: true,
	}, nil
}

func (a *Authenticator) bearer(r *http.Request, token string) (*gateway.Principal, error) {
	if token == "" {
		return nil, gateway.ErrUnauthorized
	}

	// Passthrough: the bearer is a provider API key the gateway forwards
	// upstream verbatim. Opt-in via header so gateway keys and provider keys
	// cannot be confused.
	if strings.EqualFold(r.Header.Get("X-Auth-Mode"), "passthrough") {
		return &gateway.Principal{
			Role:           gateway.RoleAnonymous,
			Mode:           gateway.ModePassthrough,
			Authenticated:  true,
			ProviderAPIKey: token,
			TargetProvider: r.Header.Get("X-Provider"),
		}, nil
	}

	// Gateway keys authorize completion traffic only. They stay anonymous
	// so the permission layer never grants them admin routes.
	if a.staticKey != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(a.staticKey)) == 1 {
		return &gateway.Principal{
			Role:          gateway.RoleAnonymous,
			Mode:          gateway.ModeGateway,
			Authenticated: true,
		}, nil
	}

	if strings.HasPrefix(token, gateway.KeyPrefix) {
		return a.gatewayKey(token)
	}

	return a.session(token)
}

func (a *Authenticator) gatewayKey(token string) (*gateway.Principal, error) {
	if a.keys == nil {
		return nil, gateway.ErrUnauthorized
	}
	key, err := a.keys.Verify(token)
	if err != nil {
		if errors.Is(err, gateway.ErrKeyDisabled) || errors.Is(err, gateway.ErrKeyExpired) {
			a.logger.LogAttrs(context.Background(), slog.LevelWarn, "gateway key rejected",
				slog.String("prefix", gateway.DisplayPrefix(token)),
				slog.String("reason", err.Error()))
		}
		return nil, err
	}
	return &gateway.Principal{
		Role:          gateway.RoleAnonymous,
		Mode:          gateway.ModeGateway,
		Authenticated: true,
		GatewayKey:    key,
	}, nil
}

func (a *Authenticator) session(token string) (*gateway.Principal, error) {
	if a.sessions == nil {
		return nil, gateway.ErrUnauthorized
	}
	sess, ok := a.sessions.Validate(token)
	if !ok {
		return nil, gateway.ErrUnauthorized
	}
	return &gateway.Principal{
		Role:          sess.Role,
		Mode:          gateway.ModeSession,
		Authenticated: true,
		SessionID:     sess.ID,
	}, nil
}
