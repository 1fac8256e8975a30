package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

func newTestAuthenticator(t *testing.T, embedded bool) (*Authenticator, string, *CreatedKey, *gateway.Session) {
	t.Helper()
	dir := t.TempDir()

	creds := NewCredentialStore(filepath.Join(dir, "credentials.json"))
	password, err := creds.Initialize()
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	keys, err := NewKeyStore(filepath.Join(dir, "keys.json"), nil)
	if err != nil {
		t.Fatalf("NewKeyStore: %v", err)
	}
	created, err := keys.Create("test", nil, nil, nil)
	if err != nil {
		t.Fatalf("Create key: %v", err)
	}

	sessions := NewSessionStore(time.Hour, nil)
	sess, err := sessions.Create("admin", gateway.RoleAdmin)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	return NewAuthenticator(creds, sessions, keys, embedded, nil), password, created, sess
}

func request(headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestAuthenticateAnonymous(t *testing.T) {
	t.Parallel()

	a, _, _, _ := newTestAuthenticator(t, false)
	p, err := a.Authenticate(request(nil))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Authenticated || p.Role != gateway.RoleAnonymous || p.Mode != gateway.ModeNone {
		t.Errorf("principal = %+v", p)
	}
}

func TestAuthenticateEmbedded(t *testing.T) {
	t.Parallel()

	a, _, _, _ := newTestAuthenticator(t, true)
	p, err := a.Authenticate(request(nil))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !p.Authenticated || p.Role != gateway.RoleAdmin || p.Mode != gateway.ModeEmbedded {
		t.Errorf("principal = %+v", p)
	}
}

func TestAuthenticateBasic(t *testing.T) {
	t.Parallel()

	a, password, _, _ := newTestAuthenticator(t, false)

	r := request(nil)
	r.SetBasicAuth("admin", password)
	p, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !p.Authenticated || p.Role != gateway.RoleAdmin || p.Mode != gateway.ModeBasic {
		t.Errorf("principal = %+v", p)
	}

	bad := request(nil)
	bad.SetBasicAuth("admin", "wrong")
	if _, err := a.Authenticate(bad); !errors.Is(err, gateway.ErrUnauthorized) {
		t.Errorf("wrong password error = %v", err)
	}
}

func TestAuthenticateGatewayKey(t *testing.T) {
	t.Parallel()

	a, _, created, _ := newTestAuthenticator(t, false)

	p, err := a.Authenticate(request(map[string]string{
		"Authorization": "Bearer " + created.Key,
	}))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !p.Authenticated || p.Role != gateway.RoleAnonymous || p.Mode != gateway.ModeGateway {
		t.Errorf("principal = %+v", p)
	}
	if p.GatewayKey == nil || p.GatewayKey.ID != created.ID {
		t.Errorf("gateway key = %+v", p.GatewayKey)
	}
	if Allowed(p, "GET", "/internal/gateway-keys") {
		t.Error("gateway key allowed on admin route")
	}

	if _, err := a.Authenticate(request(map[string]string{
		"Authorization": "Bearer gw-bogus",
	})); !errors.Is(err, gateway.ErrUnauthorized) {
		t.Errorf("bogus key error = %v", err)
	}
}

func TestAuthenticatePassthrough(t *testing.T) {
	t.Parallel()

	a, _, _, _ := newTestAuthenticator(t, false)
	p, err := a.Authenticate(request(map[string]string{
		"Authorization": "Bearer sk-provider-key",
		"X-Auth-Mode":   "passthrough",
		"X-Provider":    "openai",
	}))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Mode != gateway.ModePassthrough || !p.Authenticated {
		t.Errorf("principal = %+v", p)
	}
	if p.ProviderAPIKey != "sk-provider-key" || p.TargetProvider != "openai" {
		t.Errorf("passthrough fields = %+v", p)
	}
}

func TestAuthenticateStaticKey(t *testing.T) {
	t.Parallel()

	a, _, _, _ := newTestAuthenticator(t, false)
	a.SetStaticKey("static-secret")

	p, err := a.Authenticate(request(map[string]string{
		"Authorization": "Bearer static-secret",
	}))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !p.Authenticated || p.Role != gateway.RoleAnonymous || p.Mode != gateway.ModeGateway {
		t.Errorf("principal = %+v", p)
	}
	if p.GatewayKey != nil {
		t.Error("static key should not attach a stored key")
	}
	if Allowed(p, "POST", "/internal/auth/change-password") {
		t.Error("static key allowed on admin route")
	}
}

func TestAuthenticateSession(t *testing.T) {
	t.Parallel()

	a, _, _, sess := newTestAuthenticator(t, false)

	p, err := a.Authenticate(request(map[string]string{
		"Authorization": "Bearer " + sess.ID,
	}))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Mode != gateway.ModeSession || p.Role != gateway.RoleAdmin || p.SessionID != sess.ID {
		t.Errorf("principal = %+v", p)
	}

	if _, err := a.Authenticate(request(map[string]string{
		"Authorization": "Bearer deadbeef",
	})); !errors.Is(err, gateway.ErrUnauthorized) {
		t.Errorf("unknown token error = %v", err)
	}
}

func TestRequiredAccess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method, path, want string
	}{
		{"GET", "/health", AccessPublic},
		{"POST", "/internal/auth/login", AccessPublic},
		{"POST", "/v1/chat/completions", AccessPublic},
		{"GET", "/v1/models", AccessPublic},
		{"POST", "/internal/auth/logout", AccessAuth},
		{"GET", "/internal/auth/me", AccessAuth},
		{"GET", "/internal/gateway-keys", AccessAdmin},
		{"GET", "/internal/gateway-keys/abc123", AccessAdmin},
		{"POST", "/internal/gateway-keys/abc123/regenerate", AccessAdmin},
		{"GET", "/internal/gateway-keys/stats", AccessAdmin},
		{"DELETE", "/unknown/route", AccessAdmin},
	}
	for _, tt := range tests {
		if got := RequiredAccess(tt.method, tt.path); got != tt.want {
			t.Errorf("RequiredAccess(%s %s) = %s, want %s", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestAllowed(t *testing.T) {
	t.Parallel()

	admin := &gateway.Principal{Role: gateway.RoleAdmin, Authenticated: true}
	keyUser := &gateway.Principal{Role: gateway.RoleAnonymous, Authenticated: true}
	anon := &gateway.Principal{Role: gateway.RoleAnonymous}

	if !Allowed(anon, "GET", "/health") {
		t.Error("anonymous denied on public route")
	}
	if !Allowed(anon, "POST", "/v1/chat/completions") {
		t.Error("anonymous denied on public chat route")
	}
	if Allowed(anon, "POST", "/internal/auth/logout") {
		t.Error("anonymous allowed on auth route")
	}
	if !Allowed(keyUser, "POST", "/internal/auth/logout") {
		t.Error("authenticated key denied on auth route")
	}
	if Allowed(keyUser, "GET", "/internal/gateway-keys") {
		t.Error("non-admin allowed on admin route")
	}
	if !Allowed(admin, "GET", "/internal/gateway-keys") {
		t.Error("admin denied on admin route")
	}
	if Allowed(nil, "POST", "/v1/chat/completions") {
		t.Error("nil principal allowed")
	}
}
