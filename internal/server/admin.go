package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/auth"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", typeInvalidRequest)
		return false
	}
	return true
}

// parseExpiresAt parses an optional RFC3339 expires_at string pointer.
// Writes 400 and returns false on invalid format.
func parseExpiresAt(w http.ResponseWriter, raw *string) (*time.Time, bool) {
	if raw == nil {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid expires_at format, use RFC3339", typeInvalidRequest)
		return nil, false
	}
	return &t, true
}

// --- Auth endpoints ---

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Credentials == nil || s.deps.Sessions == nil {
		writeError(w, http.StatusNotFound, "login not available", typeNotFound)
		return
	}
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if !s.deps.Credentials.Verify(body.Username, body.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials", typeAuthentication)
		return
	}
	sess, err := s.deps.Sessions.Create(body.Username, gateway.RoleAdmin)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"token":     sess.ID,
		"role":      sess.Role,
		"expiresAt": sess.ExpiresAt,
	})
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p := gateway.PrincipalFromContext(r.Context())
	if s.deps.Sessions != nil && p != nil && p.SessionID != "" {
		s.deps.Sessions.Delete(p.SessionID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if s.deps.Credentials == nil {
		writeError(w, http.StatusNotFound, "not available", typeNotFound)
		return
	}
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := s.deps.Credentials.ChangePassword(body.CurrentPassword, body.NewPassword); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gateway.PrincipalFromContext(r.Context()))
}

func (s *server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	p := gateway.PrincipalFromContext(r.Context())
	status := map[string]any{
		"embedded":      s.deps.Auth.Embedded(),
		"authenticated": p != nil && p.Authenticated,
	}
	if s.deps.Credentials != nil {
		status["username"] = s.deps.Credentials.Username()
	}
	writeJSON(w, http.StatusOK, status)
}

// --- Gateway key endpoints ---

func (s *server) keyStore(w http.ResponseWriter) *auth.KeyStore {
	if s.deps.GatewayKeys == nil {
		writeError(w, http.StatusNotFound, "gateway keys not available", typeNotFound)
		return nil
	}
	return s.deps.GatewayKeys
}

func (s *server) handleListKeys(w http.ResponseWriter, _ *http.Request) {
	ks := s.keyStore(w)
	if ks == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": ks.List()})
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	ks := s.keyStore(w)
	if ks == nil {
		return
	}
	var body struct {
		Name      string   `json:"name"`
		Scopes    []string `json:"scopes"`
		RateLimit *int64   `json:"rate_limit"`
		ExpiresAt *string  `json:"expires_at"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", typeInvalidRequest)
		return
	}
	expires, ok := parseExpiresAt(w, body.ExpiresAt)
	if !ok {
		return
	}
	created, err := ks.Create(body.Name, body.Scopes, body.RateLimit, expires)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// The plaintext key appears in this response and nowhere else.
	writeJSON(w, http.StatusCreated, created)
}

func (s *server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	ks := s.keyStore(w)
	if ks == nil {
		return
	}
	key, err := ks.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	ks := s.keyStore(w)
	if ks == nil {
		return
	}
	var body struct {
		Name      *string   `json:"name"`
		Scopes    *[]string `json:"scopes"`
		RateLimit **int64   `json:"rate_limit"`
		BudgetUSD **float64 `json:"budget_usd"`
		ExpiresAt *string   `json:"expires_at"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	upd := auth.KeyUpdate{
		Name:      body.Name,
		Scopes:    body.Scopes,
		RateLimit: body.RateLimit,
		BudgetUSD: body.BudgetUSD,
	}
	if body.ExpiresAt != nil {
		t, ok := parseExpiresAt(w, body.ExpiresAt)
		if !ok {
			return
		}
		upd.ExpiresAt = &t
	}
	id := chi.URLParam(r, "id")
	if err := ks.Update(id, upd); err != nil {
		writeDomainError(w, err)
		return
	}
	key, err := ks.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	ks := s.keyStore(w)
	if ks == nil {
		return
	}
	if err := ks.Revoke(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *server) setKeyEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	ks := s.keyStore(w)
	if ks == nil {
		return
	}
	id := chi.URLParam(r, "id")
	if err := ks.SetEnabled(id, enabled); err != nil {
		writeDomainError(w, err)
		return
	}
	key, err := ks.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *server) handleDisableKey(w http.ResponseWriter, r *http.Request) {
	s.setKeyEnabled(w, r, false)
}

func (s *server) handleEnableKey(w http.ResponseWriter, r *http.Request) {
	s.setKeyEnabled(w, r, true)
}

func (s *server) handleRegenerateKey(w http.ResponseWriter, r *http.Request) {
	ks := s.keyStore(w)
	if ks == nil {
		return
	}
	created, err := ks.Regenerate(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (s *server) handleKeyStats(w http.ResponseWriter, _ *http.Request) {
	ks := s.keyStore(w)
	if ks == nil {
		return
	}
	writeJSON(w, http.StatusOK, ks.Stats())
}

// --- Usage audit endpoints ---

func (s *server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		writeError(w, http.StatusNotFound, "usage audit not available", typeNotFound)
		return
	}
	q := r.URL.Query()
	f := gateway.UsageFilter{
		KeyID:    q.Get("key_id"),
		Provider: q.Get("provider"),
		Model:    q.Get("model"),
		Since:    q.Get("since"),
		Until:    q.Get("until"),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	records, err := s.deps.Usage.QueryUsage(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	total, err := s.deps.Usage.CountUsage(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []gateway.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": records, "total": total})
}

func (s *server) handleUsageRollups(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		writeError(w, http.StatusNotFound, "usage audit not available", typeNotFound)
		return
	}
	q := r.URL.Query()
	rollups, err := s.deps.Usage.QueryRollups(r.Context(), gateway.RollupFilter{
		KeyID:    q.Get("key_id"),
		Provider: q.Get("provider"),
		Model:    q.Get("model"),
		Period:   q.Get("period"),
		Since:    q.Get("since"),
		Until:    q.Get("until"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rollups == nil {
		rollups = []gateway.UsageRollup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rollups})
}

// --- Provider endpoints ---

type providerStatus struct {
	Name         string `json:"name"`
	HasKey       bool   `json:"hasKey"`
	Capabilities uint32 `json:"capabilities"`
}

func (s *server) handleListProviders(w http.ResponseWriter, _ *http.Request) {
	names := s.deps.Providers.List()
	out := make([]providerStatus, 0, len(names))
	for _, name := range names {
		p, err := s.deps.Providers.Get(name)
		if err != nil {
			continue
		}
		ps := providerStatus{Name: name, Capabilities: uint32(p.Capabilities())}
		if s.deps.ProviderKey != nil {
			ps.HasKey = s.deps.ProviderKey.HasKey(name)
		}
		out = append(out, ps)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *server) handleValidateProvider(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	p, err := s.deps.Providers.Get(name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := p.ValidateKey(r.Context()); err != nil {
		status := errorStatus(err)
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "status": status})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// handleAddProviderKey configures a provider key named in the body. The
// registry is frozen at startup, so only providers wired from config accept
// a key.
func (s *server) handleAddProviderKey(w http.ResponseWriter, r *http.Request) {
	if s.deps.ProviderKey == nil {
		writeError(w, http.StatusNotFound, "not available", typeNotFound)
		return
	}
	var body struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Provider == "" || body.APIKey == "" {
		writeError(w, http.StatusBadRequest, "provider and api_key are required", typeInvalidRequest)
		return
	}
	if err := s.deps.ProviderKey.SetKey(body.Provider, body.APIKey); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleSetProviderKey(w http.ResponseWriter, r *http.Request) {
	if s.deps.ProviderKey == nil {
		writeError(w, http.StatusNotFound, "not available", typeNotFound)
		return
	}
	var body struct {
		APIKey string `json:"api_key"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.APIKey == "" {
		writeError(w, http.StatusBadRequest, "api_key is required", typeInvalidRequest)
		return
	}
	if err := s.deps.ProviderKey.SetKey(chi.URLParam(r, "provider"), body.APIKey); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleDeleteProviderKey(w http.ResponseWriter, r *http.Request) {
	if s.deps.ProviderKey == nil {
		writeError(w, http.StatusNotFound, "not available", typeNotFound)
		return
	}
	if err := s.deps.ProviderKey.DeleteKey(chi.URLParam(r, "provider")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
