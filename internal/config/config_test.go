package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.Server.ReadTimeout)
	}
	if cfg.Database.DSN != "radagast.db" {
		t.Errorf("DSN = %q", cfg.Database.DSN)
	}
	if cfg.Auth.SessionTimeout != 24*time.Hour {
		t.Errorf("SessionTimeout = %v", cfg.Auth.SessionTimeout)
	}
	if cfg.RateLimits.AnonymousRPM != 20 || cfg.RateLimits.KeyRPM != 60 {
		t.Errorf("RateLimits = %+v", cfg.RateLimits)
	}
	if !cfg.Cache.Enabled || cfg.Cache.DefaultTTL != 5*time.Minute {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
server:
  addr: "0.0.0.0:9090"
  read_timeout: 10s
database:
  dsn: ":memory:"
rate_limits:
  anonymous_rpm: 0
  key_rpm: 120
cache:
  enabled: false
providers:
  - name: openai
    api_key: sk-test
  - name: claude
    type: anthropic
    api_key: sk-ant
default_provider: claude
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9090" || cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("DSN = %q", cfg.Database.DSN)
	}
	if cfg.RateLimits.AnonymousRPM != 0 || cfg.RateLimits.KeyRPM != 120 {
		t.Errorf("RateLimits = %+v", cfg.RateLimits)
	}
	if cfg.Cache.Enabled {
		t.Error("cache should be disabled")
	}
	if cfg.DefaultProvider != "claude" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if got := cfg.Providers[1].ResolvedType(); got != "anthropic" {
		t.Errorf("ResolvedType = %q", got)
	}
	if got := cfg.Providers[0].ResolvedType(); got != "openai" {
		t.Errorf("ResolvedType fallback = %q", got)
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("RADAGAST_TEST_KEY", "sk-from-env")

	cfg, err := Load(writeConfig(t, `
providers:
  - name: openai
    api_key: env:RADAGAST_TEST_KEY
  - name: other
    api_key: env:RADAGAST_TEST_UNSET
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers[0].APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q", cfg.Providers[0].APIKey)
	}
	if cfg.Providers[1].APIKey != "" {
		t.Errorf("unset APIKey = %q", cfg.Providers[1].APIKey)
	}
}

func TestDefaultProviderFallsBackToFirst(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
providers:
  - name: groq
    api_key: gsk-test
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProvider != "groq" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
}

func TestValidateEmbeddedRequiresLoopback(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `
server:
  addr: "0.0.0.0:8080"
auth:
  embedded: true
`))
	if err == nil || !strings.Contains(err.Error(), "loopback") {
		t.Fatalf("err = %v", err)
	}

	for _, addr := range []string{"127.0.0.1:8080", "localhost:8080", "[::1]:8080"} {
		if _, err := Load(writeConfig(t, "server:\n  addr: \""+addr+"\"\nauth:\n  embedded: true\n")); err != nil {
			t.Errorf("addr %q rejected: %v", addr, err)
		}
	}
}

func TestValidateProviders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "duplicate",
			yaml: "providers:\n  - name: openai\n  - name: openai\n",
			want: "duplicate provider",
		},
		{
			name: "empty name",
			yaml: "providers:\n  - api_key: sk-x\n",
			want: "empty name",
		},
		{
			name: "unknown hosting",
			yaml: "providers:\n  - name: openai\n    hosting: bedrock\n",
			want: "unknown hosting",
		},
		{
			name: "vertex missing project",
			yaml: "providers:\n  - name: gemini\n    hosting: vertex\n    region: us-central1\n",
			want: "requires region and project",
		},
		{
			name: "azure missing deployment",
			yaml: "providers:\n  - name: azure-gpt\n    hosting: azure\n",
			want: "requires deployment",
		},
		{
			name: "unknown default",
			yaml: "providers:\n  - name: openai\ndefault_provider: missing\n",
			want: "not configured",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestValidateTracingNeedsEndpoint(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, "telemetry:\n  tracing:\n    enabled: true\n"))
	if err == nil || !strings.Contains(err.Error(), "endpoint") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoggingSlogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for name, want := range cases {
		if got := (LoggingConfig{Level: name}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
