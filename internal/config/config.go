// Package config handles YAML configuration loading with environment
// variable substitution and startup validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	Auth       AuthConfig      `yaml:"auth"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Cache      CacheConfig     `yaml:"cache"`
	Cost       CostConfig      `yaml:"cost"`
	Logging    LoggingConfig   `yaml:"logging"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	Providers  []ProviderEntry `yaml:"providers"`
	Queues     []QueueEntry    `yaml:"queues"`

	// DefaultProvider receives requests whose model carries no
	// "provider/" prefix. Defaults to the first configured provider.
	DefaultProvider string `yaml:"default_provider"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"` // default ["*"]
}

// DatabaseConfig holds SQLite settings for the usage audit trail.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// Embedded trusts every request as admin. Refused unless the listen
	// address is loopback.
	Embedded bool `yaml:"embedded"`

	// GatewayKey is an optional static bearer accepted for completion
	// traffic alongside stored keys.
	GatewayKey string `yaml:"gateway_key"`

	CredentialsPath string        `yaml:"credentials_path"`
	KeysPath        string        `yaml:"keys_path"`
	SessionTimeout  time.Duration `yaml:"session_timeout"`
}

// RateLimitConfig holds default rate limiting settings. Zero = unlimited.
type RateLimitConfig struct {
	AnonymousRPM int64 `yaml:"anonymous_rpm"`
	KeyRPM       int64 `yaml:"key_rpm"`
	KeyTPM       int64 `yaml:"key_tpm"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxSize    int           `yaml:"max_size"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// CostConfig holds spend tracking settings.
type CostConfig struct {
	BudgetWarningUSD float64       `yaml:"budget_warning_usd"`
	BudgetLimitUSD   float64       `yaml:"budget_limit_usd"`
	MaxRecords       int           `yaml:"max_records"`
	Retention        time.Duration `yaml:"retention"`
}

// LoggingConfig controls the process-wide slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// ProviderEntry is a provider definition in the config file.
type ProviderEntry struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"` // adapter family; defaults to Name
	BaseURL    string   `yaml:"base_url"`
	APIKey     string   `yaml:"api_key"`
	Models     []string `yaml:"models"` // static list for engines without /models
	TimeoutMs  int      `yaml:"timeout_ms"`
	MaxRetries *int     `yaml:"max_retries"`
	Enabled    *bool    `yaml:"enabled"`

	Hosting    string `yaml:"hosting"`     // "", "azure", "vertex"
	Region     string `yaml:"region"`      // GCP region for Vertex
	Project    string `yaml:"project"`     // GCP project for Vertex
	Deployment string `yaml:"deployment"`  // Azure deployment name
	APIVersion string `yaml:"api_version"` // Azure api-version / cohere revision
}

// IsEnabled reports whether the provider is enabled (defaults to true).
func (p ProviderEntry) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ResolvedType returns Type if set, otherwise falls back to Name.
func (p ProviderEntry) ResolvedType() string {
	if p.Type != "" {
		return p.Type
	}
	return p.Name
}

// QueueEntry overrides a provider's queue preset.
type QueueEntry struct {
	Provider      string        `yaml:"provider"`
	MaxQueueSize  int           `yaml:"max_queue_size"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	RateLimit     int           `yaml:"rate_limit"`
	RateWindow    time.Duration `yaml:"rate_window"`
	ExecTimeout   time.Duration `yaml:"exec_timeout"`
}

var envPattern = regexp.MustCompile(`env:([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnv replaces env:VAR tokens with environment variable values.
// Unset variables resolve to the empty string so a missing secret fails
// validation rather than leaking the literal token upstream.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		return []byte(os.Getenv(string(match[4:])))
	})
}

// Load reads and parses a YAML config file, expanding env:VAR references
// and applying defaults. The returned config is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML config bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			DSN: "radagast.db",
		},
		Auth: AuthConfig{
			CredentialsPath: "data/credentials.json",
			KeysPath:        "data/gateway-keys.json",
			SessionTimeout:  24 * time.Hour,
		},
		RateLimits: RateLimitConfig{
			AnonymousRPM: 20,
			KeyRPM:       60,
			KeyTPM:       100_000,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxSize:    10_000,
			DefaultTTL: 5 * time.Minute,
		},
		Cost: CostConfig{
			MaxRecords: 10_000,
			Retention:  90 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (c *Config) applyDefaults() {
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.DefaultProvider == "" && len(c.Providers) > 0 {
		c.DefaultProvider = c.Providers[0].Name
	}
}

// Validate checks the configuration for startup-fatal mistakes.
func (c *Config) Validate() error {
	if c.Auth.Embedded && !loopbackAddr(c.Server.Addr) {
		return fmt.Errorf("config: auth.embedded requires a loopback listen address, got %q", c.Server.Addr)
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		switch p.Hosting {
		case "", "azure", "vertex":
		default:
			return fmt.Errorf("config: provider %q: unknown hosting %q", p.Name, p.Hosting)
		}
		if p.Hosting == "vertex" && (p.Region == "" || p.Project == "") {
			return fmt.Errorf("config: provider %q: vertex hosting requires region and project", p.Name)
		}
		if p.Hosting == "azure" && p.Deployment == "" {
			return fmt.Errorf("config: provider %q: azure hosting requires deployment", p.Name)
		}
	}

	if c.DefaultProvider != "" && !seen[c.DefaultProvider] {
		return fmt.Errorf("config: default_provider %q not configured", c.DefaultProvider)
	}

	if c.Telemetry.Tracing.Enabled && c.Telemetry.Tracing.Endpoint == "" {
		return fmt.Errorf("config: tracing enabled without endpoint")
	}
	return nil
}

// loopbackAddr reports whether addr binds only to a loopback interface.
func loopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
