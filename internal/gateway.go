// Package gateway defines domain types and interfaces for the Radagast LLM gateway.
// This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// --- Provider ---

// Provider is the interface that all LLM provider adapters must implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string
	// ChatCompletion sends a non-streaming chat completion request.
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// ChatCompletionStream sends a streaming chat completion request.
	// The returned channel is finite: it closes after a Done sentinel or an
	// error chunk. Cancelling ctx releases the underlying HTTP body.
	ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	// ListModels returns the list of available model IDs.
	ListModels(ctx context.Context) ([]string, error)
	// Capabilities reports what the provider supports.
	Capabilities() Capability
	// ValidateKey verifies that the configured credential is accepted upstream.
	ValidateKey(ctx context.Context) error
}

// Capability is a bitmask of provider features.
type Capability uint32

const (
	CapChat Capability = 1 << iota
	CapStreaming
	CapEmbedding
	CapVision
	CapTools
)

// Has reports whether all bits in p are set.
func (c Capability) Has(p Capability) bool { return c&p == p }

// --- Chat wire types (OpenAI-compatible) ---

// ChatRequest represents an OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	StreamOptions    *StreamOptions  `json:"stream_options,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	User             string          `json:"user,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
}

// StreamOptions controls streaming behavior.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// Validate checks the request invariants shared by all providers.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("%w: model is required", ErrBadRequest)
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrBadRequest)
	}
	last := r.Messages[len(r.Messages)-1].Role
	if last != RoleUser && last != RoleTool {
		return fmt.Errorf("%w: last message role must be user or tool, got %q", ErrBadRequest, last)
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("%w: temperature must be in [0,2]", ErrBadRequest)
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return fmt.Errorf("%w: top_p must be in [0,1]", ErrBadRequest)
	}
	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		return fmt.Errorf("%w: max_tokens must be >= 1", ErrBadRequest)
	}
	return nil
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message. Content is either a JSON string or an
// array of content parts; adapters decode whichever shape they need.
type Message struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// ContentPart is one element of a multi-part message content array.
type ContentPart struct {
	Type       string          `json:"type"` // "text", "image_url", "input_audio", "video_url", "file"
	Text       string          `json:"text,omitempty"`
	ImageURL   *ImageURL       `json:"image_url,omitempty"`
	InputAudio json.RawMessage `json:"input_audio,omitempty"`
	VideoURL   json.RawMessage `json:"video_url,omitempty"`
	File       json.RawMessage `json:"file,omitempty"`
}

// ImageURL carries an image reference (https URL or data URI).
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// TextContent decodes a message content into plain text. String content is
// returned as-is; part arrays are flattened to their text parts joined by
// newlines. Non-text parts are dropped.
func (m *Message) TextContent() string {
	if len(m.Content) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(m.Content, &s) == nil {
		return s
	}
	var parts []ContentPart
	if json.Unmarshal(m.Content, &parts) != nil {
		return ""
	}
	var out string
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// ContentParts decodes a message content into parts. String content becomes
// a single text part.
func (m *Message) ContentParts() []ContentPart {
	if len(m.Content) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(m.Content, &s) == nil {
		return []ContentPart{{Type: "text", Text: s}}
	}
	var parts []ContentPart
	if json.Unmarshal(m.Content, &parts) != nil {
		return nil
	}
	return parts
}

// ChatResponse represents an OpenAI-compatible chat completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk represents a single chunk in a streaming response.
type StreamChunk struct {
	Data  []byte // raw chunk JSON in OpenAI chat.completion.chunk format
	Usage *Usage // non-nil on the final chunk when the provider reports usage
	Done  bool
	Err   error
}

// --- Authentication ---

// Auth modes attached to a Principal.
const (
	ModeNone        = "none"
	ModeGateway     = "gateway"
	ModePassthrough = "passthrough"
	ModeSession     = "session"
	ModeBasic       = "basic"
	ModeEmbedded    = "embedded"
)

// Principal roles.
const (
	RoleAdmin     = "admin"
	RoleAnonymous = "anonymous"
)

// Principal is the authenticated caller context attached to request context.
type Principal struct {
	Role           string      `json:"role"` // "admin" or "anonymous"
	Mode           string      `json:"mode"` // auth mode, see Mode* constants
	Authenticated  bool        `json:"authenticated"`
	SessionID      string      `json:"-"`
	GatewayKey     *GatewayKey `json:"-"` // set when the bearer matched a stored gateway key
	ProviderAPIKey string      `json:"-"` // set when Mode == ModePassthrough
	TargetProvider string      `json:"-"` // X-Provider value in passthrough mode
}

// GatewayKey is a long-lived bearer credential issued by the admin.
// The plaintext is never persisted; only its SHA-256 hash.
type GatewayKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"` // first 6 + "..." + last 4 of the plaintext
	KeyHash    string     `json:"keyHash"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Enabled    bool       `json:"enabled"`
	Scopes     []string   `json:"scopes,omitempty"`
	RateLimit  *int64     `json:"rateLimit,omitempty"` // requests per minute, nil = default
	BudgetUSD  *float64   `json:"budgetUsd,omitempty"` // cumulative spend cap, nil = unlimited
	UsageCount int64      `json:"usageCount"`
}

// Usable reports whether the key may authenticate a request right now.
func (k *GatewayKey) Usable(now time.Time) bool {
	if !k.Enabled {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(now)
}

// AdminCredentials is the singleton admin login record persisted as JSON.
type AdminCredentials struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"` // SHA-256 over password||salt
	Salt         string    `json:"salt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Session is an opaque-token login session for the admin surface.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool { return !s.ExpiresAt.After(now) }

// --- Cost accounting ---

// CostRecord is a single priced usage event.
type CostRecord struct {
	ID        string            `json:"id"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	Usage     Usage             `json:"usage"`
	CostUSD   float64           `json:"cost_usd"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// UsageRecord is the durable audit-trail form of a completed request,
// persisted by the usage recorder worker.
type UsageRecord struct {
	ID               string    `json:"id"`
	KeyID            string    `json:"keyId,omitempty"` // gateway key, empty for sessions
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	TotalTokens      int       `json:"totalTokens"`
	CostUSD          float64   `json:"costUsd"`
	Cached           bool      `json:"cached"`
	LatencyMs        int64     `json:"latencyMs"`
	StatusCode       int       `json:"statusCode"`
	RequestID        string    `json:"requestId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// UsageFilter narrows usage-record queries. Since/Until are RFC 3339 strings
// compared against the stored created_at column; empty fields match all.
type UsageFilter struct {
	KeyID    string
	Provider string
	Model    string
	Since    string
	Until    string
	Limit    int
	Offset   int
}

// UsageRollup is a pre-aggregated usage bucket (hourly or daily).
type UsageRollup struct {
	KeyID            string  `json:"keyId"`
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	Period           string  `json:"period"` // "hourly" or "daily"
	Bucket           string  `json:"bucket"` // truncated RFC 3339 timestamp
	RequestCount     int64   `json:"requestCount"`
	PromptTokens     int64   `json:"promptTokens"`
	CompletionTokens int64   `json:"completionTokens"`
	TotalTokens      int64   `json:"totalTokens"`
	CostUSD          float64 `json:"costUsd"`
	CachedCount      int64   `json:"cachedCount"`
}

// RollupFilter narrows rollup queries.
type RollupFilter struct {
	KeyID    string
	Provider string
	Model    string
	Period   string
	Since    string
	Until    string
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Principal field is set later by the authenticate middleware via mutation
// of the same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Principal *Principal
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// PrincipalFromContext extracts the authenticated principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	if m := metaFromContext(ctx); m != nil {
		return m.Principal
	}
	return nil
}

// ContextWithPrincipal stores the principal in the existing requestMeta if
// present, avoiding a new context.WithValue allocation. Falls back to creating
// new metadata if none exists (e.g., in tests).
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Principal = p
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Principal: p})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Shared constants and helpers ---

// KeyPrefix is the prefix for all Radagast gateway keys.
const KeyPrefix = "gw-"

// HashKey returns the hex-encoded SHA-256 hash of a raw gateway key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// DisplayPrefix returns the loggable form of a plaintext key:
// the first six and last four characters joined by an ellipsis.
func DisplayPrefix(plaintext string) string {
	if len(plaintext) <= 10 {
		return plaintext
	}
	return plaintext[:6] + "..." + plaintext[len(plaintext)-4:]
}
