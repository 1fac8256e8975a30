// Package openai implements the gateway.Provider adapter for the OpenAI API
// and the rest of the OpenAI-compatible family (groq, cerebras, deepseek,
// moonshot, qwen, mistral, together, openrouter, glm, local engines, custom
// endpoints). Family members differ only in base URL, auth header, and model
// listing; the wire format is shared.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
	"github.com/eugener/radagast/internal/provider/sseutil"
)

const defaultBaseURL = "https://api.openai.com/v1"

// streamTimeout bounds a single streaming call end to end. Streams outlive
// the per-attempt request timeout, so they get their own generous budget.
const streamTimeout = 10 * time.Minute

var _ gateway.Provider = (*Client)(nil)

// maxCompletionTokensModels matches OpenAI model generations that reject
// max_tokens and temperature in favor of max_completion_tokens.
var maxCompletionTokensModels = regexp.MustCompile(`^(gpt-5|gpt-4\.1|o3|o4)`)

// Client is an OpenAI-compatible provider adapter.
type Client struct {
	name       string
	baseURL    string
	cred       *provider.Credential
	http       *http.Client
	caps       gateway.Capability
	static     []string // static model list; nil = GET /models
	policy     provider.CallPolicy
	hosting    string // "", "azure"
	deployment string // Azure deployment ID
	apiVersion string // Azure api-version query parameter
}

// New creates a family Client. name selects the preset; unknown names are
// treated as custom endpoints and require baseURL. An explicit baseURL
// overrides the preset. The credential may be nil for local engines.
func New(name, baseURL string, cred *provider.Credential, client *http.Client) *Client {
	preset, ok := LookupPreset(name)
	caps := gateway.CapChat | gateway.CapStreaming | gateway.CapTools
	var static []string
	if ok {
		if baseURL == "" {
			baseURL = preset.BaseURL
		}
		caps = preset.Capabilities
		static = preset.StaticModels
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		cred:    cred,
		http:    client,
		caps:    caps,
		static:  static,
	}
}

// NewAzure creates a Client for an Azure OpenAI deployment. Requests go to
// /openai/deployments/{deployment}/chat/completions with the api-key header,
// and the body's model field is replaced by the deployment ID.
func NewAzure(name, baseURL, deployment, apiVersion string, cred *provider.Credential, client *http.Client) *Client {
	c := New(name, baseURL, cred, client)
	c.hosting = "azure"
	c.deployment = deployment
	if apiVersion == "" {
		apiVersion = "2024-06-01"
	}
	c.apiVersion = apiVersion
	return c
}

// SetCallPolicy overrides the per-attempt timeout and retry budget.
func (c *Client) SetCallPolicy(p provider.CallPolicy) { c.policy = p }

// SetStaticModels pins the model list, bypassing GET /models.
func (c *Client) SetStaticModels(models []string) {
	if len(models) > 0 {
		c.static = models
	}
}

// Name returns the instance identifier.
func (c *Client) Name() string { return c.name }

// Capabilities reports the preset's feature set.
func (c *Client) Capabilities() gateway.Capability { return c.caps }

// chatRequestOut shapes the outbound body. For model generations that demand
// max_completion_tokens the embedded MaxTokens and Temperature are cleared
// and the value moves to the new field.
type chatRequestOut struct {
	gateway.ChatRequest
	MaxCompletionTokens *int `json:"max_completion_tokens,omitempty"`
}

// buildBody applies the family's parameter re-mapping rules and returns the
// serialized request.
func (c *Client) buildBody(req *gateway.ChatRequest, stream bool) ([]byte, error) {
	out := chatRequestOut{ChatRequest: *req}
	out.Stream = stream
	if stream && out.StreamOptions == nil {
		out.StreamOptions = &gateway.StreamOptions{IncludeUsage: true}
	}

	if c.hosting == "azure" {
		out.Model = c.deployment
	}

	if c.name == "openai" && maxCompletionTokensModels.MatchString(req.Model) {
		out.MaxCompletionTokens = out.MaxTokens
		out.MaxTokens = nil
		out.Temperature = nil
	}

	body, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}
	return body, nil
}

// chatURL returns the chat completions endpoint.
func (c *Client) chatURL() string {
	if c.hosting == "azure" {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			c.baseURL, url.PathEscape(c.deployment), url.QueryEscape(c.apiVersion))
	}
	return c.baseURL + "/chat/completions"
}

// setHeaders applies content-type and auth to an outbound request.
// Azure uses the api-key header; everyone else uses a bearer token.
func (c *Client) setHeaders(ctx context.Context, r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	key := provider.ResolveKey(ctx, c.cred)
	if key == "" {
		return
	}
	if c.hosting == "azure" {
		r.Header.Set("api-key", key)
	} else {
		r.Header.Set("Authorization", "Bearer "+key)
	}
}

// ChatCompletion sends a non-streaming chat completion request.
func (c *Client) ChatCompletion(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	body, err := c.buildBody(req, false)
	if err != nil {
		return nil, err
	}

	resp, err := provider.Do(ctx, c.http, c.name, c.policy, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL(), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%s: create request: %w", c.name, err)
		}
		c.setHeaders(ctx, httpReq)
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(c.name, resp)
	}

	var out gateway.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return &out, nil
}

// ChatCompletionStream sends a streaming chat completion request. Raw SSE
// data payloads are forwarded as-is in StreamChunk.Data (no JSON parsing on
// the hot path). The channel is closed after a Done sentinel or error chunk.
func (c *Client) ChatCompletionStream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	body, err := c.buildBody(req, true)
	if err != nil {
		return nil, err
	}

	policy := c.policy
	policy.Timeout = streamTimeout
	resp, err := provider.Do(ctx, c.http, c.name, policy, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL(), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%s: create request: %w", c.name, err)
		}
		c.setHeaders(ctx, httpReq)
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(c.name, resp)
	}

	ch := make(chan gateway.StreamChunk, 8)
	go sseutil.ReadSSEStream(ctx, c.name, resp, ch)
	return ch, nil
}

// listModelsResponse is the envelope returned by GET /models.
type listModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels returns the IDs of available models. Presets with a static list
// return it directly; Azure deployment URLs have no models endpoint and
// return the deployment ID.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	if c.hosting == "azure" {
		return []string{c.deployment}, nil
	}
	if c.static != nil {
		return c.static, nil
	}

	resp, err := provider.Do(ctx, c.http, c.name, c.policy, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
		if err != nil {
			return nil, fmt.Errorf("%s: create request: %w", c.name, err)
		}
		c.setHeaders(ctx, httpReq)
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(c.name, resp)
	}

	var out listModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode models response: %w", c.name, err)
	}

	ids := make([]string, len(out.Data))
	for i, m := range out.Data {
		ids[i] = m.ID
	}
	return ids, nil
}

// ValidateKey verifies the configured credential against the upstream.
// For Azure a HEAD to the base URL checks reachability since the models
// endpoint is not available at deployment URLs.
func (c *Client) ValidateKey(ctx context.Context) error {
	if c.hosting == "azure" {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
		if err != nil {
			return fmt.Errorf("%s: create validate request: %w", c.name, err)
		}
		resp, err := c.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("%s: validate key: %w", c.name, err)
		}
		resp.Body.Close()
		return nil
	}
	_, err := c.ListModels(ctx)
	return err
}
