package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	providerName     = "anthropic"
	anthropicVersion = "2023-06-01"
	streamTimeout    = 10 * time.Minute
)

var _ gateway.Provider = (*Client)(nil)

// Client is an Anthropic provider adapter.
type Client struct {
	name    string
	baseURL string
	cred    *provider.Credential
	http    *http.Client
	policy  provider.CallPolicy
	static  []string // overrides the built-in model list
	hosting string   // "", "vertex"
	region  string   // GCP region for Vertex
	project string   // GCP project for Vertex
}

// New creates an Anthropic Client for direct API access. If baseURL is empty
// it defaults to the public endpoint. cred holds the x-api-key credential.
func New(name, baseURL string, cred *provider.Credential, client *http.Client) *Client {
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
	}
}

// NewVertex creates a Client that reaches Claude models through Vertex AI.
// Auth must be configured on the http.Client's transport chain (OAuth2
// token source); region and project locate the publisher endpoint.
func NewVertex(name, baseURL, region, project string, client *http.Client) *Client {
	c := New(name, baseURL, nil, client)
	c.hosting = "vertex"
	c.region = region
	c.project = project
	return c
}

// Name returns the instance identifier.
func (c *Client) Name() string { return c.name }

// Capabilities reports the feature set of the Messages API.
func (c *Client) Capabilities() gateway.Capability {
	return gateway.CapChat | gateway.CapStreaming | gateway.CapTools | gateway.CapVision
}

// ChatCompletion sends a non-streaming chat completion request.
func (c *Client) ChatCompletion(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	aReq, err := translateRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: %v", gateway.ErrBadRequest, err)
	}
	aReq.Stream = false

	body, err := c.marshalForHosting(aReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	resp, err := provider.Do(ctx, c.http, c.name, c.policy, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(req.Model), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("anthropic: create request: %w", err)
		}
		c.setHeaders(ctx, httpReq)
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}

	return translateResponse(respBody)
}

// ChatCompletionStream sends a streaming chat completion request. Anthropic
// SSE events are re-emitted as OpenAI chat.completion.chunk JSON.
func (c *Client) ChatCompletionStream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	aReq, err := translateRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: %v", gateway.ErrBadRequest, err)
	}
	aReq.Stream = true

	body, err := c.marshalForHosting(aReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	policy := c.policy
	policy.Timeout = streamTimeout
	resp, err := provider.Do(ctx, c.http, c.name, policy, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamingURL(req.Model), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("anthropic: create request: %w", err)
		}
		c.setHeaders(ctx, httpReq)
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(providerName, resp)
	}

	ch := make(chan gateway.StreamChunk, 8)
	go readStream(ctx, resp.Body, ch)
	return ch, nil
}

// SetCallPolicy overrides the per-attempt timeout and retry budget.
func (c *Client) SetCallPolicy(p provider.CallPolicy) { c.policy = p }

// SetStaticModels replaces the built-in model list.
func (c *Client) SetStaticModels(models []string) {
	if len(models) > 0 {
		c.static = models
	}
}

// ListModels returns the known Claude model IDs. The Messages API has no
// model listing suitable for gateway dispatch, so the list is static.
func (c *Client) ListModels(_ context.Context) ([]string, error) {
	if c.static != nil {
		return c.static, nil
	}
	return []string{
		"claude-opus-4-1",
		"claude-sonnet-4-0",
		"claude-3-5-haiku-latest",
	}, nil
}

// ValidateKey verifies the configured credential. A deliberately invalid
// minimal request distinguishes auth failures from validation failures:
// a bad key yields 401, a good key yields 400.
func (c *Client) ValidateKey(ctx context.Context) error {
	if c.hosting == "vertex" {
		return nil // auth lives in the transport chain
	}
	body := []byte(`{"model":"claude-3-5-haiku-latest","max_tokens":1,"messages":[]}`)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(""), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("anthropic: create validate request: %w", err)
	}
	c.setHeaders(ctx, httpReq)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &provider.NetworkError{Provider: providerName, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return provider.ParseAPIError(providerName, resp)
	}
	return nil
}

// setHeaders applies Anthropic-specific headers. Direct mode authenticates
// with x-api-key; Vertex auth rides the transport chain and the version
// moves into the request body.
func (c *Client) setHeaders(ctx context.Context, r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	if c.hosting == "vertex" {
		return
	}
	r.Header.Set("anthropic-version", anthropicVersion)
	if key := provider.ResolveKey(ctx, c.cred); key != "" {
		r.Header.Set("x-api-key", key)
	}
}

// messagesURL returns the messages endpoint. Vertex uses the publisher
// rawPredict endpoint with the model in the path.
func (c *Client) messagesURL(model string) string {
	if c.hosting == "vertex" {
		return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/anthropic/models/%s:rawPredict",
			c.baseURL, c.project, c.region, url.PathEscape(model))
	}
	return c.baseURL + "/messages"
}

// streamingURL returns the streaming endpoint. Vertex streams through
// streamRawPredict; direct mode shares the messages endpoint.
func (c *Client) streamingURL(model string) string {
	if c.hosting == "vertex" {
		return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/anthropic/models/%s:streamRawPredict",
			c.baseURL, c.project, c.region, url.PathEscape(model))
	}
	return c.messagesURL(model)
}

// marshalForHosting serializes the request. Vertex puts anthropic_version in
// the body and the model in the URL.
func (c *Client) marshalForHosting(aReq *anthropicRequest) ([]byte, error) {
	if c.hosting != "vertex" {
		return json.Marshal(aReq)
	}
	type vertexRequest struct {
		AnthropicVersion string `json:"anthropic_version"`
		anthropicRequest
	}
	vReq := vertexRequest{AnthropicVersion: "vertex-2023-10-16", anthropicRequest: *aReq}
	vReq.Model = "" // the model lives in the URL
	return json.Marshal(vReq)
}
