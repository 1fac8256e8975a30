package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
)

const (
	defaultBaseURL = "https://api.cohere.com/v1"
	providerName   = "cohere"
	streamTimeout  = 10 * time.Minute
)

var _ gateway.Provider = (*Client)(nil)

// Client is a Cohere provider adapter.
type Client struct {
	name    string
	baseURL string
	cred    *provider.Credential
	http    *http.Client
	policy  provider.CallPolicy
}

// New creates a Cohere Client. If baseURL is empty it defaults to the public
// v1 endpoint; pointing it elsewhere selects a different API revision.
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

// Name returns the instance identifier.
func (c *Client) Name() string { return c.name }

// SetCallPolicy overrides the per-attempt timeout and retry budget.
func (c *Client) SetCallPolicy(p provider.CallPolicy) { c.policy = p }

// Capabilities reports the Cohere v1 chat feature set.
func (c *Client) Capabilities() gateway.Capability {
	return gateway.CapChat | gateway.CapStreaming
}

func (c *Client) setHeaders(ctx context.Context, r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	if key := provider.ResolveKey(ctx, c.cred); key != "" {
		r.Header.Set("Authorization", "Bearer "+key)
	}
}

// ChatCompletion sends a non-streaming chat request.
func (c *Client) ChatCompletion(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	cReq, err := translateRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%w: cohere: %v", gateway.ErrBadRequest, err)
	}
	cReq.Stream = false

	body, err := json.Marshal(cReq)
	if err != nil {
		return nil, fmt.Errorf("cohere: marshal request: %w", err)
	}

	resp, err := provider.Do(ctx, c.http, c.name, c.policy, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("cohere: create request: %w", err)
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

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("cohere: read response: %w", err)
	}

	return translateResponse(respBody, req.Model)
}

// ChatCompletionStream sends a streaming chat request. Cohere streams
// line-delimited JSON events rather than SSE frames.
func (c *Client) ChatCompletionStream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	cReq, err := translateRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%w: cohere: %v", gateway.ErrBadRequest, err)
	}
	cReq.Stream = true

	body, err := json.Marshal(cReq)
	if err != nil {
		return nil, fmt.Errorf("cohere: marshal request: %w", err)
	}

	policy := c.policy
	policy.Timeout = streamTimeout
	resp, err := provider.Do(ctx, c.http, c.name, policy, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("cohere: create request: %w", err)
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
	go readStream(ctx, resp.Body, ch, req.Model)
	return ch, nil
}

// ListModels returns the available Cohere model IDs.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := provider.Do(ctx, c.http, c.name, c.policy, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
		if err != nil {
			return nil, fmt.Errorf("cohere: create request: %w", err)
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

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("cohere: read response: %w", err)
	}

	var ids []string
	gjson.ParseBytes(respBody).Get("models").ForEach(func(_, m gjson.Result) bool {
		ids = append(ids, m.Get("name").String())
		return true
	})
	return ids, nil
}

// ValidateKey verifies the configured credential by listing models.
func (c *Client) ValidateKey(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}
