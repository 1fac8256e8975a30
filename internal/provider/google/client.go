package google

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

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	providerName   = "google"
	streamTimeout  = 10 * time.Minute
)

var _ gateway.Provider = (*Client)(nil)

// Client is a Google Gemini provider adapter.
type Client struct {
	name    string
	baseURL string
	cred    *provider.Credential
	http    *http.Client
	policy  provider.CallPolicy
}

// New creates a Gemini Client. If baseURL is empty it defaults to the public
// Generative Language endpoint.
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

// Capabilities reports the Gemini feature set.
func (c *Client) Capabilities() gateway.Capability {
	return gateway.CapChat | gateway.CapStreaming | gateway.CapTools | gateway.CapVision | gateway.CapEmbedding
}

func (c *Client) setHeaders(ctx context.Context, r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	if key := provider.ResolveKey(ctx, c.cred); key != "" {
		r.Header.Set("x-goog-api-key", key)
	}
}

// ChatCompletion sends a non-streaming generateContent request.
func (c *Client) ChatCompletion(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	body, err := json.Marshal(translateRequest(req))
	if err != nil {
		return nil, fmt.Errorf("google: marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(req.Model))
	resp, err := provider.Do(ctx, c.http, c.name, c.policy, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("google: create request: %w", err)
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
		return nil, fmt.Errorf("google: read response: %w", err)
	}

	return translateResponse(respBody, req.Model)
}

// ChatCompletionStream sends a streaming generateContent request.
// Gemini streams line-wise data frames with no [DONE] sentinel; the stream
// ends at EOF.
func (c *Client) ChatCompletionStream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	body, err := json.Marshal(translateRequest(req))
	if err != nil {
		return nil, fmt.Errorf("google: marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, url.PathEscape(req.Model))
	policy := c.policy
	policy.Timeout = streamTimeout
	resp, err := provider.Do(ctx, c.http, c.name, policy, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("google: create request: %w", err)
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

// ListModels returns the available Gemini model IDs with the "models/"
// prefix stripped.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := provider.Do(ctx, c.http, c.name, c.policy, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
		if err != nil {
			return nil, fmt.Errorf("google: create request: %w", err)
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
		return nil, fmt.Errorf("google: read response: %w", err)
	}

	var ids []string
	gjson.ParseBytes(respBody).Get("models").ForEach(func(_, model gjson.Result) bool {
		name := model.Get("name").String()
		if after, ok := strings.CutPrefix(name, "models/"); ok {
			ids = append(ids, after)
		} else {
			ids = append(ids, name)
		}
		return true
	})
	return ids, nil
}

// ValidateKey verifies the configured credential by listing models.
func (c *Client) ValidateKey(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}
