// Package cloudauth provides the OAuth transport used by Vertex-hosted
// provider adapters, which authenticate with Google Cloud credentials
// instead of a provider API key.
package cloudauth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// cloudPlatformScope covers the Vertex AI prediction endpoints.
const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// GCPOAuthTransport injects a bearer token from Application Default
// Credentials on every outbound request. Tokens are cached and refreshed
// by the underlying token source.
type GCPOAuthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

// NewGCPOAuthTransport resolves Application Default Credentials and wraps
// base with bearer-token injection. When no scopes are given the
// cloud-platform scope is used.
func NewGCPOAuthTransport(ctx context.Context, base http.RoundTripper, scopes ...string) (*GCPOAuthTransport, error) {
	if len(scopes) == 0 {
		scopes = []string{cloudPlatformScope}
	}
	creds, err := google.FindDefaultCredentials(ctx, scopes...)
	if err != nil {
		return nil, fmt.Errorf("cloudauth: find GCP credentials: %w", err)
	}
	return &GCPOAuthTransport{
		base:   base,
		source: oauth2.ReuseTokenSource(nil, creds.TokenSource),
	}, nil
}

// newTransportFromSource builds a transport around an explicit token source,
// for tests that must not touch ADC.
func newTransportFromSource(base http.RoundTripper, ts oauth2.TokenSource) *GCPOAuthTransport {
	return &GCPOAuthTransport{base: base, source: oauth2.ReuseTokenSource(nil, ts)}
}

// RoundTrip fetches a token and forwards the request with it attached.
func (t *GCPOAuthTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	tok, err := t.source.Token()
	if err != nil {
		return nil, fmt.Errorf("cloudauth: obtain GCP token: %w", err)
	}
	out := r.Clone(r.Context())
	out.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	rt := t.base
	if rt == nil {
		rt = http.DefaultTransport
	}
	return rt.RoundTrip(out)
}
