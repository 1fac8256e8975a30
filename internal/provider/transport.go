// Package provider implements the adapter registry for LLM provider adapters.
//
// This file provides shared HTTP plumbing: tuned transports, rotatable
// provider credentials, and the retrying Do helper that implements the
// upstream call policy.
package provider

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/dnscache"

	gateway "github.com/eugener/radagast/internal"
)

const (
	// DefaultTimeout bounds a single upstream attempt.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the retry budget for 429 and network failures.
	DefaultMaxRetries = 3
)

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching. Set forceHTTP2 to true for remote HTTPS APIs, false
// for local HTTP/1.1 servers (e.g. Ollama).
func NewTransport(resolver *dnscache.Resolver, forceHTTP2 bool) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   forceHTTP2,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// Credential holds a provider API key that admin operations may rotate at
// runtime. Reads are lock-free.
type Credential struct {
	v atomic.Value // string
}

// NewCredential returns a Credential initialized with key.
func NewCredential(key string) *Credential {
	c := &Credential{}
	c.v.Store(key)
	return c
}

// Set replaces the stored key.
func (c *Credential) Set(key string) { c.v.Store(key) }

// Get returns the current key.
func (c *Credential) Get() string {
	k, _ := c.v.Load().(string)
	return k
}

type overrideKey int

const ctxKeyOverride overrideKey = 0

// ContextWithKeyOverride carries a caller-supplied provider API key
// (passthrough auth mode) down to the adapter's request builder.
func ContextWithKeyOverride(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxKeyOverride, key)
}

// KeyOverrideFromContext returns the passthrough key, or "".
func KeyOverrideFromContext(ctx context.Context) string {
	k, _ := ctx.Value(ctxKeyOverride).(string)
	return k
}

// ResolveKey returns the passthrough override when present, else the
// configured credential.
func ResolveKey(ctx context.Context, cred *Credential) string {
	if k := KeyOverrideFromContext(ctx); k != "" {
		return k
	}
	if cred == nil {
		return ""
	}
	return cred.Get()
}

// CallPolicy configures the retrying Do helper.
type CallPolicy struct {
	Timeout    time.Duration // per-attempt timeout; 0 = DefaultTimeout
	MaxRetries int           // retries after the first attempt; <0 = none, 0 = DefaultMaxRetries
}

func (p CallPolicy) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

func (p CallPolicy) retries() int {
	if p.MaxRetries < 0 {
		return 0
	}
	if p.MaxRetries == 0 {
		return DefaultMaxRetries
	}
	return p.MaxRetries
}

// cancelBody couples a response body to its attempt context so the timeout
// is released when the caller finishes reading.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Do issues an upstream request with the shared call policy:
//
//   - each attempt runs under its own timeout (default 30s);
//   - 429 responses honor Retry-After (seconds) and retry up to the budget;
//   - transport errors back off 1s, 2s, 4s, ... up to the budget;
//   - a 429 that survives retries becomes *RateLimitError, a transport error
//     becomes *NetworkError, an attempt timeout maps to gateway.ErrTimeout.
//
// build must return a fresh request (with a fresh body) for the given context
// on every call. Non-429 HTTP error statuses are returned to the caller
// undecoded; use ParseAPIError.
func Do(ctx context.Context, client *http.Client, providerName string,
	policy CallPolicy, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {

	retries := policy.retries()
	var lastRetryAfter time.Duration

	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.timeout())

		req, err := build(attemptCtx)
		if err != nil {
			cancel()
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			if attemptCtx.Err() == context.DeadlineExceeded {
				return nil, gateway.ErrTimeout
			}
			if attempt >= retries {
				return nil, &NetworkError{Provider: providerName, Err: err}
			}
			if err := sleepCtx(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastRetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
			resp.Body.Close()
			cancel()
			if attempt >= retries {
				return nil, &RateLimitError{Provider: providerName, RetryAfter: lastRetryAfter}
			}
			if err := sleepCtx(ctx, lastRetryAfter); err != nil {
				return nil, err
			}
			continue
		}

		resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
}

// parseRetryAfter interprets a Retry-After header value in seconds.
// Missing or malformed values fall back to one second.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return time.Second
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return time.Second
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
