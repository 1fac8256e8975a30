// Package app implements the request pipeline and application services for
// the Radagast LLM gateway.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/cache"
	"github.com/eugener/radagast/internal/cost"
	"github.com/eugener/radagast/internal/provider"
	"github.com/eugener/radagast/internal/queue"
	"github.com/eugener/radagast/internal/ratelimit"
	"github.com/eugener/radagast/internal/tokencount"
)

// UsageSink receives one record per completed request. Implementations must
// not block; the usage recorder worker drops on back-pressure.
type UsageSink interface {
	Record(rec gateway.UsageRecord)
}

// Pipeline is the chat completion orchestrator: model resolution, budget
// checks, cache lookup, queue admission, the provider call, and accounting.
type Pipeline struct {
	providers *provider.Registry
	queues    *queue.Manager
	gate      provider.HealthGate
	cache     cache.Cache // nil disables response caching
	cacheTTL  time.Duration
	tracker   *cost.Tracker
	quotas    *ratelimit.QuotaTracker
	usage     UsageSink // optional
	counter   *tokencount.Counter
	logger    *slog.Logger
}

// PipelineOptions wires the pipeline's collaborators. Providers and Queues
// are required; everything else degrades gracefully when nil.
type PipelineOptions struct {
	Providers *provider.Registry
	Queues    *queue.Manager
	Gate      provider.HealthGate
	Cache     cache.Cache
	CacheTTL  time.Duration
	Tracker   *cost.Tracker
	Quotas    *ratelimit.QuotaTracker
	Usage     UsageSink
	Logger    *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Pipeline{
		providers: opts.Providers,
		queues:    opts.Queues,
		gate:      opts.Gate,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		tracker:   opts.Tracker,
		quotas:    opts.Quotas,
		usage:     opts.Usage,
		counter:   tokencount.NewCounter(),
		logger:    opts.Logger,
	}
}

// target is a resolved provider/model pair for one request.
type target struct {
	provider string
	model    string
}

// resolve maps the request model to a provider, honoring a passthrough
// principal's X-Provider selection, and returns a context carrying any
// caller-supplied provider key.
func (pl *Pipeline) resolve(ctx context.Context, req *gateway.ChatRequest) (context.Context, target, error) {
	p := gateway.PrincipalFromContext(ctx)
	if p != nil && p.Mode == gateway.ModePassthrough {
		name := p.TargetProvider
		model := req.Model
		if name == "" {
			var err error
			name, model, err = pl.providers.ResolveModel(req.Model)
			if err != nil {
				return ctx, target{}, err
			}
		}
		if !pl.providers.Has(name) {
			return ctx, target{}, fmt.Errorf("%w: provider %q not configured", gateway.ErrNotFound, name)
		}
		ctx = provider.ContextWithKeyOverride(ctx, p.ProviderAPIKey)
		return ctx, target{provider: name, model: model}, nil
	}

	name, model, err := pl.providers.ResolveModel(req.Model)
	if err != nil {
		return ctx, target{}, err
	}
	return ctx, target{provider: name, model: model}, nil
}

// checkBudget rejects requests from gateway keys that have exhausted their
// spend cap.
func (pl *Pipeline) checkBudget(p *gateway.Principal) error {
	if pl.quotas == nil || p == nil || p.GatewayKey == nil || p.GatewayKey.BudgetUSD == nil {
		return nil
	}
	if !pl.quotas.Check(p.GatewayKey.ID, *p.GatewayKey.BudgetUSD) {
		return fmt.Errorf("%w: gateway key budget exhausted", gateway.ErrBudgetExceeded)
	}
	return nil
}

// ChatCompletion runs the full non-streaming pipeline.
func (pl *Pipeline) ChatCompletion(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	principal := gateway.PrincipalFromContext(ctx)
	if err := pl.checkBudget(principal); err != nil {
		return nil, err
	}

	ctx, tgt, err := pl.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	outReq := *req
	outReq.Model = tgt.model
	outReq.Stream = false

	start := time.Now()

	// Passthrough responses are produced under the caller's own provider
	// credential and are never cached.
	cacheable := pl.cache != nil && (principal == nil || principal.Mode != gateway.ModePassthrough)
	var fp string
	if cacheable {
		fp = cache.Fingerprint(&outReq)
		if data, ok := pl.cache.Get(ctx, fp); ok {
			var resp gateway.ChatResponse
			if err := json.Unmarshal(data, &resp); err == nil {
				pl.account(ctx, principal, &resp, tgt, start, true)
				return &resp, nil
			}
			pl.cache.Delete(ctx, fp)
		}
	}

	done, err := pl.queues.Get(tgt.provider).Enqueue(ctx, pl.priority(principal), func(ctx context.Context) (*gateway.ChatResponse, error) {
		resp, _, err := pl.providers.ChatWithFallback(ctx, &outReq, []string{tgt.provider}, pl.gate)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	var resp *gateway.ChatResponse
	select {
	case res := <-done:
		if res.Err != nil {
			return nil, res.Err
		}
		resp = res.Resp
	case <-ctx.Done():
		return nil, gateway.ErrCanceled
	}

	pl.normalize(resp, &outReq, tgt.model)
	pl.account(ctx, principal, resp, tgt, start, false)

	if cacheable {
		if data, err := json.Marshal(resp); err == nil {
			pl.cache.Set(ctx, fp, data, pl.cacheTTL)
		}
	}
	return resp, nil
}

// StreamChatCompletion runs the streaming pipeline. Responses are never
// cached; usage is accounted when the provider reports it on the final chunk.
func (pl *Pipeline) StreamChatCompletion(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	principal := gateway.PrincipalFromContext(ctx)
	if err := pl.checkBudget(principal); err != nil {
		return nil, err
	}

	ctx, tgt, err := pl.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	if pl.gate != nil && !pl.gate.Allow(tgt.provider) {
		return nil, fmt.Errorf("%w: provider %q circuit open", gateway.ErrProviderError, tgt.provider)
	}

	p, err := pl.providers.Get(tgt.provider)
	if err != nil {
		return nil, err
	}

	outReq := *req
	outReq.Model = tgt.model
	outReq.Stream = true

	start := time.Now()
	upstream, err := p.ChatCompletionStream(ctx, &outReq)
	if pl.gate != nil {
		pl.gate.Observe(tgt.provider, err)
	}
	if err != nil {
		return nil, err
	}

	out := make(chan gateway.StreamChunk)
	go func() {
		defer close(out)
		for chunk := range upstream {
			if chunk.Err != nil && pl.gate != nil {
				pl.gate.Observe(tgt.provider, chunk.Err)
			}
			if chunk.Done && chunk.Usage != nil {
				pl.account(ctx, principal, &gateway.ChatResponse{
					Model: tgt.model,
					Usage: chunk.Usage,
				}, tgt, start, false)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// priority ranks authenticated callers ahead of anonymous traffic in the
// admission queue.
func (pl *Pipeline) priority(p *gateway.Principal) int {
	if p != nil && p.Authenticated {
		return 1
	}
	return 0
}

// normalize fills the response fields some upstreams omit so callers always
// see a complete OpenAI-shaped response.
func (pl *Pipeline) normalize(resp *gateway.ChatResponse, req *gateway.ChatRequest, model string) {
	if resp.ID == "" {
		resp.ID = "chatcmpl-" + uuid.Must(uuid.NewV7()).String()
	}
	if resp.Object == "" {
		resp.Object = "chat.completion"
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	if resp.Model == "" {
		resp.Model = model
	}
	if resp.Usage == nil {
		// Local engines often omit usage. Estimate so pricing and quota
		// accounting stay meaningful.
		prompt := pl.counter.EstimateRequest(model, req.Messages)
		var completion int
		for _, c := range resp.Choices {
			completion += pl.counter.CountText(model, c.Message.TextContent())
		}
		resp.Usage = &gateway.Usage{PromptTokens: prompt, CompletionTokens: completion}
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
}

// account prices the response, consumes budget, and emits a usage record.
func (pl *Pipeline) account(ctx context.Context, principal *gateway.Principal, resp *gateway.ChatResponse, tgt target, start time.Time, cached bool) {
	var costUSD float64
	if pl.tracker != nil {
		rec := pl.tracker.Track(resp, tgt.provider)
		costUSD = rec.CostUSD
	}

	var keyID string
	if principal != nil && principal.GatewayKey != nil {
		keyID = principal.GatewayKey.ID
		if pl.quotas != nil && costUSD > 0 {
			pl.quotas.Consume(keyID, costUSD)
		}
	}

	if pl.usage == nil {
		return
	}
	rec := gateway.UsageRecord{
		KeyID:      keyID,
		Provider:   tgt.provider,
		Model:      resp.Model,
		CostUSD:    costUSD,
		Cached:     cached,
		LatencyMs:  time.Since(start).Milliseconds(),
		StatusCode: 200,
		RequestID:  gateway.RequestIDFromContext(ctx),
		CreatedAt:  time.Now().UTC(),
	}
	if resp.Usage != nil {
		rec.PromptTokens = resp.Usage.PromptTokens
		rec.CompletionTokens = resp.Usage.CompletionTokens
		rec.TotalTokens = resp.Usage.TotalTokens
	}
	pl.usage.Record(rec)
}
