package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/app"
	"github.com/eugener/radagast/internal/auth"
	"github.com/eugener/radagast/internal/cache"
	"github.com/eugener/radagast/internal/circuitbreaker"
	"github.com/eugener/radagast/internal/cloudauth"
	"github.com/eugener/radagast/internal/config"
	"github.com/eugener/radagast/internal/cost"
	"github.com/eugener/radagast/internal/provider"
	"github.com/eugener/radagast/internal/provider/anthropic"
	"github.com/eugener/radagast/internal/provider/cohere"
	"github.com/eugener/radagast/internal/provider/google"
	"github.com/eugener/radagast/internal/provider/openai"
	"github.com/eugener/radagast/internal/queue"
	"github.com/eugener/radagast/internal/ratelimit"
	"github.com/eugener/radagast/internal/server"
	"github.com/eugener/radagast/internal/storage/sqlite"
	"github.com/eugener/radagast/internal/telemetry"
	"github.com/eugener/radagast/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	setupLogger(cfg.Logging)
	slog.Info("starting radagast", "version", version, "addr", cfg.Server.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Auth stores. The generated admin password is printed exactly once, on
	// the run that creates the credentials file.
	creds := auth.NewCredentialStore(cfg.Auth.CredentialsPath)
	initialPassword, err := creds.Initialize()
	if err != nil {
		return err
	}
	if initialPassword != "" {
		fmt.Fprintf(os.Stdout, "generated admin password: %s\n", initialPassword)
	}
	sessions := auth.NewSessionStore(cfg.Auth.SessionTimeout, nil)
	keys, err := auth.NewKeyStore(cfg.Auth.KeysPath, nil)
	if err != nil {
		return err
	}

	authenticator := auth.NewAuthenticator(creds, sessions, keys, cfg.Auth.Embedded, nil)
	if cfg.Auth.GatewayKey != "" {
		authenticator.SetStaticKey(cfg.Auth.GatewayKey)
	}

	// Shared upstream transport with DNS caching.
	resolver := &dnscache.Resolver{}
	httpClient := &http.Client{Transport: provider.NewTransport(resolver, false)}

	reg := provider.NewRegistry()
	providerKeys := app.NewKeyManager()
	for _, p := range cfg.Providers {
		if !p.IsEnabled() {
			continue
		}
		adapter, cred, err := buildProvider(ctx, p, httpClient)
		if err != nil {
			return fmt.Errorf("provider %q: %w", p.Name, err)
		}
		if err := reg.Register(p.Name, adapter); err != nil {
			return err
		}
		if cred != nil {
			providerKeys.Register(p.Name, cred)
		}
	}
	if cfg.DefaultProvider != "" {
		if err := reg.SetDefault(cfg.DefaultProvider); err != nil {
			return err
		}
	}
	reg.Freeze()

	queues := queue.NewManager(queueOverrides(cfg), nil)
	defer queues.Close()

	var respCache cache.Cache
	if cfg.Cache.Enabled {
		mem, err := cache.NewMemory(cfg.Cache.MaxSize, cfg.Cache.DefaultTTL)
		if err != nil {
			return err
		}
		respCache = mem
	}

	tracker := cost.New(cost.Config{
		MaxRecords: cfg.Cost.MaxRecords,
		Retention:  cfg.Cost.Retention,
		Budget: cost.Budget{
			Warning: cfg.Cost.BudgetWarningUSD,
			Limit:   cfg.Cost.BudgetLimitUSD,
		},
	}, nil)
	tracker.OnWarning(func(total float64) {
		slog.Warn("monthly spend crossed the budget warning", "total_usd", total)
	})
	tracker.OnLimit(func(total float64) {
		slog.Error("monthly spend crossed the budget limit", "total_usd", total)
	})

	quotas := ratelimit.NewQuotaTracker()
	for _, k := range keys.ListActive() {
		if k.BudgetUSD != nil {
			quotas.Preload(k.ID, *k.BudgetUSD)
		}
	}
	recorder := worker.NewUsageRecorder(store)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())

	pipeline := app.NewPipeline(app.PipelineOptions{
		Providers: reg,
		Queues:    queues,
		Gate:      breakers,
		Cache:     respCache,
		CacheTTL:  cfg.Cache.DefaultTTL,
		Tracker:   tracker,
		Quotas:    quotas,
		Usage:     recorder,
	})

	limiter := ratelimit.NewService(ratelimit.Defaults{
		AnonymousRPM: cfg.RateLimits.AnonymousRPM,
		KeyRPM:       cfg.RateLimits.KeyRPM,
		KeyTPM:       cfg.RateLimits.KeyTPM,
	}, nil)

	var metrics *telemetry.Metrics
	var promHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(promReg)
		promHandler = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	handler := server.New(server.Deps{
		Auth:        authenticator,
		Pipeline:    pipeline,
		Providers:   reg,
		ProviderKey: providerKeys,
		Stats:       app.NewStatsService(reg, queues, respCache, tracker),
		Credentials: creds,
		Sessions:    sessions,
		GatewayKeys: keys,
		RateLimit:   limiter,
		Usage:       store,
		Metrics:     metrics,
		Prometheus:  promHandler,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	runner := worker.NewRunner(
		sessions,
		limiter,
		recorder,
		worker.NewUsageRollupWorker(store),
		worker.NewQuotaSyncWorker(quotas, store),
	)
	workersDone := make(chan error, 1)
	go func() {
		workersDone <- runner.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("radagast ready", "addr", cfg.Server.Addr)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		stop()
		<-workersDone
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-workersDone; err != nil {
		return err
	}

	slog.Info("radagast stopped")
	return nil
}

// setupLogger installs the process-wide slog handler.
func setupLogger(cfg config.LoggingConfig) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// callPolicy converts a provider entry's timeout and retry overrides. A
// configured max_retries of 0 disables retries rather than restoring the
// package default.
func callPolicy(p config.ProviderEntry) provider.CallPolicy {
	var pol provider.CallPolicy
	if p.TimeoutMs > 0 {
		pol.Timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}
	if p.MaxRetries != nil {
		pol.MaxRetries = *p.MaxRetries
		if pol.MaxRetries == 0 {
			pol.MaxRetries = -1
		}
	}
	return pol
}

// buildProvider constructs the adapter for one config entry. The returned
// credential handle is nil for Vertex hosting, where auth rides the OAuth
// transport instead of an API key.
func buildProvider(ctx context.Context, p config.ProviderEntry, httpClient *http.Client) (gateway.Provider, *provider.Credential, error) {
	pol := callPolicy(p)
	switch p.ResolvedType() {
	case "anthropic":
		if p.Hosting == "vertex" {
			oauthTransport, err := cloudauth.NewGCPOAuthTransport(ctx, httpClient.Transport)
			if err != nil {
				return nil, nil, err
			}
			client := &http.Client{Transport: oauthTransport, Timeout: httpClient.Timeout}
			adapter := anthropic.NewVertex(p.Name, p.BaseURL, p.Region, p.Project, client)
			adapter.SetCallPolicy(pol)
			adapter.SetStaticModels(p.Models)
			return adapter, nil, nil
		}
		cred := provider.NewCredential(p.APIKey)
		adapter := anthropic.New(p.Name, p.BaseURL, cred, httpClient)
		adapter.SetCallPolicy(pol)
		adapter.SetStaticModels(p.Models)
		return adapter, cred, nil

	case "google":
		cred := provider.NewCredential(p.APIKey)
		adapter := google.New(p.Name, p.BaseURL, cred, httpClient)
		adapter.SetCallPolicy(pol)
		return adapter, cred, nil

	case "cohere":
		cred := provider.NewCredential(p.APIKey)
		adapter := cohere.New(p.Name, p.BaseURL, cred, httpClient)
		adapter.SetCallPolicy(pol)
		return adapter, cred, nil

	default:
		cred := provider.NewCredential(p.APIKey)
		var adapter *openai.Client
		if p.Hosting == "azure" {
			adapter = openai.NewAzure(p.Name, p.BaseURL, p.Deployment, p.APIVersion, cred, httpClient)
		} else {
			adapter = openai.New(p.ResolvedType(), p.BaseURL, cred, httpClient)
		}
		adapter.SetCallPolicy(pol)
		adapter.SetStaticModels(p.Models)
		return adapter, cred, nil
	}
}

// queueOverrides converts config queue entries to per-provider budgets.
func queueOverrides(cfg *config.Config) map[string]queue.Config {
	if len(cfg.Queues) == 0 {
		return nil
	}
	out := make(map[string]queue.Config, len(cfg.Queues))
	for _, q := range cfg.Queues {
		out[q.Provider] = queue.Config{
			MaxQueueSize:  q.MaxQueueSize,
			MaxConcurrent: q.MaxConcurrent,
			RateLimit:     q.RateLimit,
			RateWindow:    q.RateWindow,
			ExecTimeout:   q.ExecTimeout,
		}
	}
	return out
}
