// Package telemetry provides the gateway's prometheus collectors and OTLP
// tracing setup.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "radagast"

// Metrics holds every prometheus collector the gateway exports.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	RateLimitRejects *prometheus.CounterVec
	TokensProcessed  *prometheus.CounterVec
	UsageQueueLength prometheus.Gauge
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

func histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                      namespace,
		Name:                           name,
		Help:                           help,
		NativeHistogramBucketFactor:    1.1,
		NativeHistogramMaxBucketNumber: 100,
	}, labels)
}

// NewMetrics creates all collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal:    counterVec("requests_total", "Total number of HTTP requests.", "method", "path", "status"),
		RequestDuration:  histogramVec("request_duration_seconds", "HTTP request duration in seconds.", "method", "path"),
		ActiveRequests:   gauge("active_requests", "Number of currently active requests."),
		UpstreamDuration: histogramVec("upstream_duration_seconds", "Upstream provider call duration in seconds.", "provider", "model"),
		UpstreamErrors:   counterVec("upstream_errors_total", "Total upstream provider errors.", "provider", "status"),
		CacheHits:        counter("cache_hits_total", "Total response cache hits."),
		CacheMisses:      counter("cache_misses_total", "Total response cache misses."),
		RateLimitRejects: counterVec("ratelimit_rejects_total", "Total rate limit rejections.", "type"),
		TokensProcessed:  counterVec("tokens_processed_total", "Total tokens processed.", "model", "type"),
		UsageQueueLength: gauge("usage_queue_length", "Current number of queued usage records."),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.CacheHits,
		m.CacheMisses,
		m.RateLimitRejects,
		m.TokensProcessed,
		m.UsageQueueLength,
	)
	return m
}
