package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eugener/radagast/internal/telemetry"
)

// statusLabel holds pre-rendered status code strings so the metrics path
// never calls strconv per request.
var statusLabel [600]string

func init() {
	for i := range statusLabel {
		statusLabel[i] = strconv.Itoa(i)
	}
}

// metricsMiddleware feeds request counts, latency, and in-flight gauge into
// the prometheus collectors. Routes are labeled by chi pattern so metric
// cardinality stays bounded regardless of path parameters.
func metricsMiddleware(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.ActiveRequests.Inc()
			start := time.Now()

			sw := statusWriterPool.Get().(*statusWriter)
			sw.ResponseWriter = w
			sw.status = http.StatusOK
			sw.wroteHeader = false

			next.ServeHTTP(sw, r)

			elapsed := time.Since(start).Seconds()
			status := sw.status
			sw.ResponseWriter = nil
			statusWriterPool.Put(sw)
			m.ActiveRequests.Dec()

			pattern := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}

			m.RequestsTotal.WithLabelValues(r.Method, pattern, statusLabel[status]).Inc()
			m.RequestDuration.WithLabelValues(r.Method, pattern).Observe(elapsed)
		})
	}
}
