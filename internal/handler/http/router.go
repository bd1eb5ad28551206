package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/stockledger/pkg/health"
	"github.com/utafrali/stockledger/pkg/middleware"
)

// ServiceName labels HTTP metrics and spans.
const ServiceName = "stockledger"

// RouterConfig holds the optional parts of the ops router.
type RouterConfig struct {
	// PprofCIDRs enables /debug/pprof for callers inside these networks.
	// Empty disables profiling.
	PprofCIDRs []string
}

// NewRouter creates the ops router: health probes, Prometheus metrics and
// optional pprof. Business operations are not exposed over HTTP.
func NewRouter(healthHandler *health.Handler, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(ServiceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	if len(cfg.PprofCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)
	}

	return r
}
