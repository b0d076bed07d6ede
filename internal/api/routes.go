package api

import (
	"jobengine/internal/health"
	"jobengine/internal/job"
	"jobengine/internal/observability"
	"net/http"

	"golang.org/x/time/rate"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	JobService    *job.Service
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
	CreateLimiter *rate.Limiter // nil disables the limit on POST /v1/jobs
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.JobService, cfg.Metrics, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Probes are unauthenticated.
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	auth := AuthMiddleware(cfg.APIKey)
	limitCreate := RateLimitMiddleware(cfg.CreateLimiter)
	mux.Handle("POST /v1/jobs", auth(limitCreate(http.HandlerFunc(handler.CreateJob))))
	mux.Handle("GET /v1/jobs", auth(http.HandlerFunc(handler.ListJobs)))
	mux.Handle("GET /v1/jobs/stats", auth(http.HandlerFunc(handler.GetStats)))
	mux.Handle("GET /v1/jobs/{jobId}", auth(http.HandlerFunc(handler.GetJob)))
	mux.Handle("GET /v1/jobs/{jobId}/logs", auth(http.HandlerFunc(handler.GetJobLogs)))
	mux.Handle("GET /v1/jobs/{jobId}/logs/stream", auth(http.HandlerFunc(handler.StreamJobLogs)))
	mux.Handle("GET /v1/jobs/{jobId}/result", auth(http.HandlerFunc(handler.GetJobResult)))
	mux.Handle("DELETE /v1/jobs/{jobId}", auth(http.HandlerFunc(handler.CancelJob)))

	// Innermost first; RequestIDMiddleware ends up outermost so every other
	// layer sees the id.
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)
	h = RequestIDMiddleware()(h)

	return h
}
