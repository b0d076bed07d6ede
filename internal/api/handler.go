// Package api provides the HTTP API handlers and routing for the jobs service.
package api

import (
	"encoding/json"
	"fmt"
	"jobengine/internal/apperrors"
	"jobengine/internal/health"
	"jobengine/internal/job"
	"jobengine/internal/observability"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Default pagination for GET /v1/jobs
const (
	defaultPage = 1
	defaultSize = 20
)

// Handler contains HTTP handlers for the jobs API
type Handler struct {
	svc     *job.Service
	metrics *observability.Metrics
	health  *health.Checker

	// streamPoll is how often the log stream re-reads a job.
	streamPoll time.Duration
}

// NewHandler creates a new API handler
func NewHandler(svc *job.Service, metrics *observability.Metrics, healthChecker *health.Checker) *Handler {
	return &Handler{
		svc:        svc,
		metrics:    metrics,
		health:     healthChecker,
		streamPoll: 500 * time.Millisecond,
	}
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var spec job.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		h.handleError(w, r, apperrors.Validation("body", "invalid request body: "+err.Error()))
		return
	}

	resp, err := h.svc.Create(r.Context(), &spec)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ListJobs handles GET /v1/jobs?page=&size=&status=&created_by=&parent_job_id=
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, err := intQuery(query.Get("page"), defaultPage)
	if err != nil {
		h.handleError(w, r, apperrors.Validation("page", "page must be an integer"))
		return
	}
	size, err := intQuery(query.Get("size"), defaultSize)
	if err != nil {
		h.handleError(w, r, apperrors.Validation("size", "size must be an integer"))
		return
	}

	resp, err := h.svc.List(r.Context(), job.ListParams{
		Page:        page,
		Size:        size,
		Status:      query.Get("status"),
		CreatedBy:   query.Get("created_by"),
		ParentJobID: query.Get("parent_job_id"),
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.handleError(w, r, apperrors.Validation("jobId", "job id is required"))
		return
	}

	j, err := h.svc.Get(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, j)
}

// GetJobLogs handles GET /v1/jobs/{jobId}/logs
func (h *Handler) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.svc.Logs(r.Context(), r.PathValue("jobId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, logs)
}

// GetJobResult handles GET /v1/jobs/{jobId}/result.
// Directories are sent as a tar.gz archive built for this request.
func (h *Handler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	file, err := h.svc.Result(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	defer func() {
		if err := file.Cleanup(); err != nil {
			slog.Warn("Failed to remove temporary result archive", "jobId", jobID, "path", file.Path, "error", err)
		}
	}()

	f, err := os.Open(file.Path)
	if err != nil {
		h.handleError(w, r, apperrors.NotFound("result file", jobID))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.handleError(w, r, apperrors.Infrastructure("api.result", err))
		return
	}

	if file.ContentType != "" {
		w.Header().Set("Content-Type", file.ContentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	http.ServeContent(w, r, file.Name, info.ModTime(), f)
}

// CancelJob handles DELETE /v1/jobs/{jobId}
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.handleError(w, r, apperrors.Validation("jobId", "job id is required"))
		return
	}

	j, err := h.svc.Cancel(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, j)
}

// GetStats handles GET /v1/jobs/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if a required dependency (container runtime, database) is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// handleError maps err to its status and writes an apperrors.Body.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	logger := slog.With("requestId", RequestID(r.Context()), "path", r.URL.Path, "status", status)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err)
	} else {
		logger.Debug("Request rejected", "error", err)
	}
	h.writeJSON(w, status, apperrors.ToBody(err))
}

func intQuery(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
