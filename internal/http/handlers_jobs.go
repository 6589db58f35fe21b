// Package httpx provides HTTP handlers and utilities for the fix-agent job system API.
package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/fortify-rocks/fix-agent/internal/core"
	"github.com/fortify-rocks/fix-agent/internal/domain/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc core.JobQueue
}

// CreateJob handles HTTP requests to enqueue a new job.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.Enqueue(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// GetJob handles HTTP requests to fetch one job by id.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(w, ErrorParams{
			Code: http.StatusBadRequest, ErrCode: "invalid_path",
			Err: errors.New("job id is required"),
		})
		return
	}

	job, err := h.Svc.Get(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// CancelJob handles HTTP requests to cancel a job. Pending jobs never run;
// in-progress jobs stop at the worker's next checkpoint.
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(w, ErrorParams{
			Code: http.StatusBadRequest, ErrCode: "invalid_path",
			Err: errors.New("job id is required"),
		})
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	// An empty body is a cancel with the default reason.
	if r.Body != nil && r.ContentLength != 0 {
		if !DecodeJSON(w, r, &body) {
			return
		}
	}

	if err := h.Svc.Cancel(r.Context(), jobID, body.Reason); err != nil {
		WriteAppError(w, err)
		return
	}

	job, err := h.Svc.Get(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles HTTP requests to list jobs in a given status.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := model.JobStatus(r.URL.Query().Get("status"))
	if !status.Valid() {
		WriteError(w, ErrorParams{
			Code: http.StatusBadRequest, ErrCode: "invalid_status",
			Err: errors.New("status query parameter must be one of PENDING, IN_PROGRESS, COMPLETED, FAILED, CANCELLED"),
		})
		return
	}
	limit := parseIntQuery(r, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}

	jobs, err := h.Svc.ListByStatus(r.Context(), status, int64(limit))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// Stats handles HTTP requests for per-status queue depths.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// parseIntQuery returns the integer query parameter or the default when
// absent or malformed.
func parseIntQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
