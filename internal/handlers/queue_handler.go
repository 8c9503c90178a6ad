package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hashbid/backend/internal/bidderrors"
	"github.com/hashbid/backend/internal/queue"
	"github.com/hashbid/backend/internal/services"
)

// QueueHandler exposes the administrative queue surface.
type QueueHandler struct {
	pool *queue.Pool
}

func NewQueueHandler(pool *queue.Pool) *QueueHandler {
	return &QueueHandler{pool: pool}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

type statusEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// GetMetrics returns queue counts and throughput
// @Summary Queue metrics
// @Tags queue
// @Produce json
// @Success 200 {object} queue.Metrics
// @Router /queue/metrics [get]
func (h *QueueHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.pool.Metrics(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "failed to collect metrics", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// GetHealth returns the queue health verdict
// @Summary Queue health
// @Tags queue
// @Produce json
// @Success 200 {object} queue.Health
// @Router /queue/health [get]
func (h *QueueHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.pool.Health(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "failed to derive health", http.StatusInternalServerError, nil)
		return
	}
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// GetJob returns one job by id
// @Summary Job status
// @Tags queue
// @Produce json
// @Success 200 {object} queue.Job
// @Failure 404 {object} services.ErrorResponse
// @Router /queue/jobs/{jobId} [get]
func (h *QueueHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.pool.GetJob(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		h.jobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// RetryJob re-enqueues a failed job
// @Summary Retry a failed job
// @Tags queue
// @Produce json
// @Success 200 {object} statusEnvelope
// @Failure 404 {object} services.ErrorResponse
// @Router /queue/jobs/{jobId}/retry [post]
func (h *QueueHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if err := h.pool.RetryJob(r.Context(), jobID); err != nil {
		h.jobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusEnvelope{Status: "ok", Message: "job " + jobID + " re-enqueued"})
}

// RemoveJob deletes a job
// @Summary Remove a job
// @Tags queue
// @Produce json
// @Success 200 {object} statusEnvelope
// @Failure 404 {object} services.ErrorResponse
// @Router /queue/jobs/{jobId} [delete]
func (h *QueueHandler) RemoveJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if err := h.pool.RemoveJob(r.Context(), jobID); err != nil {
		h.jobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusEnvelope{Status: "ok", Message: "job " + jobID + " removed"})
}

// Cleanup deletes terminal jobs older than the given age
// @Summary Cleanup terminal jobs
// @Tags queue
// @Produce json
// @Param olderThan query int false "age threshold in milliseconds"
// @Success 200 {object} statusEnvelope
// @Router /queue/cleanup [post]
func (h *QueueHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	olderThan := 24 * time.Hour
	if raw := r.URL.Query().Get("olderThan"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			services.SendErrorResponse(w, "olderThan must be a non-negative millisecond count", http.StatusBadRequest, nil)
			return
		}
		olderThan = time.Duration(ms) * time.Millisecond
	}

	removed, err := h.pool.Cleanup(r.Context(), olderThan)
	if err != nil {
		services.SendErrorResponse(w, "cleanup failed", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, statusEnvelope{Status: "ok", Message: "removed " + strconv.Itoa(removed) + " jobs"})
}

// Pause stops dispatching jobs to workers
// @Summary Pause the queue
// @Tags queue
// @Produce json
// @Success 200 {object} statusEnvelope
// @Router /queue/pause [post]
func (h *QueueHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.pool.Pause()
	writeJSON(w, http.StatusOK, statusEnvelope{Status: "ok", Message: "queue paused"})
}

// Resume restarts dispatching
// @Summary Resume the queue
// @Tags queue
// @Produce json
// @Success 200 {object} statusEnvelope
// @Router /queue/resume [post]
func (h *QueueHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.pool.Resume()
	writeJSON(w, http.StatusOK, statusEnvelope{Status: "ok", Message: "queue resumed"})
}

func (h *QueueHandler) jobError(w http.ResponseWriter, err error) {
	if errors.Is(err, bidderrors.ErrJobNotFound) {
		services.SendReasonResponse(w, err.Error(), bidderrors.Code(err), http.StatusNotFound)
		return
	}
	services.SendReasonResponse(w, err.Error(), bidderrors.Code(err), http.StatusConflict)
}
