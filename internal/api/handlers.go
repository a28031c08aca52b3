package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"quotaguard/internal/engine"
	"quotaguard/internal/models"
	"quotaguard/internal/throttler"
	"quotaguard/internal/version"
)

// ThrottlerService is the part of the engine the HTTP layer depends on.
type ThrottlerService interface {
	Status() models.ThrottlerStatusResponse
	Tasks() []models.TaskInfo
	Task(id string) (*models.TaskInfo, error)
	Fetch(ctx context.Context, id string) (*models.TaskValueResponse, error)
	Reset(ctx context.Context, id string) error
	Reconcile()
	Ping(ctx context.Context) error
}

// Handlers contains HTTP handlers for the quotaguard API
type Handlers struct {
	service   ThrottlerService
	logger    *slog.Logger
	startedAt time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(service ThrottlerService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// GetThrottlerStatus reports the strategy flow and the quota window.
// GET /api/v1/throttler
func (h *Handlers) GetThrottlerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.service.Status())
}

// Reconcile recomputes the global delay immediately.
// POST /api/v1/throttler/reconcile
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.service.Reconcile()
	h.writeJSONResponse(w, http.StatusOK, models.ActionResponse{
		Message:   "throttler reconciled",
		Timestamp: time.Now(),
	})
}

// ListTasks handles task list requests
// GET /api/v1/tasks
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.service.Tasks()
	h.writeJSONResponse(w, http.StatusOK, models.ListTasksResponse{
		Tasks:      tasks,
		TotalCount: len(tasks),
	})
}

// GetTask describes one task and its cache state.
// GET /api/v1/tasks/{task_id}
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Task(mux.Vars(r)["task_id"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, info)
}

// GetTaskValue returns the task value, calling the provider when the cache
// allows it.
// GET /api/v1/tasks/{task_id}/value
func (h *Handlers) GetTaskValue(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]

	resp, err := h.service.Fetch(r.Context(), taskID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if resp.Stale {
		w.Header().Set("Warning", `110 - "Response is Stale"`)
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// ResetTask evicts the cached value of a task.
// POST /api/v1/tasks/{task_id}/reset
func (h *Handlers) ResetTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]

	if err := h.service.Reset(r.Context(), taskID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, models.ActionResponse{
		Message:   "task '" + taskID + "' reset",
		Timestamp: time.Now(),
	})
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.Version
	response.Uptime = time.Since(h.startedAt).Round(time.Second).String()

	statusCode := http.StatusOK
	if err := h.service.Ping(r.Context()); err != nil {
		response.Status = models.StatusUnhealthy
		response.AddComponent("storage", models.StatusUnhealthy, err.Error())
		statusCode = http.StatusServiceUnavailable
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
	}

	status := h.service.Status()
	response.AddComponent("throttler", models.StatusHealthy, "Flow "+status.Flow)
	if status.Flow != throttler.FlowNormal.String() && response.Status == models.StatusHealthy {
		response.Status = models.StatusDegraded
	}
	response.AddMetric("remaining_reads", status.RemainingReads)
	response.AddMetric("task_count", status.TaskCount)

	h.writeJSONResponse(w, statusCode, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written.
		h.logger.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}

// writeServiceError maps engine errors onto the error envelope. Throttled
// responses carry Retry-After in whole seconds, rounded up.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *engine.ServiceError
	if !errors.As(err, &svcErr) {
		h.logger.Error("Unexpected service error", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
		return
	}

	if svcErr.StatusCode >= http.StatusInternalServerError {
		h.logger.Warn("Request failed", "code", svcErr.Code, "error", err)
	}
	if svcErr.StatusCode == http.StatusTooManyRequests && svcErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(svcErr.RetryAfter)))
	}
	h.writeErrorResponse(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
}

func retryAfterSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
