package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/reflectai/journal/internal/api/middleware"
	"github.com/reflectai/journal/internal/api/response"
	"github.com/reflectai/journal/internal/jobs"
	"github.com/reflectai/journal/internal/store"
	"github.com/reflectai/journal/pkg/models"
)

// Wire statuses exposed to pollers. Internal statuses are an implementation
// detail; clients only ever see these five.
const (
	WirePending = "PENDING"
	WireStarted = "STARTED"
	WireSuccess = "SUCCESS"
	WireFailure = "FAILURE"
	WireRevoked = "REVOKED"
)

// WireStatus maps an internal job status onto the polling wire format.
func WireStatus(internal string) string {
	switch internal {
	case models.JobStatusPending:
		return WirePending
	case models.JobStatusRunning:
		return WireStarted
	case models.JobStatusSucceeded:
		return WireSuccess
	case models.JobStatusFailed:
		return WireFailure
	case models.JobStatusCancelled:
		return WireRevoked
	}
	return WireFailure
}

// TaskService is the job control surface the task handlers need.
type TaskService interface {
	GetStatus(ctx context.Context, jobID uuid.UUID, userID uuid.UUID) (*models.Job, error)
	Cancel(ctx context.Context, jobID uuid.UUID, userID uuid.UUID) error
}

type taskStatusResponse struct {
	TaskID uuid.UUID   `json:"task_id"`
	Status string      `json:"status"`
	Result *taskResult `json:"result,omitempty"`
	Error  *string     `json:"error,omitempty"`
}

type taskResult struct {
	RunID uuid.UUID `json:"run_id"`
}

// NewGetTaskHandler returns the handler for GET /api/v1/tasks/{taskID}.
// The result block appears only on SUCCESS, the error string only on FAILURE.
func NewGetTaskHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "taskID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid task id", nil)
			return
		}

		job, err := svc.GetStatus(r.Context(), id, userID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get task", nil)
			return
		}

		resp := taskStatusResponse{
			TaskID: job.ID,
			Status: WireStatus(job.Status),
		}
		if job.Status == models.JobStatusSucceeded && job.RunID != nil {
			resp.Result = &taskResult{RunID: *job.RunID}
		}
		if job.Status == models.JobStatusFailed && job.ErrorMessage != nil {
			resp.Error = job.ErrorMessage
		}
		response.JSON(w, resp)
	}
}

// NewCancelTaskHandler returns the handler for DELETE /api/v1/tasks/{taskID}.
// Cancelling a terminal job is a conflict, not a no-op: the caller's view of
// the job is stale and it should re-poll.
func NewCancelTaskHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "taskID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid task id", nil)
			return
		}

		err = svc.Cancel(r.Context(), id, userID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
			return
		case errors.Is(err, jobs.ErrAlreadyTerminal):
			response.Error(w, http.StatusConflict, "ALREADY_TERMINAL", "Task already finished", nil)
			return
		case err != nil:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to cancel task", nil)
			return
		}

		response.JSON(w, map[string]any{
			"task_id": id,
			"status":  WireRevoked,
		})
	}
}
