package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/reflectai/journal/internal/api/middleware"
	"github.com/reflectai/journal/internal/api/response"
	"github.com/reflectai/journal/internal/jobs"
	"github.com/reflectai/journal/pkg/models"
)

// Submitter accepts clustering run requests.
type Submitter interface {
	Submit(ctx context.Context, userID uuid.UUID, params models.ClusteringParameters) (uuid.UUID, error)
}

// NewRunClusteringHandler returns the handler for POST /api/v1/clustering/run.
// Omitted parameters fall back to the defaults; validation happens
// synchronously and a job is only created for a valid request.
func NewRunClusteringHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		params := models.DefaultClusteringParameters()
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		}

		jobID, err := svc.Submit(r.Context(), userID, params)
		if err != nil {
			switch {
			case errors.Is(err, jobs.ErrInsufficientData):
				response.Error(w, http.StatusBadRequest, "INSUFFICIENT_DATA",
					"Not enough entries in the selected range to cluster", nil)
			case errors.Is(err, jobs.ErrInvalidParameters):
				response.Error(w, http.StatusBadRequest, "INVALID_PARAMETERS",
					err.Error(), nil)
			case errors.Is(err, jobs.ErrJobConflict):
				response.Error(w, http.StatusConflict, "JOB_CONFLICT",
					"A clustering job is already pending or running for this user", nil)
			case errors.Is(err, jobs.ErrQueueFull):
				response.Error(w, http.StatusServiceUnavailable, "QUEUE_FULL",
					"Too many clustering jobs queued, try again later", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, map[string]any{
			"task_id": jobID,
			"status":  WireStatus(models.JobStatusPending),
		})
	}
}
