package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/reflectai/journal/internal/api/middleware"
	"github.com/reflectai/journal/internal/api/response"
	"github.com/reflectai/journal/internal/store"
	"github.com/reflectai/journal/internal/viz"
	"github.com/reflectai/journal/pkg/models"
)

// NewListRunsHandler returns the handler for GET /api/v1/clustering/runs.
// Runs are returned newest first.
func NewListRunsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 100 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 100", nil)
				return
			}
			limit = n
		}

		runs, err := s.ListRuns(r.Context(), userID, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs", nil)
			return
		}
		if runs == nil {
			runs = []*models.ClusteringRun{}
		}
		response.JSON(w, runs)
	}
}

// NewGetVisualizationHandler returns the handler for
// GET /api/v1/clustering/runs/{runID}/visualization. A run that exists but
// saved no points yields NO_DATA rather than an empty scatter plot.
func NewGetVisualizationHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		runID, err := uuid.Parse(chi.URLParam(r, "runID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid run id", nil)
			return
		}

		points, clusters, err := s.GetVisualizationData(r.Context(), runID, userID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Run not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load visualization", nil)
			return
		}

		payload := viz.Project(runID, points, clusters)
		if payload.Empty() {
			response.Error(w, http.StatusBadRequest, "NO_DATA", "Run has no visualization data", nil)
			return
		}
		response.JSON(w, payload)
	}
}
