package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/reflectai/journal/internal/api/middleware"
	"github.com/reflectai/journal/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateEntryHandler http.HandlerFunc
	ListEntriesHandler http.HandlerFunc
	GetEntryHandler    http.HandlerFunc
	UpdateEntryHandler http.HandlerFunc

	RunClusteringHandler    http.HandlerFunc
	GetTaskHandler          http.HandlerFunc
	CancelTaskHandler       http.HandlerFunc
	ListRunsHandler         http.HandlerFunc
	GetVisualizationHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/entries", orNotImplemented(deps.CreateEntryHandler))
		r.Get("/api/v1/entries", orNotImplemented(deps.ListEntriesHandler))
		r.Get("/api/v1/entries/{entryID}", orNotImplemented(deps.GetEntryHandler))
		r.Put("/api/v1/entries/{entryID}", orNotImplemented(deps.UpdateEntryHandler))

		r.Post("/api/v1/clustering/run", orNotImplemented(deps.RunClusteringHandler))
		r.Get("/api/v1/tasks/{taskID}", orNotImplemented(deps.GetTaskHandler))
		r.Delete("/api/v1/tasks/{taskID}", orNotImplemented(deps.CancelTaskHandler))

		r.Get("/api/v1/clustering/runs", orNotImplemented(deps.ListRunsHandler))
		r.Get("/api/v1/clustering/runs/{runID}/visualization", orNotImplemented(deps.GetVisualizationHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
