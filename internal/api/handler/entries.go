package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/reflectai/journal/internal/api/middleware"
	"github.com/reflectai/journal/internal/api/response"
	"github.com/reflectai/journal/internal/store"
	"github.com/reflectai/journal/pkg/models"
)

const maxContentBytes = 65536

// NewCreateEntryHandler returns the handler for POST /api/v1/entries.
func NewCreateEntryHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Content == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "content is required", nil)
			return
		}
		if len(req.Content) > maxContentBytes {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "content too large", nil)
			return
		}

		entry := &models.JournalEntry{
			ID:        uuid.New(),
			UserID:    userID,
			Title:     req.Title,
			Content:   req.Content,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.CreateEntry(r.Context(), entry); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create entry", nil)
			return
		}
		response.Created(w, entry)
	}
}

// NewListEntriesHandler returns the handler for GET /api/v1/entries.
func NewListEntriesHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		filter := store.EntryFilter{UserID: userID}
		q := r.URL.Query()
		if v := q.Get("page"); v != "" {
			filter.Page, _ = strconv.Atoi(v)
		}
		if v := q.Get("limit"); v != "" {
			filter.Limit, _ = strconv.Atoi(v)
		}
		if v := q.Get("start"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "start must be a valid RFC3339 timestamp", nil)
				return
			}
			filter.Start = &t
		}
		if v := q.Get("end"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "end must be a valid RFC3339 timestamp", nil)
				return
			}
			filter.End = &t
		}

		entries, total, err := s.ListEntries(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list entries", nil)
			return
		}
		if entries == nil {
			entries = []*models.JournalEntry{}
		}

		limit := filter.Limit
		if limit <= 0 {
			limit = 20
		}
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		response.Collection(w, entries, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewGetEntryHandler returns the handler for GET /api/v1/entries/{entryID}.
func NewGetEntryHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "entryID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid entry id", nil)
			return
		}

		entry, err := s.GetEntry(r.Context(), id, userID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Entry not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get entry", nil)
			return
		}
		response.JSON(w, entry)
	}
}

// NewUpdateEntryHandler returns the handler for PUT /api/v1/entries/{entryID}.
// Editing clears the stored embedding; the next clustering run regenerates it.
func NewUpdateEntryHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "entryID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid entry id", nil)
			return
		}

		var req struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Content == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "content is required", nil)
			return
		}

		entry, err := s.UpdateEntryContent(r.Context(), id, userID, req.Title, req.Content)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Entry not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update entry", nil)
			return
		}
		response.JSON(w, entry)
	}
}
