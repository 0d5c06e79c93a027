// Package handler implements the HTTP endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sciforge/discoveryd/internal/api/response"
	"github.com/sciforge/discoveryd/internal/cache"
	"github.com/sciforge/discoveryd/internal/config"
	"github.com/sciforge/discoveryd/internal/store"
	"github.com/sciforge/discoveryd/pkg/models"
)

const (
	maxTopicLen   = 500
	maxIterations = 10
	maxPapersCap  = 100
	maxHypothCap  = 50

	statusCacheTTL = 5 * time.Second
)

// Launcher starts and tracks background pipelines. Satisfied by
// pipeline.Runner.
type Launcher interface {
	Launch(sessionID uuid.UUID) error
	Active(sessionID uuid.UUID) bool
}

// NewCreateSessionHandler returns the handler for POST /api/v1/sessions.
// Creating a session also launches its pipeline.
func NewCreateSessionHandler(s store.Store, launcher Launcher, defaults config.PipelineConfig, defaultProvider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Topic  string               `json:"topic"`
			Params models.SessionParams `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		req.Topic = strings.TrimSpace(req.Topic)
		if req.Topic == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "topic is required", nil)
			return
		}
		if len(req.Topic) > maxTopicLen {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "topic is too long", nil)
			return
		}

		params := req.Params
		if params.MaxPapers == 0 {
			params.MaxPapers = defaults.MaxPapers
		}
		if params.MaxHypotheses == 0 {
			params.MaxHypotheses = defaults.MaxHypotheses
		}
		if params.Iterations == 0 {
			params.Iterations = defaults.Iterations
		}
		if params.Provider == "" {
			params.Provider = defaultProvider
		}

		if params.MaxPapers < 1 || params.MaxPapers > maxPapersCap {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "max_papers must be between 1 and 100", nil)
			return
		}
		if params.MaxHypotheses < 1 || params.MaxHypotheses > maxHypothCap {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "max_hypotheses must be between 1 and 50", nil)
			return
		}
		if params.Iterations < 1 || params.Iterations > maxIterations {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "iterations must be between 1 and 10", nil)
			return
		}
		if params.Provider != defaultProvider {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"provider not available; the server is configured for "+defaultProvider, nil)
			return
		}

		session, err := s.CreateSession(r.Context(), req.Topic, params)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create session", nil)
			return
		}

		if err := launcher.Launch(session.ID); err != nil {
			// A fresh UUID cannot already be running; treat as internal.
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to launch pipeline", nil)
			return
		}

		response.Accepted(w, session)
	}
}

// NewListSessionsHandler returns the handler for GET /api/v1/sessions.
func NewListSessionsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := s.ListSessions(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sessions", nil)
			return
		}
		response.Collection(w, sessions, response.CollectionMeta{Total: len(sessions)})
	}
}

// NewGetSessionHandler returns the handler for GET /api/v1/sessions/{sessionID}.
func NewGetSessionHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}

		session, err := s.GetSession(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Session not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load session", nil)
			return
		}
		response.JSON(w, session)
	}
}

type statusResponse struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// NewSessionStatusHandler returns the handler for
// GET /api/v1/sessions/{sessionID}/status. The status alone is served
// cache-first so poll loops stay off the database; the full record lives
// on the session endpoint.
func NewSessionStatusHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}

		if status, hit, err := c.GetSessionStatus(r.Context(), id); err == nil && hit {
			response.JSON(w, statusResponse{ID: id, Status: status})
			return
		}

		session, err := s.GetSession(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Session not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load session", nil)
			return
		}

		// Best effort; a failed write only costs the next poll a DB read.
		_ = c.SetSessionStatus(r.Context(), id, session.Status, statusCacheTTL)
		response.JSON(w, statusResponse{ID: id, Status: session.Status})
	}
}

// NewSessionLogsHandler returns the handler for
// GET /api/v1/sessions/{sessionID}/logs.
func NewSessionLogsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}

		logs, err := s.SessionLogs(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Session not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load session logs", nil)
			return
		}
		response.Collection(w, logs, response.CollectionMeta{Total: len(logs)})
	}
}

// NewDeleteSessionHandler returns the handler for
// DELETE /api/v1/sessions/{sessionID}. Sessions with a live pipeline
// cannot be deleted out from under it.
func NewDeleteSessionHandler(s store.Store, c cache.Cache, launcher Launcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}

		if launcher.Active(id) {
			response.Error(w, http.StatusConflict, "SESSION_RUNNING",
				"Session pipeline is still running", nil)
			return
		}

		if err := s.DeleteSession(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Session not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete session", nil)
			return
		}

		_ = c.Delete(r.Context(), cache.SessionStatusKey(id))
		response.NoContent(w)
	}
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid session id", nil)
		return uuid.Nil, false
	}
	return id, true
}
