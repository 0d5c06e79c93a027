// Package api assembles the HTTP surface: router, middleware and handlers.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/sciforge/discoveryd/internal/api/middleware"
	"github.com/sciforge/discoveryd/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateSession http.HandlerFunc
	ListSessions  http.HandlerFunc
	GetSession    http.HandlerFunc
	SessionStatus http.HandlerFunc
	SessionLogs   http.HandlerFunc
	DeleteSession http.HandlerFunc

	Credentials http.HandlerFunc

	CreateKey http.HandlerFunc
	ListKeys  http.HandlerFunc
	RevokeKey http.HandlerFunc
}

// NewRouter builds the Chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("run"))
			r.Post("/api/v1/sessions", orNotImplemented(deps.CreateSession))
			r.Delete("/api/v1/sessions/{sessionID}", orNotImplemented(deps.DeleteSession))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("read"))
			r.Get("/api/v1/sessions", orNotImplemented(deps.ListSessions))
			r.Get("/api/v1/sessions/{sessionID}", orNotImplemented(deps.GetSession))
			r.Get("/api/v1/sessions/{sessionID}/status", orNotImplemented(deps.SessionStatus))
			r.Get("/api/v1/sessions/{sessionID}/logs", orNotImplemented(deps.SessionLogs))
			r.Get("/api/v1/credentials", orNotImplemented(deps.Credentials))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))
			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKey))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeys))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKey))
		})
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
