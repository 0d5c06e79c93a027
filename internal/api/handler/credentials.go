package handler

import (
	"net/http"

	"github.com/sciforge/discoveryd/internal/api/response"
	"github.com/sciforge/discoveryd/internal/credentials"
)

// NewCredentialsHandler returns the handler for GET /api/v1/credentials:
// per-service credential health, secrets never included.
func NewCredentialsHandler(reg *credentials.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, reg.Snapshot())
	}
}
