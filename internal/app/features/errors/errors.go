// internal/app/features/errors/errors.go
package errors

import (
	"net/http"

	"github.com/dalemusser/collectives/internal/app/system/authz"
)

// Handler serves the JSON bodies behind /forbidden and /unauthorized, the
// targets of the session middleware redirects.
type Handler struct{}

// NewHandler constructs an errors Handler.
func NewHandler() *Handler {
	return &Handler{}
}

type pageData struct {
	Error      string `json:"error"`
	IsLoggedIn bool   `json:"is_logged_in"`
	Role       string `json:"role"`
	BackURL    string `json:"back_url"`
}

// Forbidden handles GET /forbidden.
func (h *Handler) Forbidden(w http.ResponseWriter, r *http.Request) {
	role, _, _, signedIn := authz.UserCtx(r)
	JSON(w, http.StatusForbidden, pageData{
		Error:      "You don't have permission to view this page.",
		IsLoggedIn: signedIn,
		Role:       role,
		BackURL:    "/",
	})
}

// Unauthorized handles GET /unauthorized.
func (h *Handler) Unauthorized(w http.ResponseWriter, r *http.Request) {
	role, _, _, signedIn := authz.UserCtx(r)
	JSON(w, http.StatusUnauthorized, pageData{
		Error:      "Please sign in to continue.",
		IsLoggedIn: signedIn,
		Role:       role,
		BackURL:    "/auth/login",
	})
}

// NotFound is the router's fallback.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusNotFound, Body{Error: "not found"})
}
