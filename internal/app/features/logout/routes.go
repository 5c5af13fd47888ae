// internal/app/features/logout/routes.go
package logout

import (
	"github.com/dalemusser/collectives/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// MountRoutes adds POST /auth/logout.
func MountRoutes(r chi.Router, h *Handler, sm *auth.SessionManager) {
	r.Group(func(pr chi.Router) {
		// Only allow logged-in users to hit /auth/logout.
		pr.Use(sm.RequireSignedIn)
		pr.Post("/auth/logout", h.HandleLogout)
	})
}
