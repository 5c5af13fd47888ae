// internal/app/features/profile/routes.go
package profile

import (
	"github.com/dalemusser/collectives/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// MountRoutes adds the /profile endpoints; all require a signed-in user.
func MountRoutes(r chi.Router, h *Handler, sm *auth.SessionManager) {
	r.Group(func(pr chi.Router) {
		pr.Use(sm.RequireSignedIn)
		pr.Get("/profile", h.ServeProfile)
		pr.Post("/profile/password", h.HandleChangePassword)
		pr.Post("/profile/user/{id}/force_sync", h.HandleForceSync)
	})
}
