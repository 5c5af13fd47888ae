// internal/app/features/registrations/routes.go
package registrations

import (
	"github.com/dalemusser/collectives/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the registration endpoints on r. All of them
// require a signed-in user; rights are checked per event by the service.
func MountRoutes(r chi.Router, h *Handler, sm *auth.SessionManager) {
	r.Group(func(pr chi.Router) {
		pr.Use(sm.RequireSignedIn)

		pr.Post("/events/{id}/register", h.HandleRegister)
		pr.Post("/events/{id}/self_register", h.HandleSelfRegister)
		pr.Post("/events/{id}/self_unregister", h.HandleSelfUnregister)

		pr.Post("/registrations/{rid}/reject", h.HandleReject)
		pr.Post("/registrations/{rid}/delete", h.HandleDelete)
		pr.Post("/registrations/{rid}/status", h.HandleStatus)
	})
}
