// internal/app/features/events/routes.go
package events

import (
	"github.com/dalemusser/collectives/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the event endpoints on r.
func MountRoutes(r chi.Router, h *Handler, sm *auth.SessionManager) {
	r.Group(func(pr chi.Router) {
		pr.Use(sm.RequireSignedIn)

		pr.Get("/events/{id}", h.ServeEvent)
		pr.Post("/events", h.HandleCreate)
		pr.Post("/events/{id}/edit", h.HandleEdit)
		pr.Post("/events/{id}/copy", h.HandleCopy)
		pr.Post("/events/{id}/cancel", h.HandleCancel)
	})
}
