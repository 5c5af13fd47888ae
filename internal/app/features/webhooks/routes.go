// internal/app/features/webhooks/routes.go
package webhooks

import (
	"time"

	"github.com/dalemusser/collectives/internal/app/system/ratelimit"
	"github.com/go-chi/chi/v5"
)

// MountRoutes adds POST /api/webhooks/{provider}, limited to 100 requests
// per minute and client.
func MountRoutes(r chi.Router, h *Handler) {
	limiter := ratelimit.New(100, time.Minute)
	r.Group(func(pr chi.Router) {
		pr.Use(ratelimit.Middleware(limiter))
		pr.Post("/api/webhooks/{provider}", h.HandleWebhook)
	})
}
