// internal/app/features/payments/routes.go
package payments

import (
	"github.com/dalemusser/collectives/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the price and payment endpoints on r.
//
// The processor callbacks are public: the processor and the returning
// buyer reach them without a session, the token identifies the payment.
func MountRoutes(r chi.Router, h *Handler, sm *auth.SessionManager) {
	r.Group(func(pr chi.Router) {
		pr.Use(sm.RequireSignedIn)

		pr.Post("/events/{id}/edit_prices", h.HandleEditPrices)
		pr.Get("/events/{id}/prices", h.ServePrices)
		pr.Post("/events/{id}/items/{item}/delete", h.HandleDeleteItem)

		pr.Post("/registrations/{rid}/pay", h.HandleInitiate)
		pr.Post("/registrations/{rid}/report_offline", h.HandleReportOffline)

		pr.Post("/payments/{id}/pay", h.HandlePay)
		pr.Post("/payments/{id}/refund", h.HandleRefund)
	})

	r.Get("/payments/{id}/{kind}", h.HandleCallback)
	r.Post("/payments/{id}/{kind}", h.HandleCallback)
}
