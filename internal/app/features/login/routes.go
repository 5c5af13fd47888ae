// internal/app/features/login/routes.go
package login

import "github.com/go-chi/chi/v5"

// Routes mounts under /auth.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.HandleLoginPost)
	r.Post("/signup", h.HandleSignup)
	r.Post("/recover", h.HandleRecover)
	r.Get("/process_confirmation/{token}", h.ServeConfirmation)
	r.Post("/process_confirmation/{token}", h.HandleConfirmation)
	return r
}
