// internal/app/features/authoauth/routes.go
package authoauth

import "github.com/go-chi/chi/v5"

// Routes returns the router for the Auth0 endpoints, mounted at
// /auth/auth0. These routes are public.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/login", h.ServeLogin)
	r.Get("/callback", h.ServeCallback)
	return r
}
