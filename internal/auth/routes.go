package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fidelis-church/fidelis-backend/internal/access"
	"github.com/fidelis-church/fidelis-backend/internal/middleware"
)

// SetupRoutes mounts under /auth. authn is the session middleware and
// limit throttles login attempts.
func SetupRoutes(h *Handler, authn, limit func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.With(limit).Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(authn)

		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
		r.Post("/password", h.UpdatePassword)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireCapability(access.CapManageUsers))

			r.Post("/users", h.CreateUser)
			r.Get("/users", h.ListUsers)
			r.Patch("/users/{id}/role", h.UpdateRole)
		})
	})

	return r
}
