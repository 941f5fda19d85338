package events

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fidelis-church/fidelis-backend/internal/access"
	"github.com/fidelis-church/fidelis-backend/internal/middleware"
)

func SetupRoutes(h *Handler, authn, limit func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Get("/", h.ListEvents)
	r.Get("/{id}", h.GetEvent)
	r.With(limit).Post("/{id}/rsvp", h.RSVP)

	// Staff routes
	r.Group(func(r chi.Router) {
		r.Use(authn)
		r.Use(middleware.RequireCapability(access.CapManageEvents))

		r.Post("/", h.CreateEvent)
		r.Put("/{id}", h.UpdateEvent)
		r.Delete("/{id}", h.DeleteEvent)
		r.Get("/{id}/rsvps", h.ListRSVPs)
	})

	return r
}
