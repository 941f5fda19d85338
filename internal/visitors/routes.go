package visitors

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fidelis-church/fidelis-backend/internal/access"
	"github.com/fidelis-church/fidelis-backend/internal/middleware"
)

// SetupRoutes mounts under /visitors. Scope checks beyond the route-level
// capability happen in the service.
func SetupRoutes(h *Handler, authn func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(authn)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireCapability(access.CapManageVisitors))

		r.Post("/", h.CreateVisitor)
		r.Get("/", h.ListVisitors)
		r.Get("/{id}", h.GetVisitor)
		r.Patch("/{id}", h.UpdateVisitor)
	})

	r.With(middleware.RequireCapability(access.CapRecordAttendance)).Post("/{id}/attendance", h.RecordAttendance)
	r.With(middleware.RequireCapability(access.CapPurgeVisitors)).Delete("/{id}", h.PurgeVisitor)

	return r
}

// SetupAnalyticsRoutes mounts under /analytics.
func SetupAnalyticsRoutes(h *Handler, authn func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(authn)
	r.Use(middleware.RequireCapability(access.CapViewAnalytics))

	r.Get("/fidelity", h.Fidelity)
	r.Get("/fidelity/months", h.FidelityByMonth)
	r.Get("/overview", h.Overview)

	return r
}

// SetupPublicRoutes mounts under /public.
func SetupPublicRoutes(h *Handler, limit func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(limit)

	r.Post("/visitors", h.PublicRegistration)

	return r
}
