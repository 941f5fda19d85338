package visitors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
	"github.com/fidelis-church/fidelis-backend/internal/observability"
	"github.com/fidelis-church/fidelis-backend/internal/utils"
)

type Handler struct {
	svc *Service
	log *zap.Logger
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func criteriaFromQuery(r *http.Request) (fidelity.Criteria, error) {
	q := r.URL.Query()
	c := fidelity.Criteria{City: q.Get("city"), Month: q.Get("month")}
	if y := q.Get("year"); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil {
			return fidelity.Criteria{}, fmt.Errorf("%w: year %q", fidelity.ErrInvalidCriteria, y)
		}
		c.Year = year
	}
	return c, c.Validate()
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fidelity.ErrForbidden):
		observability.RecordForbiddenScope()
		utils.WriteError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, "not_found", "Visitor not found")
	case errors.Is(err, fidelity.ErrInvalidCriteria):
		utils.WriteError(w, http.StatusBadRequest, "invalid_criteria", err.Error())
	case errors.Is(err, ErrImmutableField):
		utils.WriteError(w, http.StatusBadRequest, "immutable_field", err.Error())
	case errors.Is(err, ErrInvalidVisitor):
		utils.WriteError(w, http.StatusBadRequest, "invalid_visitor", err.Error())
	default:
		h.log.Error("visitors request failed", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal", "Server error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid Request Format")
		return false
	}
	if fields := utils.ValidateStruct(dst); fields != nil {
		utils.WriteValidationError(w, fields)
		return false
	}
	return true
}

func (h *Handler) CreateVisitor(w http.ResponseWriter, r *http.Request) {
	p, _ := utils.GetPrincipalFromContext(r.Context())

	var in NewVisitor
	if !decode(w, r, &in) {
		return
	}

	v, err := h.svc.Create(r.Context(), p, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, v)
}

func (h *Handler) ListVisitors(w http.ResponseWriter, r *http.Request) {
	p, _ := utils.GetPrincipalFromContext(r.Context())

	c, err := criteriaFromQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var stopped *bool
	if raw := r.URL.Query().Get("stopped"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, "invalid_criteria", "stopped must be true or false")
			return
		}
		stopped = &b
	}

	vs, eff, err := h.svc.List(r.Context(), p, c, stopped)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"scope": eff, "visitors": vs})
}

func (h *Handler) GetVisitor(w http.ResponseWriter, r *http.Request) {
	p, _ := utils.GetPrincipalFromContext(r.Context())

	v, err := h.svc.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) UpdateVisitor(w http.ResponseWriter, r *http.Request) {
	p, _ := utils.GetPrincipalFromContext(r.Context())

	var patch VisitorPatch
	if !decode(w, r, &patch) {
		return
	}

	v, err := h.svc.Update(r.Context(), p, chi.URLParam(r, "id"), patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	p, _ := utils.GetPrincipalFromContext(r.Context())

	var in AttendanceInput
	if !decode(w, r, &in) {
		return
	}

	checkin, err := h.svc.RecordAttendance(r.Context(), p, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, checkin)
}

func (h *Handler) PurgeVisitor(w http.ResponseWriter, r *http.Request) {
	p, _ := utils.GetPrincipalFromContext(r.Context())

	if err := h.svc.Purge(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type FidelityResponse struct {
	Scope   fidelity.Criteria `json:"scope"`
	Weights fidelity.Weights  `json:"weights"`
	fidelity.Summary
}

func (h *Handler) Fidelity(w http.ResponseWriter, r *http.Request) {
	p, _ := utils.GetPrincipalFromContext(r.Context())

	c, err := criteriaFromQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	start := time.Now()
	sum, eff, err := h.svc.Fidelity(r.Context(), p, c)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.AddServerTiming(w, "fidelity", time.Since(start))
	utils.WriteJSON(w, http.StatusOK, FidelityResponse{Scope: eff, Weights: h.svc.Weights(), Summary: sum})
}

type MonthsResponse struct {
	Scope   fidelity.Criteria       `json:"scope"`
	Weights fidelity.Weights        `json:"weights"`
	Months  []fidelity.MonthSummary `json:"months"`
}

func (h *Handler) FidelityByMonth(w http.ResponseWriter, r *http.Request) {
	p, _ := utils.GetPrincipalFromContext(r.Context())

	c, err := criteriaFromQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	start := time.Now()
	months, eff, err := h.svc.FidelityByMonth(r.Context(), p, c)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.AddServerTiming(w, "fidelity", time.Since(start))
	utils.WriteJSON(w, http.StatusOK, MonthsResponse{Scope: eff, Weights: h.svc.Weights(), Months: months})
}

func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	p, _ := utils.GetPrincipalFromContext(r.Context())

	c, err := criteriaFromQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	start := time.Now()
	o, err := h.svc.Overview(r.Context(), p, c)
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.AddServerTiming(w, "overview", time.Since(start))
	utils.WriteJSON(w, http.StatusOK, o)
}

// PublicRegistration is the unauthenticated self-service form.
func (h *Handler) PublicRegistration(w http.ResponseWriter, r *http.Request) {
	var in NewVisitor
	if !decode(w, r, &in) {
		return
	}

	v, _, err := h.svc.Register(r.Context(), in, SourcePublic, "")
	if err != nil {
		h.writeError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, map[string]string{
		"id":             v.ID,
		"city":           v.City,
		"assigned_month": v.AssignedMonth,
	})
}
