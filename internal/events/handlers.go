package events

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
	"github.com/fidelis-church/fidelis-backend/internal/utils"
)

type Handler struct {
	DB  *gorm.DB
	Log *zap.Logger
	now func() time.Time
}

func NewHandler(d *gorm.DB, log *zap.Logger) *Handler {
	return &Handler{DB: d, Log: log, now: time.Now}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		utils.WriteError(w, http.StatusNotFound, "not_found", "Event not found")
	case errors.Is(err, ErrEventFull):
		utils.WriteError(w, http.StatusConflict, "event_full", err.Error())
	case errors.Is(err, ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, errInvalidEvent):
		utils.WriteError(w, http.StatusBadRequest, "invalid_event", err.Error())
	default:
		h.Log.Error("events request failed", zap.Error(err))
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

func eventID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, ErrNotFound
	}
	return id, nil
}

// ListEvents returns events, optionally for one city and only upcoming ones.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	query := h.DB.WithContext(r.Context()).Model(&Event{})

	if city := r.URL.Query().Get("city"); city != "" {
		query = query.Where("city_key = ?", fidelity.CityKey(city))
	}
	if raw := r.URL.Query().Get("upcoming"); raw != "" {
		upcoming, err := strconv.ParseBool(raw)
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid upcoming flag")
			return
		}
		if upcoming {
			query = query.Where("starts_at >= ?", h.now())
		}
	}

	events := []Event{}
	if err := query.Order("starts_at ASC").Find(&events).Error; err != nil {
		h.fail(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	var e Event
	if err := h.DB.WithContext(r.Context()).First(&e, "id = ?", id).Error; err != nil {
		h.fail(w, err)
		return
	}

	var rsvps []RSVP
	if err := h.DB.WithContext(r.Context()).Where("event_id = ?", e.ID).Find(&rsvps).Error; err != nil {
		h.fail(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"event": e, "summary": Tally(e, rsvps)})
}

// RSVP records or updates an answer. Going answers are checked against
// capacity while holding a lock on the event row.
func (h *Handler) RSVP(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	var in RSVPInput
	if !decode(w, r, &in) {
		return
	}
	email := normalizeEmail(in.Email)

	var saved RSVP
	err = h.DB.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var e Event
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&e, "id = ?", id).Error; err != nil {
			return err
		}

		var goingOthers int64
		if err := tx.Model(&RSVP{}).
			Where("event_id = ? AND status = ? AND email <> ?", e.ID, StatusGoing, email).
			Count(&goingOthers).Error; err != nil {
			return err
		}
		if err := admit(e, int(goingOthers), in.Status); err != nil {
			return err
		}

		saved = RSVP{
			EventID: e.ID,
			Name:    strings.TrimSpace(in.Name),
			Email:   email,
			Phone:   strings.TrimSpace(in.Phone),
			Status:  in.Status,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "phone", "status", "updated_at"}),
		}).Create(&saved).Error
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	h.Log.Info("rsvp recorded", zap.String("event_id", id.String()), zap.String("status", in.Status))
	utils.WriteJSON(w, http.StatusOK, saved)
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	p, _ := utils.GetPrincipalFromContext(r.Context())

	var in EventInput
	if !decode(w, r, &in) {
		return
	}
	city, err := eventCity(p, in.City)
	if err != nil {
		h.fail(w, err)
		return
	}

	e := Event{
		ID:          uuid.New(),
		City:        city,
		CityKey:     fidelity.CityKey(city),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Location:    in.Location,
		StartsAt:    in.StartsAt,
		Capacity:    in.Capacity,
		CreatedBy:   p.UserID,
	}
	if err := h.DB.WithContext(r.Context()).Create(&e).Error; err != nil {
		h.fail(w, err)
		return
	}

	h.Log.Info("event created", zap.String("event_id", e.ID.String()), zap.String("city", e.City), zap.String("by", p.UserID))
	utils.WriteJSON(w, http.StatusCreated, e)
}

// UpdateEvent replaces the editable fields. The city never changes.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	p, _ := utils.GetPrincipalFromContext(r.Context())
	id, err := eventID(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	var in EventInput
	if !decode(w, r, &in) {
		return
	}

	var e Event
	err = h.DB.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&e, "id = ?", id).Error; err != nil {
			return err
		}
		if !canManage(p, e) {
			return ErrForbidden
		}
		e.Title = strings.TrimSpace(in.Title)
		e.Description = in.Description
		e.Location = in.Location
		e.StartsAt = in.StartsAt
		e.Capacity = in.Capacity
		return tx.Save(&e).Error
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, e)
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	p, _ := utils.GetPrincipalFromContext(r.Context())
	id, err := eventID(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	err = h.DB.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var e Event
		if err := tx.First(&e, "id = ?", id).Error; err != nil {
			return err
		}
		if !canManage(p, e) {
			return ErrForbidden
		}
		if err := tx.Where("event_id = ?", e.ID).Delete(&RSVP{}).Error; err != nil {
			return err
		}
		return tx.Delete(&e).Error
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRSVPs returns every answer to an event with its summary.
func (h *Handler) ListRSVPs(w http.ResponseWriter, r *http.Request) {
	p, _ := utils.GetPrincipalFromContext(r.Context())
	id, err := eventID(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	var e Event
	if err := h.DB.WithContext(r.Context()).First(&e, "id = ?", id).Error; err != nil {
		h.fail(w, err)
		return
	}
	if !canManage(p, e) {
		h.fail(w, ErrForbidden)
		return
	}

	rsvps := []RSVP{}
	if err := h.DB.WithContext(r.Context()).Where("event_id = ?", e.ID).Order("created_at ASC").Find(&rsvps).Error; err != nil {
		h.fail(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"summary": Tally(e, rsvps), "rsvps": rsvps})
}
