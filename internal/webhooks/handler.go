package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fidelis-church/fidelis-backend/internal/db"
	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
	"github.com/fidelis-church/fidelis-backend/internal/utils"
	"github.com/fidelis-church/fidelis-backend/internal/visitors"
)

const (
	SignatureHeader    = "X-Signature"
	SubmissionIDHeader = "X-Submission-Id"
)

// Registrar turns a form submission into a visitor.
type Registrar interface {
	Register(ctx context.Context, in visitors.NewVisitor, source, submissionID string) (visitors.Visitor, bool, error)
}

// Inbox keeps the raw submissions.
type Inbox interface {
	Save(ctx context.Context, s Submission) error
}

type Handler struct {
	Secret    string
	Registrar Registrar
	Inbox     Inbox
	Log       *zap.Logger
	now       func() time.Time
}

func NewHandler(secret string, reg Registrar, inbox Inbox, log *zap.Logger) *Handler {
	return &Handler{Secret: secret, Registrar: reg, Inbox: inbox, Log: log, now: time.Now}
}

// Registration accepts the website's visitor form.
func (h *Handler) Registration(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MiB
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		utils.WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "payload too large or unreadable")
		return
	}
	defer r.Body.Close()

	sig := r.Header.Get(SignatureHeader)
	sid := strings.TrimSpace(r.Header.Get(SubmissionIDHeader))
	if sid == "" {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "missing submission id")
		return
	}

	if h.Secret == "" {
		utils.WriteError(w, http.StatusServiceUnavailable, "misconfigured", "webhook secret is not configured")
		return
	}
	if !Verify(sig, sid, raw, h.Secret) {
		h.Log.Warn("webhook signature rejected", zap.String("submission_id", sid))
		utils.WriteError(w, http.StatusUnauthorized, "invalid_signature", "invalid signature")
		return
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "bad json")
		return
	}

	in := h.visitorFrom(m)
	sub := Submission{
		SubmissionID: sid,
		Payload:      db.JSONB(raw),
		Name:         strings.TrimSpace(in.FirstName + " " + in.LastName),
		Email:        in.Email,
		City:         in.City,
		Subscribed:   boolAny(m, "Newsletter", "newsletter", "subscribed", "Recevoir les nouvelles"),
	}
	if err := h.Inbox.Save(r.Context(), sub); err != nil {
		h.Log.Error("store submission", zap.String("submission_id", sid), zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal", "db insert failed")
		return
	}

	v, created, err := h.Registrar.Register(r.Context(), in, visitors.SourceWebhook, sid)
	if err != nil {
		if errors.Is(err, visitors.ErrInvalidVisitor) {
			// Kept in the inbox for manual follow-up.
			h.Log.Warn("webhook submission not registrable", zap.String("submission_id", sid), zap.Error(err))
			utils.WriteError(w, http.StatusUnprocessableEntity, "invalid_visitor", err.Error())
			return
		}
		h.Log.Error("register from webhook", zap.String("submission_id", sid), zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal", "registration failed")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "visitor_id": v.ID, "created": created})
}

// visitorFrom maps the form's labels onto a registration. A missing visit
// date means the visitor came today.
func (h *Handler) visitorFrom(m map[string]any) visitors.NewVisitor {
	in := visitors.NewVisitor{
		FirstName: strings.TrimSpace(str(m, "Prénom", "prenom", "first_name", "First Name")),
		LastName:  strings.TrimSpace(str(m, "Nom", "nom", "last_name", "Last Name")),
		Phone:     strings.TrimSpace(str(m, "Téléphone", "telephone", "phone", "Phone")),
		Email:     strings.TrimSpace(str(m, "Email", "email", "E-mail")),
		City:      strings.TrimSpace(str(m, "Ville", "ville", "city", "City")),
		VisitDate: strings.TrimSpace(str(m, "Date de visite", "date_visite", "visit_date")),
	}
	if in.VisitDate == "" {
		in.VisitDate = h.now().Format(fidelity.DateLayout)
	} else if day, err := fidelity.NormalizeDate(in.VisitDate); err == nil {
		in.VisitDate = day
	}
	return in
}

// Verify checks an HMAC-SHA256 over the body followed by the submission id.
func Verify(sig, sid string, raw []byte, secret string) bool {
	if !strings.HasPrefix(sig, "sha256=") {
		return false
	}
	expected := Sign(sid, raw, secret)
	return hmac.Equal([]byte(sig), []byte(expected))
}

// Sign returns the X-Signature value for a payload.
func Sign(sid string, raw []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	mac.Write([]byte(sid))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func toBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		return s == "true" || s == "on" || s == "1" || s == "yes" || s == "oui"
	default:
		return false
	}
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func boolAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return toBool(v)
		}
	}
	return false
}
