package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fidelis-church/fidelis-backend/internal/access"
	"github.com/fidelis-church/fidelis-backend/internal/token"
	"github.com/fidelis-church/fidelis-backend/internal/utils"
)

type Handler struct {
	DB     *gorm.DB
	Tokens token.Config
	Log    *zap.Logger
	now    func() time.Time
}

func NewHandler(d *gorm.DB, tokens token.Config, log *zap.Logger) *Handler {
	return &Handler{DB: d, Tokens: tokens, Log: log, now: time.Now}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      MeResponse `json:"user"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid Data")
		return
	}
	if fields := utils.ValidateStruct(req); fields != nil {
		utils.WriteValidationError(w, fields)
		return
	}

	user, err := CheckCredentials(r.Context(), h.DB, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.Log.Info("login rejected", zap.String("username", req.Username))
			utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid Credentials")
			return
		}
		h.Log.Error("login lookup failed", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal", "Login failed")
		return
	}

	principal, err := user.Principal()
	if err != nil {
		h.Log.Error("user has unknown role", zap.String("user_id", user.UserID), zap.String("role", user.Role))
		utils.WriteError(w, http.StatusForbidden, "forbidden", "Account role is not recognised")
		return
	}

	now := h.now()
	session := Session{
		SessionID: uuid.NewString(),
		UserID:    user.UserID,
		ExpiresAt: now.Add(h.Tokens.TTL),
	}
	// One session per user: logging in again rotates it.
	err = h.DB.WithContext(r.Context()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_id", "expires_at"}),
	}).Create(&session).Error
	if err != nil {
		h.Log.Error("store session", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal", "Login failed")
		return
	}

	signed, expires, err := token.Issue(h.Tokens, token.Subject{
		UserID:    user.UserID,
		SessionID: session.SessionID,
		Principal: principal,
	}, now)
	if err != nil {
		h.Log.Error("issue token", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal", "Login failed")
		return
	}

	utils.WriteJSON(w, http.StatusOK, LoginResponse{Token: signed, ExpiresAt: expires, User: user.Me()})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Couldn't find session")
		return
	}

	if err := h.DB.WithContext(r.Context()).Where("user_id = ?", userID).Delete(&Session{}).Error; err != nil {
		h.Log.Error("delete session", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal", "Logout failed")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := utils.GetUserIDFromContext(r.Context())

	var user User
	if err := h.DB.WithContext(r.Context()).First(&user, "user_id = ?", userID).Error; err != nil {
		utils.WriteError(w, http.StatusNotFound, "not_found", "Couldn't find user")
		return
	}

	utils.WriteJSON(w, http.StatusOK, user.Me())
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

// UpdatePassword checks the current password before storing the new one. The
// session is revoked, so the caller has to log in again.
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	userID, _ := utils.GetUserIDFromContext(r.Context())

	var req updatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Current and new password are required")
		return
	}
	if fields := utils.ValidateStruct(req); fields != nil {
		utils.WriteValidationError(w, fields)
		return
	}

	var user User
	if err := h.DB.WithContext(r.Context()).First(&user, "user_id = ?", userID).Error; err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Couldn't find user")
		return
	}
	if _, err := CheckCredentials(r.Context(), h.DB, user.Username, req.CurrentPassword); err != nil {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid current password")
		return
	}

	if err := SetPassword(r.Context(), h.DB, userID, req.NewPassword); err != nil {
		h.Log.Error("update password", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal", "Failed to update password")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := utils.GetPrincipalFromContext(r.Context())

	var req NewUser
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid Request Format")
		return
	}
	if fields := utils.ValidateStruct(req); fields != nil {
		utils.WriteValidationError(w, fields)
		return
	}
	if role, err := access.ParseRole(req.Role); err == nil && !CanAssign(actor, role) {
		utils.WriteError(w, http.StatusForbidden, "forbidden", "Forbidden: cannot assign role "+req.Role)
		return
	}

	user, err := CreateUser(r.Context(), h.DB, req)
	if err != nil {
		h.writeUserError(w, err)
		return
	}

	h.Log.Info("user created", zap.String("user_id", user.UserID), zap.String("role", user.Role), zap.String("by", actor.UserID))
	utils.WriteJSON(w, http.StatusCreated, user.Me())
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := ListUsers(r.Context(), h.DB, r.URL.Query().Get("city"))
	if err != nil {
		h.Log.Error("list users", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal", "Failed to list users")
		return
	}

	out := make([]MeResponse, 0, len(users))
	for _, u := range users {
		out = append(out, u.Me())
	}
	utils.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := utils.GetPrincipalFromContext(r.Context())
	userID := chi.URLParam(r, "id")

	var req Assignment
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid Request Format")
		return
	}
	if fields := utils.ValidateStruct(req); fields != nil {
		utils.WriteValidationError(w, fields)
		return
	}
	if role, err := access.ParseRole(req.Role); err == nil && !CanAssign(actor, role) {
		utils.WriteError(w, http.StatusForbidden, "forbidden", "Forbidden: cannot assign role "+req.Role)
		return
	}

	user, err := Reassign(r.Context(), h.DB, actor, userID, req)
	if err != nil {
		h.writeUserError(w, err)
		return
	}

	h.Log.Info("user reassigned", zap.String("user_id", user.UserID), zap.String("role", user.Role), zap.String("by", actor.UserID))
	utils.WriteJSON(w, http.StatusOK, user.Me())
}

func (h *Handler) writeUserError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidUser):
		utils.WriteError(w, http.StatusBadRequest, "invalid_user", err.Error())
	case errors.Is(err, ErrUsernameTaken):
		utils.WriteError(w, http.StatusConflict, "conflict", "Username already taken")
	case errors.Is(err, ErrUserNotFound):
		utils.WriteError(w, http.StatusNotFound, "not_found", "Couldn't find user")
	case errors.Is(err, ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, "forbidden", err.Error())
	default:
		h.Log.Error("user administration", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal", "Server error")
	}
}
