package auth

import (
	"time"

	"github.com/fidelis-church/fidelis-backend/internal/access"
)

type Session struct {
	SessionID string    `gorm:"primaryKey" json:"-"`
	UserID    string    `gorm:"not null;unique" json:"-"`
	ExpiresAt time.Time `gorm:"not null"`
}

type User struct {
	UserID         string    `gorm:"primaryKey" json:"user_id"`
	Username       string    `gorm:"uniqueIndex;not null" json:"username"`
	HashedPassword string    `gorm:"not null" json:"-"`
	Role           string    `gorm:"not null;default:'accueil'" json:"role"`
	City           string    `json:"city"`
	AssignedMonth  string    `json:"assigned_month,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Session        Session   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Session) TableName() string { return "app_auth.sessions" }
func (User) TableName() string    { return "app_auth.users" }

// Principal is the identity a user's token carries.
func (u User) Principal() (access.Principal, error) {
	role, err := access.ParseRole(u.Role)
	if err != nil {
		return access.Principal{}, err
	}
	return access.Principal{
		UserID: u.UserID,
		Role:   role,
		City:   u.City,
		Month:  u.AssignedMonth,
	}, nil
}

type MeResponse struct {
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	Role          string `json:"role"`
	City          string `json:"city"`
	AssignedMonth string `json:"assigned_month,omitempty"`
}

func (u User) Me() MeResponse {
	return MeResponse{
		UserID:        u.UserID,
		Username:      u.Username,
		Role:          u.Role,
		City:          u.City,
		AssignedMonth: u.AssignedMonth,
	}
}
