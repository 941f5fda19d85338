package auth

import (
	"context"

	"gorm.io/gorm"

	"github.com/fidelis-church/fidelis-backend/internal/utils"
)

// SessionInfo looks sessions up for the authentication middleware.
type SessionInfo struct {
	DB *gorm.DB
}

func (si SessionInfo) FindSessionByID(ctx context.Context, id string) (utils.SessionData, error) {
	var session Session

	err := si.DB.WithContext(ctx).First(&session, "session_id = ?", id).Error
	if err != nil {
		return utils.SessionData{}, err
	}

	return utils.SessionData{
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}
