package utils

import (
	"context"
	"time"

	"github.com/fidelis-church/fidelis-backend/internal/access"
)

type contextKey string

const (
	ContextUserIDKey    contextKey = "userID"
	ContextPrincipalKey contextKey = "principal"
)

// SessionData is what the authentication middleware needs to know about a
// session row.
type SessionData struct {
	UserID    string
	ExpiresAt time.Time
}

func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID := ctx.Value(ContextUserIDKey)
	userIDStr, ok := userID.(string)
	return userIDStr, ok
}

// WithPrincipal stores the authenticated caller and its user id on ctx.
func WithPrincipal(ctx context.Context, p access.Principal) context.Context {
	ctx = context.WithValue(ctx, ContextUserIDKey, p.UserID)
	return context.WithValue(ctx, ContextPrincipalKey, p)
}

// GetPrincipalFromContext returns the caller stored by WithPrincipal.
func GetPrincipalFromContext(ctx context.Context) (access.Principal, bool) {
	p, ok := ctx.Value(ContextPrincipalKey).(access.Principal)
	return p, ok
}
