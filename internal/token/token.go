// Package token issues and verifies the bearer tokens handed out at login.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fidelis-church/fidelis-backend/internal/access"
)

// Config holds signing parameters.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Claims is the token payload. Subject is the user id.
type Claims struct {
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	City      string `json:"city,omitempty"`
	Month     string `json:"month,omitempty"`
	jwt.RegisteredClaims
}

var (
	// ErrMissingToken is returned when the Authorization header is absent.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken wraps parsing and validation failures.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Subject describes who a token is issued to.
type Subject struct {
	UserID    string
	SessionID string
	Principal access.Principal
}

// Issue signs a token for s valid from now for cfg.TTL.
func Issue(cfg Config, s Subject, now time.Time) (string, time.Time, error) {
	expires := now.Add(cfg.TTL)
	claims := Claims{
		SessionID: s.SessionID,
		Role:      s.Principal.Role.String(),
		City:      s.Principal.City,
		Month:     s.Principal.Month,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse validates a token and returns its claims.
func Parse(cfg Config, raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Principal converts the claims into the caller identity used by handlers.
func (c *Claims) Principal() (access.Principal, error) {
	role, err := access.ParseRole(c.Role)
	if err != nil {
		return access.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return access.Principal{
		UserID: c.Subject,
		Role:   role,
		City:   c.City,
		Month:  c.Month,
	}, nil
}
