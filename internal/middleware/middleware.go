package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fidelis-church/fidelis-backend/internal/access"
	"github.com/fidelis-church/fidelis-backend/internal/observability"
	"github.com/fidelis-church/fidelis-backend/internal/token"
	"github.com/fidelis-church/fidelis-backend/internal/utils"
)

type SessionFetcher interface {
	FindSessionByID(ctx context.Context, id string) (utils.SessionData, error)
}

// SessionMiddleware authenticates the bearer token, then checks that the
// session it names still exists. Logging out or changing a user's role
// deletes the session row, which revokes every token pointing at it.
func SessionMiddleware(tokens token.Config, fetcher SessionFetcher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := token.Parse(tokens, bearerToken(r))
			if err != nil {
				utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing token")
				return
			}

			session, err := fetcher.FindSessionByID(r.Context(), claims.SessionID)
			if err != nil {
				utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Couldn't find session")
				return
			}

			if session.ExpiresAt.Before(time.Now()) {
				utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Session expired")
				return
			}
			if session.UserID != claims.Subject {
				utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Session does not match token")
				return
			}

			principal, err := claims.Principal()
			if err != nil {
				utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid role in token")
				return
			}

			next.ServeHTTP(w, r.WithContext(utils.WithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return h[7:]
}

// CORSMiddleware echoes the origin back only when it is in origins.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin") // important for caches
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods",
					"GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers",
					"Content-Type, Authorization, X-Signature, X-Submission-Id")
			}

			w.Header().Set("Access-Control-Expose-Headers", "Server-Timing, Retry-After, X-Request-Id")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCapability rejects callers whose role lacks c. It must run after
// SessionMiddleware.
func RequireCapability(c access.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := utils.GetPrincipalFromContext(r.Context())
			if !ok {
				utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized: missing user ID in context")
				return
			}

			if !principal.Can(c) {
				observability.RecordForbiddenScope()
				utils.WriteError(w, http.StatusForbidden, "forbidden", "Forbidden: "+c.String()+" access required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
