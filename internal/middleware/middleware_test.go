package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fidelis-church/fidelis-backend/internal/access"
	"github.com/fidelis-church/fidelis-backend/internal/middleware"
	"github.com/fidelis-church/fidelis-backend/internal/token"
	"github.com/fidelis-church/fidelis-backend/internal/utils"
)

var tokens = token.Config{Secret: "middleware-test-secret-123", Issuer: "fidelis.test", TTL: time.Hour}

// mockFetcher implements middleware.SessionFetcher without any database dependency.
type mockFetcher struct {
	session utils.SessionData
	err     error
}

func (m mockFetcher) FindSessionByID(ctx context.Context, id string) (utils.SessionData, error) {
	return m.session, m.err
}

func issue(t *testing.T, role access.Role) string {
	t.Helper()
	raw, _, err := token.Issue(tokens, token.Subject{
		UserID:    "test-user-123",
		SessionID: "session-abc",
		Principal: access.Principal{UserID: "test-user-123", Role: role, City: "Lyon", Month: "2025-01"},
	}, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return raw
}

func liveSession() mockFetcher {
	return mockFetcher{session: utils.SessionData{UserID: "test-user-123", ExpiresAt: time.Now().Add(time.Hour)}}
}

// callWithToken wraps a simple 200-OK inner handler in the provided middleware,
// optionally setting a bearer token, and returns the recorded response.
func callWithToken(t *testing.T, mw func(http.Handler) http.Handler, raw string) *httptest.ResponseRecorder {
	t.Helper()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if raw != "" {
		req.Header.Set("Authorization", "Bearer "+raw)
	}
	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)
	return rec
}

func TestSessionMiddleware_MissingToken(t *testing.T) {
	rec := callWithToken(t, middleware.SessionMiddleware(tokens, liveSession()), "")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestSessionMiddleware_ExpiredSession(t *testing.T) {
	fetcher := mockFetcher{
		session: utils.SessionData{
			UserID:    "test-user-123",
			ExpiresAt: time.Now().Add(-1 * time.Hour),
		},
	}

	rec := callWithToken(t, middleware.SessionMiddleware(tokens, fetcher), issue(t, access.RoleAccueil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "Session expired") {
		t.Errorf("expected body to contain %q, got: %q", "Session expired", body)
	}
}

// A deleted session (logout, role change) revokes a token that is otherwise valid.
func TestSessionMiddleware_RevokedSession(t *testing.T) {
	fetcher := mockFetcher{err: errors.New("record not found")}

	rec := callWithToken(t, middleware.SessionMiddleware(tokens, fetcher), issue(t, access.RoleAccueil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestSessionMiddleware_SessionOfAnotherUser(t *testing.T) {
	fetcher := mockFetcher{session: utils.SessionData{UserID: "someone-else", ExpiresAt: time.Now().Add(time.Hour)}}

	rec := callWithToken(t, middleware.SessionMiddleware(tokens, fetcher), issue(t, access.RoleAccueil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestSessionMiddleware_ValidSession(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := utils.GetPrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, "principal not in context", http.StatusInternalServerError)
			return
		}
		if p.Role != access.RoleReferent || p.City != "Lyon" || p.Month != "2025-01" {
			http.Error(w, "wrong principal in context", http.StatusInternalServerError)
			return
		}
		if userID, _ := utils.GetUserIDFromContext(r.Context()); userID != "test-user-123" {
			http.Error(w, "wrong userID in context: "+userID, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "bearer "+issue(t, access.RoleReferent))
	rec := httptest.NewRecorder()
	middleware.SessionMiddleware(tokens, liveSession())(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d; body: %s", rec.Code, rec.Body.String())
	}
}

// RequireCapability returns 401 when no principal is in the request context
// (i.e. SessionMiddleware did not run).
func TestRequireCapability_MissingPrincipal(t *testing.T) {
	rec := callWithToken(t, middleware.RequireCapability(access.CapViewAnalytics), "")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "missing user ID") {
		t.Errorf("expected body to contain %q, got: %q", "missing user ID", body)
	}
}

func TestRequireCapability_ByRole(t *testing.T) {
	cases := []struct {
		role access.Role
		cap  access.Capability
		want int
	}{
		{access.RoleAccueil, access.CapViewAnalytics, http.StatusForbidden},
		{access.RoleReferent, access.CapViewAnalytics, http.StatusOK},
		{access.RoleSuperviseur, access.CapManageUsers, http.StatusForbidden},
		{access.RolePasteur, access.CapManageUsers, http.StatusOK},
		{access.RolePasteur, access.CapPurgeVisitors, http.StatusForbidden},
		{access.RoleSuperAdmin, access.CapPurgeVisitors, http.StatusOK},
	}

	for _, tc := range cases {
		mw := func(next http.Handler) http.Handler {
			return middleware.SessionMiddleware(tokens, liveSession())(middleware.RequireCapability(tc.cap)(next))
		}
		rec := callWithToken(t, mw, issue(t, tc.role))
		if rec.Code != tc.want {
			t.Errorf("%s/%s: expected %d, got %d", tc.role, tc.cap, tc.want, rec.Code)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	mw := middleware.CORSMiddleware([]string{"http://localhost:5173", "https://fidelis.example.org/"})
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/visitors", nil)
	req.Header.Set("Origin", "https://fidelis.example.org")
	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 on preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://fidelis.example.org" {
		t.Errorf("expected origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/visitors", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow-origin for unknown origin, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	mw := middleware.RequestLogger(zap.New(core))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	req := httptest.NewRequest(http.MethodGet, "/brew", nil)
	mw(inner).ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["status"]; got != int64(http.StatusTeapot) {
		t.Errorf("expected status 418 in log, got %v", got)
	}
	if entries[0].Level != zap.WarnLevel {
		t.Errorf("expected warn level for 4xx, got %s", entries[0].Level)
	}
}
