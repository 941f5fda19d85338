package visitors

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fidelis-church/fidelis-backend/internal/access"
	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
	"github.com/fidelis-church/fidelis-backend/internal/utils"
)

var (
	jeudis    = []string{"2025-01-02", "2025-01-09", "2025-01-16", "2025-01-23"}
	dimanches = []string{"2025-01-05", "2025-01-12", "2025-01-19", "2025-01-26"}
)

// attended marks the first n dates present and the rest absent.
func attended(days []string, n int) AttendanceList {
	out := AttendanceList{}
	for i, d := range days {
		p := i < n
		out = append(out, fidelity.Record{Date: d, Present: &p})
	}
	return out
}

func visitor(id, city, month string, j, d int) Visitor {
	return Visitor{
		ID:                id,
		FirstName:         id,
		City:              city,
		AssignedMonth:     month,
		VisitDate:         time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		PresencesJeudi:    attended(jeudis, j),
		PresencesDimanche: attended(dimanches, d),
		Source:            SourceStaff,
	}
}

// promoCohort is the January cohort in Lyon: two always present, one at
// half, one at a quarter, plus a February visitor and a visitor in Paris.
func promoCohort() *memStore {
	return newMemStore(
		visitor("a", "Lyon", "2025-01", 4, 4),
		visitor("b", "Lyon", "2025-01", 4, 4),
		visitor("c", "Lyon", "2025-01", 2, 2),
		visitor("d", "Lyon", "2025-01", 1, 1),
		visitor("e", "Lyon", "2025-02", 0, 0),
		visitor("f", "Paris", "2025-01", 4, 4),
	)
}

var (
	pasteur     = access.Principal{UserID: "u-pasteur", Role: access.RolePasteur}
	superviseur = access.Principal{UserID: "u-sup", Role: access.RoleSuperviseur, City: "Lyon"}
	referentJan = access.Principal{UserID: "u-ref", Role: access.RoleReferent, City: "Lyon", Month: "2025-01"}
	accueil     = access.Principal{UserID: "u-acc", Role: access.RoleAccueil, City: "Lyon"}
)

func asPrincipal(p access.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(utils.WithPrincipal(r.Context(), p)))
		})
	}
}

func newRouter(store Store, p access.Principal) http.Handler {
	svc := NewService(store, fidelity.NewAggregator(fidelity.DefaultWeights), zap.NewNop())
	h := NewHandler(svc, zap.NewNop())
	noLimit := func(next http.Handler) http.Handler { return next }

	r := chi.NewRouter()
	r.Mount("/visitors", SetupRoutes(h, asPrincipal(p)))
	r.Mount("/analytics", SetupAnalyticsRoutes(h, asPrincipal(p)))
	r.Mount("/public", SetupPublicRoutes(h, noLimit))
	return r
}

func call(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestFidelityEndpointForReferent(t *testing.T) {
	rec := call(t, newRouter(promoCohort(), referentJan), http.MethodGet, "/analytics/fidelity", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Server-Timing"), "fidelity;dur=")

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.EqualValues(t, 4, got["total_visitors"])
	assert.EqualValues(t, 16, got["expected_presences_jeudi"])
	assert.EqualValues(t, 11, got["total_presences_jeudi"])
	assert.EqualValues(t, 68.75, got["taux_jeudi"])
	assert.EqualValues(t, 68.75, got["taux_dimanche"])
	assert.EqualValues(t, 68.75, got["fidelisation"])
	assert.Equal(t, map[string]any{"city": "Lyon", "month": "2025-01"}, got["scope"])
	assert.Equal(t, map[string]any{"dimanche": 0.6, "jeudi": 0.4}, got["weights"])
}

// A referent asking for another month is refused rather than silently
// narrowed.
func TestFidelityEndpointRejectsOutOfScopeMonth(t *testing.T) {
	h := newRouter(promoCohort(), referentJan)

	rec := call(t, h, http.MethodGet, "/analytics/fidelity?month=2025-02", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, h, http.MethodGet, "/analytics/fidelity?city=Paris", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, h, http.MethodGet, "/analytics/fidelity?month=2025-01&city=lyon", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFidelityEndpointBadCriteria(t *testing.T) {
	h := newRouter(promoCohort(), pasteur)

	assert.Equal(t, http.StatusBadRequest, call(t, h, http.MethodGet, "/analytics/fidelity?year=twenty", nil).Code)
	assert.Equal(t, http.StatusBadRequest, call(t, h, http.MethodGet, "/analytics/fidelity?month=2025-13", nil).Code)
}

func TestAnalyticsForbiddenForAccueil(t *testing.T) {
	rec := call(t, newRouter(promoCohort(), accueil), http.MethodGet, "/analytics/fidelity", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFidelityByMonthForSupervisor(t *testing.T) {
	rec := call(t, newRouter(promoCohort(), superviseur), http.MethodGet, "/analytics/fidelity/months?year=2025", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got MonthsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Months, 2)
	assert.Equal(t, "2025-01", got.Months[0].Month)
	assert.Equal(t, 4, got.Months[0].TotalVisitors, "Paris is out of the supervisor's city")
	assert.Equal(t, "2025-02", got.Months[1].Month)
	assert.Equal(t, 0.0, got.Months[1].Fidelisation)
}

func TestOverview(t *testing.T) {
	store := promoCohort()
	store.rows["a"] = func(v Visitor) Visitor {
		v.TrackingStopped = true
		v.Formations = []string{"bapteme"}
		return v
	}(store.rows["a"])

	rec := call(t, newRouter(store, pasteur), http.MethodGet, "/analytics/overview?month=2025-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got Overview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 5, got.TotalVisitors)
	assert.Equal(t, 1, got.TrackingStopped)
	assert.Equal(t, 1, got.Formations["bapteme"])
	assert.Equal(t, 5, got.BySource[SourceStaff])
}

func TestCreateVisitorForcesCallerCity(t *testing.T) {
	store := newMemStore()
	h := newRouter(store, accueil)

	rec := call(t, h, http.MethodPost, "/visitors", map[string]any{
		"first_name": "Awa",
		"visit_date": "2025-03-09",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var v Visitor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "Lyon", v.City)
	assert.Equal(t, "2025-03", v.AssignedMonth)
	assert.Equal(t, "u-acc", v.CreatedBy)

	rec = call(t, h, http.MethodPost, "/visitors", map[string]any{
		"first_name": "Awa",
		"city":       "Paris",
		"visit_date": "2025-03-09",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateVisitorValidation(t *testing.T) {
	rec := call(t, newRouter(newMemStore(), pasteur), http.MethodPost, "/visitors", map[string]any{
		"first_name": "",
		"visit_date": "09/03/2025",
		"email":      "nope",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body utils.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Fields, "first_name")
	assert.Contains(t, body.Fields, "visit_date")
	assert.Contains(t, body.Fields, "email")
}

func TestListVisitorsScoped(t *testing.T) {
	rec := call(t, newRouter(promoCohort(), referentJan), http.MethodGet, "/visitors", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Visitors []Visitor `json:"visitors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Visitors, 4)

	rec = call(t, newRouter(promoCohort(), accueil), http.MethodGet, "/visitors?stopped=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Visitors, 5, "accueil sees every month of its city")
}

func TestGetVisitorOutOfScopeIsNotFound(t *testing.T) {
	h := newRouter(promoCohort(), referentJan)
	assert.Equal(t, http.StatusOK, call(t, h, http.MethodGet, "/visitors/a", nil).Code)
	assert.Equal(t, http.StatusNotFound, call(t, h, http.MethodGet, "/visitors/e", nil).Code)
	assert.Equal(t, http.StatusNotFound, call(t, h, http.MethodGet, "/visitors/f", nil).Code)
}

func TestUpdateVisitor(t *testing.T) {
	store := promoCohort()
	h := newRouter(store, superviseur)

	rec := call(t, h, http.MethodPatch, "/visitors/c", map[string]any{
		"tracking_stopped": true,
		"formations":       []string{"Affermissement"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, store.rows["c"].TrackingStopped)
	assert.Equal(t, []string{"affermissement"}, []string(store.rows["c"].Formations))

	rec = call(t, h, http.MethodPatch, "/visitors/c", map[string]any{"assigned_month": "2025-02"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "immutable_field")
	assert.Equal(t, "2025-01", store.rows["c"].AssignedMonth)

	rec = call(t, h, http.MethodPatch, "/visitors/f", map[string]any{"first_name": "X"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordAttendanceEndpoint(t *testing.T) {
	store := promoCohort()
	h := newRouter(store, accueil)

	rec := call(t, h, http.MethodPost, "/visitors/d/attendance", map[string]any{
		"date":    "2025-01-26",
		"present": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"bucket":"dimanche"`)

	var present int
	for _, r := range store.rows["d"].PresencesDimanche {
		if r.Date == "2025-01-26" {
			present++
			assert.True(t, *r.Present)
		}
	}
	assert.Equal(t, 1, present)
	assert.Len(t, store.rows["d"].PresencesDimanche, 4)

	assert.NotContains(t, rec.Body.String(), "invalid_date")

	rec = call(t, h, http.MethodPost, "/visitors/d/attendance", map[string]any{"date": "2025-01-26"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "present is required")

	rec = call(t, h, http.MethodPost, "/visitors/f/attendance", map[string]any{"date": "2025-01-26", "present": true})
	assert.Equal(t, http.StatusNotFound, rec.Code, "visitor in another city")
}

// A date the classifier cannot read is stored where the caller asked and
// flagged, never dropped.
func TestRecordAttendanceUnparseableDate(t *testing.T) {
	store := promoCohort()
	h := newRouter(store, accueil)
	before := len(store.rows["d"].PresencesJeudi)

	rec := call(t, h, http.MethodPost, "/visitors/d/attendance", map[string]any{
		"date":    "2025-13-40",
		"present": true,
		"bucket":  "jeudi",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"invalid_date":true`)
	assert.Contains(t, rec.Body.String(), `"bucket":"jeudi"`)

	jeudi := store.rows["d"].PresencesJeudi
	require.Len(t, jeudi, before+1)
	assert.Equal(t, "2025-13-40", jeudi[len(jeudi)-1].Date)

	// The aggregate leaves it out and reports it as skipped.
	rec = call(t, newRouter(store, pasteur), http.MethodGet, "/analytics/fidelity?city=Lyon&month=2025-01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"skipped_records":1`)
	assert.Contains(t, rec.Body.String(), `"fidelisation":68.75`)
}

func TestPurgeVisitor(t *testing.T) {
	store := promoCohort()

	rec := call(t, newRouter(store, pasteur), http.MethodDelete, "/visitors/a", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := access.Principal{UserID: "root", Role: access.RoleSuperAdmin}
	rec = call(t, newRouter(store, admin), http.MethodDelete, "/visitors/a", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, store.rows, "a")

	rec = call(t, newRouter(store, admin), http.MethodDelete, "/visitors/a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicRegistration(t *testing.T) {
	store := newMemStore()
	rec := call(t, newRouter(store, access.Principal{}), http.MethodPost, "/public/visitors", map[string]any{
		"first_name": "Jean",
		"city":       "Villeurbanne",
		"visit_date": "2025-04-06",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, strings.Contains(rec.Body.String(), `"assigned_month":"2025-04"`))
	require.Len(t, store.rows, 1)
	for _, v := range store.rows {
		assert.Equal(t, SourcePublic, v.Source)
		assert.Empty(t, v.PresencesJeudi)
	}

	rec = call(t, newRouter(store, access.Principal{}), http.MethodPost, "/public/visitors", map[string]any{
		"first_name": "Jean",
		"visit_date": "2025-04-06",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "city is required for self-registration")
}
