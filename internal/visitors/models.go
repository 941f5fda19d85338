package visitors

import (
	"database/sql/driver"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/fidelis-church/fidelis-backend/internal/db"
	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
)

// Registration sources.
const (
	SourceStaff   = "staff"
	SourcePublic  = "public"
	SourceWebhook = "webhook"
)

// AttendanceList is one bucket's attendance sequence stored as a JSONB array.
type AttendanceList []fidelity.Record

func (a AttendanceList) Value() (driver.Value, error) {
	return db.JSONArray[fidelity.Record](a).Value()
}

func (a *AttendanceList) Scan(value interface{}) error {
	return (*db.JSONArray[fidelity.Record])(a).Scan(value)
}

// sortByDate orders records chronologically. Unparseable dates go last in
// their original order.
func (a AttendanceList) sortByDate() {
	sort.SliceStable(a, func(i, j int) bool {
		di, ei := fidelity.ParseDate(a[i].Date)
		dj, ej := fidelity.ParseDate(a[j].Date)
		switch {
		case ei != nil:
			return false
		case ej != nil:
			return true
		}
		return di.Before(dj)
	})
}

type Visitor struct {
	ID                string         `gorm:"type:uuid;primaryKey" json:"id"`
	FirstName         string         `gorm:"not null" json:"first_name"`
	LastName          string         `json:"last_name"`
	Phone             string         `json:"phone,omitempty"`
	Email             string         `json:"email,omitempty"`
	City              string         `gorm:"not null" json:"city"`
	CityKey           string         `gorm:"not null;index:idx_visitors_scope,priority:1" json:"-"`
	VisitDate         time.Time      `gorm:"type:date;not null" json:"visit_date"`
	AssignedMonth     string         `gorm:"type:char(7);not null;index:idx_visitors_scope,priority:2" json:"assigned_month"`
	PresencesJeudi    AttendanceList `gorm:"type:jsonb;not null;default:'[]'" json:"presences_jeudi"`
	PresencesDimanche AttendanceList `gorm:"type:jsonb;not null;default:'[]'" json:"presences_dimanche"`
	TrackingStopped   bool           `gorm:"not null;default:false" json:"tracking_stopped"`
	Formations        pq.StringArray `gorm:"type:text[]" json:"formations"`
	Source            string         `gorm:"not null;default:'staff'" json:"source"`
	SubmissionID      *string        `gorm:"uniqueIndex" json:"-"`
	CreatedBy         string         `json:"created_by,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (Visitor) TableName() string { return "church.visitors" }

// Attendance returns a pointer to the sequence for b.
func (v *Visitor) Attendance(b fidelity.Bucket) *AttendanceList {
	if b == fidelity.BucketDimanche {
		return &v.PresencesDimanche
	}
	return &v.PresencesJeudi
}

// ToFidelity projects the row onto what the fidelity computations read.
func (v Visitor) ToFidelity() fidelity.Visitor {
	return fidelity.Visitor{
		ID:              v.ID,
		City:            v.City,
		Month:           v.AssignedMonth,
		Jeudi:           v.PresencesJeudi,
		Dimanche:        v.PresencesDimanche,
		TrackingStopped: v.TrackingStopped,
	}
}

func toFidelity(vs []Visitor) []fidelity.Visitor {
	out := make([]fidelity.Visitor, len(vs))
	for i, v := range vs {
		out[i] = v.ToFidelity()
	}
	return out
}

// normalizeFormations trims, lowercases and dedupes formation names.
func normalizeFormations(in []string) pq.StringArray {
	seen := make(map[string]struct{}, len(in))
	out := pq.StringArray{}
	for _, f := range in {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
