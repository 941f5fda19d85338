// Package seeds loads development fixtures: staff accounts and a sample
// month of visitors.
package seeds

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fidelis-church/fidelis-backend/internal/auth"
	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
	"github.com/fidelis-church/fidelis-backend/internal/visitors"
)

//go:embed fixtures/*.yaml
var fixtureFS embed.FS

type StaffFixture struct {
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Role          string `yaml:"role"`
	City          string `yaml:"city"`
	AssignedMonth string `yaml:"assigned_month"`
}

type RecordFixture struct {
	Date    string `yaml:"date"`
	Present bool   `yaml:"present"`
	Comment string `yaml:"commentaire"`
}

type VisitorFixture struct {
	ID              string          `yaml:"id"`
	FirstName       string          `yaml:"first_name"`
	LastName        string          `yaml:"last_name"`
	City            string          `yaml:"city"`
	VisitDate       string          `yaml:"visit_date"`
	TrackingStopped bool            `yaml:"tracking_stopped"`
	Formations      []string        `yaml:"formations"`
	Jeudi           []RecordFixture `yaml:"jeudi"`
	Dimanche        []RecordFixture `yaml:"dimanche"`
}

type Fixtures struct {
	Staff    []StaffFixture   `yaml:"staff"`
	Visitors []VisitorFixture `yaml:"visitors"`
}

// Load parses every embedded fixture file into one set.
func Load() (Fixtures, error) {
	var all Fixtures
	for _, name := range []string{"fixtures/staff.yaml", "fixtures/promo_month.yaml"} {
		raw, err := fixtureFS.ReadFile(name)
		if err != nil {
			return Fixtures{}, fmt.Errorf("could not read %s: %w", name, err)
		}
		var f Fixtures
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return Fixtures{}, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		all.Staff = append(all.Staff, f.Staff...)
		all.Visitors = append(all.Visitors, f.Visitors...)
	}
	return all, nil
}

func records(in []RecordFixture) visitors.AttendanceList {
	out := make(visitors.AttendanceList, 0, len(in))
	for _, r := range in {
		present := r.Present
		out = append(out, fidelity.Record{Date: r.Date, Present: &present, Comment: r.Comment})
	}
	return out
}

// Rows turns the visitor fixtures into rows ready to insert.
func (f Fixtures) Rows() ([]visitors.Visitor, error) {
	out := make([]visitors.Visitor, 0, len(f.Visitors))
	for _, vf := range f.Visitors {
		visit, err := fidelity.ParseDate(vf.VisitDate)
		if err != nil {
			return nil, fmt.Errorf("fixture %s: %w", vf.ID, err)
		}
		out = append(out, visitors.Visitor{
			ID:                vf.ID,
			FirstName:         vf.FirstName,
			LastName:          vf.LastName,
			City:              vf.City,
			CityKey:           fidelity.CityKey(vf.City),
			VisitDate:         visit,
			AssignedMonth:     fidelity.MonthOf(visit),
			PresencesJeudi:    records(vf.Jeudi),
			PresencesDimanche: records(vf.Dimanche),
			TrackingStopped:   vf.TrackingStopped,
			Formations:        vf.Formations,
			Source:            visitors.SourceStaff,
			CreatedBy:         "seed",
		})
	}
	return out, nil
}

// Result counts what a seed run inserted and skipped.
type Result struct {
	StaffCreated    int
	StaffSkipped    int
	VisitorsCreated int
	VisitorsSkipped int
}

// SeedAll inserts the fixtures. Existing usernames and visitor ids are
// skipped, so it can run repeatedly.
func SeedAll(ctx context.Context, d *gorm.DB, log *zap.Logger) (Result, error) {
	var res Result

	f, err := Load()
	if err != nil {
		return res, err
	}

	for _, s := range f.Staff {
		_, err := auth.CreateUser(ctx, d, auth.NewUser{
			Username:      s.Username,
			Password:      s.Password,
			Role:          s.Role,
			City:          s.City,
			AssignedMonth: s.AssignedMonth,
		})
		if errors.Is(err, auth.ErrUsernameTaken) {
			log.Info("staff exists, skipping", zap.String("username", s.Username))
			res.StaffSkipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("seed staff %s: %w", s.Username, err)
		}
		res.StaffCreated++
	}

	rows, err := f.Rows()
	if err != nil {
		return res, err
	}
	for i := range rows {
		v := rows[i]
		var existing visitors.Visitor
		err := d.WithContext(ctx).Select("id").First(&existing, "id = ?", v.ID).Error
		if err == nil {
			log.Info("visitor exists, skipping", zap.String("visitor_id", v.ID))
			res.VisitorsSkipped++
			continue
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return res, fmt.Errorf("DB error on visitor %s: %w", v.ID, err)
		}

		if err := d.WithContext(ctx).Create(&v).Error; err != nil {
			return res, fmt.Errorf("seed visitor %s: %w", v.ID, err)
		}
		res.VisitorsCreated++
	}

	log.Info("seed complete",
		zap.Int("staff_created", res.StaffCreated),
		zap.Int("visitors_created", res.VisitorsCreated))
	return res, nil
}
