package visitors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fidelis-church/fidelis-backend/internal/access"
	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
	"github.com/fidelis-church/fidelis-backend/internal/observability"
	"github.com/fidelis-church/fidelis-backend/internal/utils"
)

var (
	ErrInvalidVisitor = errors.New("invalid visitor")
	ErrImmutableField = errors.New("field cannot be changed")
)

type NewVisitor struct {
	FirstName  string   `json:"first_name" validate:"required,max=80"`
	LastName   string   `json:"last_name" validate:"max=80"`
	Phone      string   `json:"phone" validate:"omitempty,max=32"`
	Email      string   `json:"email" validate:"omitempty,email,max=254"`
	City       string   `json:"city" validate:"max=80"`
	VisitDate  string   `json:"visit_date" validate:"required,isodate"`
	Formations []string `json:"formations" validate:"max=20,dive,max=60"`
}

// VisitorPatch carries the editable fields. City and AssignedMonth are only
// decoded to reject attempts to change them.
type VisitorPatch struct {
	FirstName       *string   `json:"first_name" validate:"omitempty,min=1,max=80"`
	LastName        *string   `json:"last_name" validate:"omitempty,max=80"`
	Phone           *string   `json:"phone" validate:"omitempty,max=32"`
	Email           *string   `json:"email" validate:"omitempty,email,max=254"`
	Formations      *[]string `json:"formations" validate:"omitempty,max=20,dive,max=60"`
	TrackingStopped *bool     `json:"tracking_stopped"`
	City            *string   `json:"city"`
	AssignedMonth   *string   `json:"assigned_month"`
}

type Overview struct {
	Scope           fidelity.Criteria `json:"scope"`
	TotalVisitors   int               `json:"total_visitors"`
	TrackingStopped int               `json:"tracking_stopped"`
	Formations      map[string]int    `json:"formations"`
	BySource        map[string]int    `json:"by_source"`
}

type Service struct {
	store Store
	agg   *fidelity.Aggregator
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store Store, agg *fidelity.Aggregator, log *zap.Logger) *Service {
	return &Service{store: store, agg: agg, log: log, now: time.Now}
}

func (s *Service) Weights() fidelity.Weights { return s.agg.Weights() }

func (s *Service) build(in NewVisitor, source string) (Visitor, error) {
	if fields := utils.ValidateStruct(in); fields != nil {
		return Visitor{}, fmt.Errorf("%w: %v", ErrInvalidVisitor, fields)
	}
	city := strings.TrimSpace(in.City)
	if city == "" {
		return Visitor{}, fmt.Errorf("%w: city is required", ErrInvalidVisitor)
	}
	visit, err := fidelity.ParseDate(in.VisitDate)
	if err != nil {
		return Visitor{}, fmt.Errorf("%w: %v", ErrInvalidVisitor, err)
	}
	return Visitor{
		ID:                uuid.NewString(),
		FirstName:         strings.TrimSpace(in.FirstName),
		LastName:          strings.TrimSpace(in.LastName),
		Phone:             strings.TrimSpace(in.Phone),
		Email:             strings.ToLower(strings.TrimSpace(in.Email)),
		City:              city,
		CityKey:           fidelity.CityKey(city),
		VisitDate:         visit,
		AssignedMonth:     fidelity.MonthOf(visit),
		PresencesJeudi:    AttendanceList{},
		PresencesDimanche: AttendanceList{},
		Formations:        normalizeFormations(in.Formations),
		Source:            source,
	}, nil
}

// inScope reports whether p may see v. Out-of-scope records are reported as
// missing rather than forbidden.
func inScope(p access.Principal, v Visitor) error {
	eff, err := fidelity.ResolveListing(p, fidelity.Criteria{})
	if err != nil {
		return err
	}
	if !eff.Matches(v.ToFidelity()) {
		return ErrNotFound
	}
	return nil
}

// Create registers a visitor entered by staff. Roles bound to one city
// always create in that city.
func (s *Service) Create(ctx context.Context, p access.Principal, in NewVisitor) (Visitor, error) {
	if !p.Can(access.CapManageVisitors) {
		return Visitor{}, fmt.Errorf("%w: role %q cannot register visitors", fidelity.ErrForbidden, p.Role)
	}
	if !p.Can(access.CapAllCities) {
		if in.City != "" && !fidelity.SameCity(in.City, p.City) {
			return Visitor{}, fmt.Errorf("%w: city %q", fidelity.ErrForbidden, in.City)
		}
		in.City = p.City
	}

	v, err := s.build(in, SourceStaff)
	if err != nil {
		return Visitor{}, err
	}
	if !p.Can(access.CapAllMonths) && v.AssignedMonth != p.Month {
		return Visitor{}, fmt.Errorf("%w: month %s", fidelity.ErrForbidden, v.AssignedMonth)
	}
	v.CreatedBy = p.UserID

	if err := s.store.Create(ctx, &v); err != nil {
		return Visitor{}, fmt.Errorf("create visitor: %w", err)
	}
	s.log.Info("visitor created", zap.String("visitor_id", v.ID), zap.String("city", v.City), zap.String("month", v.AssignedMonth), zap.String("by", p.UserID))
	return v, nil
}

// Register records a self-service registration. A non-empty submissionID
// makes the call idempotent: a repeated submission returns the visitor it
// created the first time with created set to false.
func (s *Service) Register(ctx context.Context, in NewVisitor, source, submissionID string) (v Visitor, created bool, err error) {
	if submissionID != "" {
		existing, err := s.store.GetBySubmission(ctx, submissionID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Visitor{}, false, err
		}
	}

	v, err = s.build(in, source)
	if err != nil {
		return Visitor{}, false, err
	}
	if submissionID != "" {
		v.SubmissionID = &submissionID
	}

	if err := s.store.Create(ctx, &v); err != nil {
		if errors.Is(err, ErrDuplicateSubmission) {
			existing, gerr := s.store.GetBySubmission(ctx, submissionID)
			if gerr != nil {
				return Visitor{}, false, gerr
			}
			return existing, false, nil
		}
		return Visitor{}, false, fmt.Errorf("register visitor: %w", err)
	}
	s.log.Info("visitor registered", zap.String("visitor_id", v.ID), zap.String("source", source), zap.String("city", v.City))
	return v, true, nil
}

func (s *Service) Get(ctx context.Context, p access.Principal, id string) (Visitor, error) {
	v, err := s.store.Get(ctx, id)
	if err != nil {
		return Visitor{}, err
	}
	if err := inScope(p, v); err != nil {
		return Visitor{}, err
	}
	return v, nil
}

// List returns the visitors p may browse that match c.
func (s *Service) List(ctx context.Context, p access.Principal, c fidelity.Criteria, stopped *bool) ([]Visitor, fidelity.Criteria, error) {
	eff, err := fidelity.ResolveListing(p, c)
	if err != nil {
		return nil, fidelity.Criteria{}, err
	}
	vs, err := s.store.List(ctx, Query{Criteria: eff, Stopped: stopped})
	if err != nil {
		return nil, fidelity.Criteria{}, err
	}
	return keepMatching(vs, eff), eff, nil
}

func (s *Service) Update(ctx context.Context, p access.Principal, id string, patch VisitorPatch) (Visitor, error) {
	if !p.Can(access.CapManageVisitors) {
		return Visitor{}, fmt.Errorf("%w: role %q cannot edit visitors", fidelity.ErrForbidden, p.Role)
	}
	if patch.City != nil || patch.AssignedMonth != nil {
		return Visitor{}, fmt.Errorf("%w: city and assigned_month are fixed at registration", ErrImmutableField)
	}
	if fields := utils.ValidateStruct(patch); fields != nil {
		return Visitor{}, fmt.Errorf("%w: %v", ErrInvalidVisitor, fields)
	}

	return s.store.Update(ctx, id, func(v *Visitor) error {
		if err := inScope(p, *v); err != nil {
			return err
		}
		if patch.FirstName != nil {
			v.FirstName = strings.TrimSpace(*patch.FirstName)
		}
		if patch.LastName != nil {
			v.LastName = strings.TrimSpace(*patch.LastName)
		}
		if patch.Phone != nil {
			v.Phone = strings.TrimSpace(*patch.Phone)
		}
		if patch.Email != nil {
			v.Email = strings.ToLower(strings.TrimSpace(*patch.Email))
		}
		if patch.Formations != nil {
			v.Formations = normalizeFormations(*patch.Formations)
		}
		if patch.TrackingStopped != nil {
			v.TrackingStopped = *patch.TrackingStopped
		}
		return nil
	})
}

// Checkin is the outcome of one attendance write.
type Checkin struct {
	Visitor     Visitor         `json:"visitor"`
	Bucket      fidelity.Bucket `json:"bucket"`
	InvalidDate bool            `json:"invalid_date,omitempty"`
}

// RecordAttendance upserts one check-in on a visitor. A date that cannot be
// parsed is still stored, in the fallback bucket, and logged for review.
func (s *Service) RecordAttendance(ctx context.Context, p access.Principal, id string, in AttendanceInput) (Checkin, error) {
	if !p.Can(access.CapRecordAttendance) {
		return Checkin{}, fmt.Errorf("%w: role %q cannot record attendance", fidelity.ErrForbidden, p.Role)
	}
	if fields := utils.ValidateStruct(in); fields != nil {
		return Checkin{}, fmt.Errorf("%w: %v", ErrInvalidVisitor, fields)
	}

	var out Checkin
	v, err := s.store.Update(ctx, id, func(v *Visitor) error {
		if err := inScope(p, *v); err != nil {
			return err
		}
		b, invalid, err := ApplyAttendance(v, in)
		if err != nil {
			return err
		}
		out.Bucket, out.InvalidDate = b, invalid
		return nil
	})
	if err != nil {
		return Checkin{}, err
	}
	out.Visitor = v

	observability.RecordAttendance(string(out.Bucket), out.InvalidDate)
	if out.InvalidDate {
		s.log.Warn("attendance stored with unparseable date",
			zap.String("visitor_id", id),
			zap.String("bucket", string(out.Bucket)),
			zap.String("date", in.Date),
			zap.String("by", p.UserID))
	} else {
		s.log.Debug("attendance recorded", zap.String("visitor_id", id), zap.String("bucket", string(out.Bucket)), zap.String("date", in.Date))
	}
	return out, nil
}

// Purge removes a visitor for good.
func (s *Service) Purge(ctx context.Context, p access.Principal, id string) error {
	if !p.Can(access.CapPurgeVisitors) {
		return fmt.Errorf("%w: role %q cannot purge visitors", fidelity.ErrForbidden, p.Role)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Warn("visitor purged", zap.String("visitor_id", id), zap.String("by", p.UserID))
	return nil
}

// cohort loads the analytics cohort for p.
func (s *Service) cohort(ctx context.Context, p access.Principal, c fidelity.Criteria) ([]fidelity.Visitor, fidelity.Criteria, error) {
	eff, err := fidelity.Resolve(p, c)
	if err != nil {
		return nil, fidelity.Criteria{}, err
	}
	vs, err := s.store.List(ctx, Query{Criteria: eff})
	if err != nil {
		return nil, fidelity.Criteria{}, err
	}
	return fidelity.Select(toFidelity(vs), eff), eff, nil
}

func (s *Service) Fidelity(ctx context.Context, p access.Principal, c fidelity.Criteria) (fidelity.Summary, fidelity.Criteria, error) {
	cohort, eff, err := s.cohort(ctx, p, c)
	if err != nil {
		return fidelity.Summary{}, fidelity.Criteria{}, err
	}
	sum := s.agg.Aggregate(cohort)
	s.reportSkipped("summary", len(cohort), sum)
	return sum, eff, nil
}

func (s *Service) FidelityByMonth(ctx context.Context, p access.Principal, c fidelity.Criteria) ([]fidelity.MonthSummary, fidelity.Criteria, error) {
	cohort, eff, err := s.cohort(ctx, p, c)
	if err != nil {
		return nil, fidelity.Criteria{}, err
	}
	months := s.agg.AggregateByMonth(cohort)
	for _, m := range months {
		s.reportSkipped("months", m.TotalVisitors, m.Summary)
	}
	return months, eff, nil
}

func (s *Service) reportSkipped(endpoint string, cohort int, sum fidelity.Summary) {
	observability.RecordFidelity(endpoint, cohort, sum.Skipped)
	for _, sk := range sum.SkippedRecords {
		s.log.Warn("attendance record skipped",
			zap.String("visitor_id", sk.VisitorID),
			zap.String("bucket", string(sk.Bucket)),
			zap.Int("index", sk.Index),
			zap.String("date", sk.Date),
			zap.String("reason", sk.Reason))
	}
}

func (s *Service) Overview(ctx context.Context, p access.Principal, c fidelity.Criteria) (Overview, error) {
	eff, err := fidelity.Resolve(p, c)
	if err != nil {
		return Overview{}, err
	}
	vs, err := s.store.List(ctx, Query{Criteria: eff})
	if err != nil {
		return Overview{}, err
	}
	vs = keepMatching(vs, eff)

	o := Overview{
		Scope:         eff,
		TotalVisitors: len(vs),
		Formations:    map[string]int{},
		BySource:      map[string]int{},
	}
	for _, v := range vs {
		if v.TrackingStopped {
			o.TrackingStopped++
		}
		for _, f := range v.Formations {
			o.Formations[f]++
		}
		o.BySource[v.Source]++
	}
	return o, nil
}

func keepMatching(vs []Visitor, eff fidelity.Criteria) []Visitor {
	out := make([]Visitor, 0, len(vs))
	for _, v := range vs {
		if eff.Matches(v.ToFidelity()) {
			out = append(out, v)
		}
	}
	return out
}
