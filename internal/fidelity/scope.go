package fidelity

import (
	"fmt"
	"strings"

	"github.com/fidelis-church/fidelis-backend/internal/access"
)

// Criteria selects a cohort. Zero fields do not filter.
type Criteria struct {
	City  string `json:"city,omitempty"`
	Month string `json:"month,omitempty"`
	Year  int    `json:"year,omitempty"`
}

// Validate checks the month and year formats.
func (c Criteria) Validate() error {
	if c.Month != "" {
		if _, err := ParseMonth(c.Month); err != nil {
			return err
		}
	}
	if c.Year != 0 && (c.Year < 1900 || c.Year > 9999) {
		return fmt.Errorf("%w: year %d", ErrInvalidCriteria, c.Year)
	}
	return nil
}

// Matches reports whether v satisfies every non-zero criterion.
func (c Criteria) Matches(v Visitor) bool {
	if c.City != "" && !SameCity(v.City, c.City) {
		return false
	}
	if c.Month != "" && v.Month != c.Month {
		return false
	}
	if c.Year != 0 && yearOf(v.Month) != c.Year {
		return false
	}
	return true
}

// Resolve returns the criteria actually applied for an analytics request by
// p. Role scope is layered on top of what was asked and can only narrow it.
// Asking explicitly for a city, month or year outside the role's reach fails
// with ErrForbidden rather than returning an empty cohort.
func Resolve(p access.Principal, c Criteria) (Criteria, error) {
	if !p.Can(access.CapViewAnalytics) {
		return Criteria{}, fmt.Errorf("%w: role %q cannot view analytics", ErrForbidden, p.Role)
	}
	return narrow(p, c)
}

// ResolveListing is Resolve for staff browsing visitor records instead of
// analytics.
func ResolveListing(p access.Principal, c Criteria) (Criteria, error) {
	if !p.Can(access.CapManageVisitors) {
		return Criteria{}, fmt.Errorf("%w: role %q cannot list visitors", ErrForbidden, p.Role)
	}
	return narrow(p, c)
}

func narrow(p access.Principal, c Criteria) (Criteria, error) {
	if err := c.Validate(); err != nil {
		return Criteria{}, err
	}
	eff := Criteria{
		City:  strings.TrimSpace(c.City),
		Month: c.Month,
		Year:  c.Year,
	}

	if !p.Can(access.CapAllCities) {
		if strings.TrimSpace(p.City) == "" {
			return Criteria{}, fmt.Errorf("%w: no city assigned to %s", ErrForbidden, p.Role)
		}
		if eff.City != "" && !SameCity(eff.City, p.City) {
			return Criteria{}, fmt.Errorf("%w: city %q", ErrForbidden, eff.City)
		}
		eff.City = p.City
	}

	if !p.Can(access.CapAllMonths) {
		if p.Month == "" {
			return Criteria{}, fmt.Errorf("%w: no month assigned to %s", ErrForbidden, p.Role)
		}
		if eff.Month != "" && eff.Month != p.Month {
			return Criteria{}, fmt.Errorf("%w: month %s", ErrForbidden, eff.Month)
		}
		if eff.Year != 0 && eff.Year != yearOf(p.Month) {
			return Criteria{}, fmt.Errorf("%w: year %d", ErrForbidden, eff.Year)
		}
		eff.Month = p.Month
	}
	return eff, nil
}

// Filter selects the analytics cohort for p out of visitors.
func Filter(visitors []Visitor, c Criteria, p access.Principal) ([]Visitor, error) {
	eff, err := Resolve(p, c)
	if err != nil {
		return nil, err
	}
	return Select(visitors, eff), nil
}

// Select keeps the visitors matching already-resolved criteria.
func Select(visitors []Visitor, eff Criteria) []Visitor {
	out := make([]Visitor, 0, len(visitors))
	for _, v := range visitors {
		if eff.Matches(v) {
			out = append(out, v)
		}
	}
	return out
}
