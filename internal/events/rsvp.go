package events

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fidelis-church/fidelis-backend/internal/access"
	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
)

var (
	ErrNotFound  = errors.New("event not found")
	ErrEventFull = errors.New("event is full")
	ErrForbidden = errors.New("event outside caller's city")
)

// Tally summarises the answers to e.
func Tally(e Event, rsvps []RSVP) Summary {
	var s Summary
	for _, r := range rsvps {
		switch r.Status {
		case StatusGoing:
			s.Going++
		case StatusMaybe:
			s.Maybe++
		case StatusDeclined:
			s.Declined++
		}
	}
	if e.Capacity > 0 {
		left := e.Capacity - s.Going
		if left < 0 {
			left = 0
		}
		s.RemainingCapacity = &left
	}
	return s
}

// admit checks whether one more "going" answer fits. goingOthers excludes
// the respondent's own previous answer so changing maybe to going is judged
// on the other seats.
func admit(e Event, goingOthers int, status string) error {
	if status != StatusGoing || e.Capacity == 0 {
		return nil
	}
	if goingOthers >= e.Capacity {
		return fmt.Errorf("%w: %d of %d seats taken", ErrEventFull, goingOthers, e.Capacity)
	}
	return nil
}

// eventCity returns the city an event is created in for p. Roles bound to a
// city always create there.
func eventCity(p access.Principal, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if p.Can(access.CapAllCities) {
		if requested == "" {
			return "", fmt.Errorf("%w: city is required", errInvalidEvent)
		}
		return requested, nil
	}
	if requested != "" && !fidelity.SameCity(requested, p.City) {
		return "", fmt.Errorf("%w: %q", ErrForbidden, requested)
	}
	return p.City, nil
}

// canManage reports whether p may edit or delete e.
func canManage(p access.Principal, e Event) bool {
	return p.Can(access.CapAllCities) || fidelity.SameCity(p.City, e.City)
}

var errInvalidEvent = errors.New("invalid event")

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
