package fidelity

import (
	"fmt"
	"time"
)

// MonthLayout is the format of a visitor's assigned month.
const MonthLayout = "2006-01"

// Record is one attendance entry for one date.
type Record struct {
	Date    string `json:"date"`
	Present *bool  `json:"present"`
	Comment string `json:"commentaire,omitempty"`
}

// Visitor is the slice of a visitor's data the computations need.
type Visitor struct {
	ID              string
	City            string
	Month           string
	Jeudi           []Record
	Dimanche        []Record
	TrackingStopped bool
}

// Records returns the sequence stored for the bucket.
func (v Visitor) Records(b Bucket) []Record {
	if b == BucketDimanche {
		return v.Dimanche
	}
	return v.Jeudi
}

// ParseMonth validates a "YYYY-MM" assigned month.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse(MonthLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: month %q", ErrInvalidCriteria, s)
	}
	return t, nil
}

// MonthOf returns the assigned month for a visit date.
func MonthOf(t time.Time) string {
	return t.Format(MonthLayout)
}

func yearOf(month string) int {
	t, err := time.Parse(MonthLayout, month)
	if err != nil {
		return 0
	}
	return t.Year()
}
