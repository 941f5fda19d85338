package fidelity

import (
	"fmt"
	"strings"
	"time"
)

// Bucket is one of the two weekly attendance slots a check-in is filed under.
type Bucket string

const (
	// BucketJeudi collects every non-Sunday check-in. It started as the
	// Thursday service and became the catch-all.
	BucketJeudi Bucket = "jeudi"
	// BucketDimanche collects Sunday check-ins.
	BucketDimanche Bucket = "dimanche"
)

// Buckets lists both buckets in reporting order.
var Buckets = []Bucket{BucketJeudi, BucketDimanche}

// DateLayout is the calendar date format stored on attendance records.
const DateLayout = "2006-01-02"

// ParseBucket accepts "jeudi" or "dimanche" in any case.
func ParseBucket(s string) (Bucket, error) {
	switch Bucket(strings.ToLower(strings.TrimSpace(s))) {
	case BucketJeudi:
		return BucketJeudi, nil
	case BucketDimanche:
		return BucketDimanche, nil
	}
	return "", fmt.Errorf("unknown attendance bucket %q", s)
}

// ParseDate reads a calendar date. Full RFC 3339 timestamps are accepted and
// reduced to their calendar date in the offset they were written with.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// NormalizeDate returns s rewritten as YYYY-MM-DD.
func NormalizeDate(s string) (string, error) {
	t, err := ParseDate(s)
	if err != nil {
		return "", err
	}
	return t.Format(DateLayout), nil
}

// ClassifyDate files Sundays under BucketDimanche and every other day under
// BucketJeudi.
func ClassifyDate(t time.Time) Bucket {
	if t.Weekday() == time.Sunday {
		return BucketDimanche
	}
	return BucketJeudi
}

// Classify picks the bucket for a raw date string. When the date cannot be
// parsed the fallback is returned along with an ErrInvalidDate so the caller
// can keep the record where it asked for it and flag it for review. An empty
// fallback means BucketJeudi.
func Classify(date string, fallback Bucket) (Bucket, error) {
	if fallback == "" {
		fallback = BucketJeudi
	}
	t, err := ParseDate(date)
	if err != nil {
		return fallback, err
	}
	return ClassifyDate(t), nil
}
