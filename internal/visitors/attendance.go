package visitors

import (
	"fmt"
	"strings"
	"time"

	"github.com/fidelis-church/fidelis-backend/internal/fidelity"
)

// AttendanceInput is one check-in posted by staff. Bucket is an optional
// hint; the date decides whenever it can be parsed.
type AttendanceInput struct {
	Date    string `json:"date" validate:"required"`
	Present *bool  `json:"present" validate:"required"`
	Comment string `json:"commentaire" validate:"max=500"`
	Bucket  string `json:"bucket" validate:"omitempty,oneof=jeudi dimanche"`
}

// ApplyAttendance upserts in by date. The date is removed from both sequences
// before the record is inserted into the classified one, so one date never
// sits in both buckets. An unparseable date is kept as written in the hinted
// bucket (jeudi without a hint) and reported through invalidDate.
func ApplyAttendance(v *Visitor, in AttendanceInput) (bucket fidelity.Bucket, invalidDate bool, err error) {
	var hint fidelity.Bucket
	if in.Bucket != "" {
		b, err := fidelity.ParseBucket(in.Bucket)
		if err != nil {
			return "", false, err
		}
		hint = b
	}

	day, err := fidelity.NormalizeDate(in.Date)
	if err != nil {
		day = strings.TrimSpace(in.Date)
		invalidDate = true
	}
	bucket, _ = fidelity.Classify(day, hint)

	for _, b := range fidelity.Buckets {
		list := v.Attendance(b)
		*list = removeDate(*list, day, invalidDate)
	}

	present := *in.Present
	list := v.Attendance(bucket)
	*list = append(*list, fidelity.Record{Date: day, Present: &present, Comment: in.Comment})
	list.sortByDate()
	return bucket, invalidDate, nil
}

// removeDate drops the records for day. Raw dates are compared as written.
func removeDate(list AttendanceList, day string, raw bool) AttendanceList {
	out := list[:0:0]
	for _, rec := range list {
		if raw {
			if strings.TrimSpace(rec.Date) == day {
				continue
			}
		} else if d, err := fidelity.NormalizeDate(rec.Date); err == nil && d == day {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// InvalidRecord is a stored record whose date could not be parsed.
type InvalidRecord struct {
	VisitorID string
	Bucket    fidelity.Bucket
	Date      string
}

func (r InvalidRecord) String() string {
	return fmt.Sprintf("%s %s %q", r.VisitorID, r.Bucket, r.Date)
}

// Reclassify re-buckets every stored record through the classifier and
// normalises dates. Records with unparseable dates stay in the bucket they
// were found in and are returned for review. When the same date ends up twice
// in one bucket, a present record wins over an absent one. It reports whether
// v changed.
func Reclassify(v *Visitor) (changed bool, invalid []InvalidRecord) {
	next := map[fidelity.Bucket]AttendanceList{
		fidelity.BucketJeudi:    {},
		fidelity.BucketDimanche: {},
	}
	index := map[fidelity.Bucket]map[string]int{
		fidelity.BucketJeudi:    {},
		fidelity.BucketDimanche: {},
	}

	for _, from := range fidelity.Buckets {
		for _, rec := range *v.Attendance(from) {
			day, err := fidelity.NormalizeDate(rec.Date)
			if err != nil {
				invalid = append(invalid, InvalidRecord{VisitorID: v.ID, Bucket: from, Date: rec.Date})
				next[from] = append(next[from], rec)
				continue
			}
			to := fidelity.ClassifyDate(mustParse(day))
			if to != from || day != rec.Date {
				changed = true
			}
			rec.Date = day

			if i, dup := index[to][day]; dup {
				changed = true
				if isPresent(rec) && !isPresent(next[to][i]) {
					next[to][i] = rec
				}
				continue
			}
			index[to][day] = len(next[to])
			next[to] = append(next[to], rec)
		}
	}

	for _, b := range fidelity.Buckets {
		list := next[b]
		list.sortByDate()
		if !changed && !sameOrder(*v.Attendance(b), list) {
			changed = true
		}
		*v.Attendance(b) = list
	}
	return changed, invalid
}

func mustParse(day string) time.Time {
	t, _ := fidelity.ParseDate(day)
	return t
}

func isPresent(r fidelity.Record) bool {
	return r.Present != nil && *r.Present
}

func sameOrder(a, b AttendanceList) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Date != b[i].Date {
			return false
		}
	}
	return true
}
