package fidelity

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Weights splits the retention percentage between the two buckets.
type Weights struct {
	Dimanche float64 `json:"dimanche"`
	Jeudi    float64 `json:"jeudi"`
}

// DefaultWeights favours Sunday attendance 60/40.
var DefaultWeights = Weights{Dimanche: 0.6, Jeudi: 0.4}

// Validate rejects negative weights and weights that do not add up to 1.
func (w Weights) Validate() error {
	if w.Dimanche < 0 || w.Jeudi < 0 {
		return errors.New("fidelity weights must be positive")
	}
	if math.Abs(w.Dimanche+w.Jeudi-1) > 1e-9 {
		return fmt.Errorf("fidelity weights must sum to 1, got %.4f", w.Dimanche+w.Jeudi)
	}
	return nil
}

// Summary is the dashboard view of one cohort. It is derived on demand and
// never stored.
type Summary struct {
	TotalVisitors    int     `json:"total_visitors"`
	DatesJeudi       int     `json:"dates_jeudi"`
	ExpectedJeudi    int     `json:"expected_presences_jeudi"`
	ActualJeudi      int     `json:"total_presences_jeudi"`
	RateJeudi        float64 `json:"taux_jeudi"`
	DatesDimanche    int     `json:"dates_dimanche"`
	ExpectedDimanche int     `json:"expected_presences_dimanche"`
	ActualDimanche   int     `json:"total_presences_dimanche"`
	RateDimanche     float64 `json:"taux_dimanche"`
	Fidelisation     float64 `json:"fidelisation"`
	Skipped          int     `json:"skipped_records"`

	SkippedRecords []SkippedRecord `json:"-"`
}

// SkippedRecord describes an attendance entry that was left out of a Summary.
type SkippedRecord struct {
	VisitorID string
	Bucket    Bucket
	Index     int
	Date      string
	Reason    string
}

// Err returns the skip as an error wrapping ErrMalformedRecord.
func (s SkippedRecord) Err() error {
	return fmt.Errorf("%w: visitor %s %s[%d] %q: %s",
		ErrMalformedRecord, s.VisitorID, s.Bucket, s.Index, s.Date, s.Reason)
}

// MonthSummary is a Summary for one assigned month.
type MonthSummary struct {
	Month string `json:"month"`
	Summary
}

// Aggregator computes retention summaries with a fixed weighting.
type Aggregator struct {
	weights Weights
}

// NewAggregator returns an Aggregator using w. Callers validate w at startup.
func NewAggregator(w Weights) *Aggregator {
	return &Aggregator{weights: w}
}

// Weights returns the weighting the aggregator was built with.
func (a *Aggregator) Weights() Weights { return a.weights }

type bucketTally struct {
	dates  map[string]struct{}
	actual int
}

// Aggregate computes the Summary of a cohort. It never fails: malformed
// records are counted in Skipped and otherwise ignored.
func (a *Aggregator) Aggregate(cohort []Visitor) Summary {
	s := Summary{TotalVisitors: len(cohort)}
	if len(cohort) == 0 {
		return s
	}

	tallies := map[Bucket]*bucketTally{
		BucketJeudi:    {dates: make(map[string]struct{})},
		BucketDimanche: {dates: make(map[string]struct{})},
	}
	for _, v := range cohort {
		for _, b := range Buckets {
			tally := tallies[b]
			for i, rec := range v.Records(b) {
				day, err := NormalizeDate(rec.Date)
				if err != nil {
					s.skip(v.ID, b, i, rec.Date, "unparseable date")
					continue
				}
				if rec.Present == nil {
					s.skip(v.ID, b, i, rec.Date, "missing presence flag")
					continue
				}
				tally.dates[day] = struct{}{}
				if *rec.Present {
					tally.actual++
				}
			}
		}
	}

	jeudi, dimanche := tallies[BucketJeudi], tallies[BucketDimanche]
	s.DatesJeudi = len(jeudi.dates)
	s.ExpectedJeudi = s.DatesJeudi * len(cohort)
	s.ActualJeudi = jeudi.actual
	s.DatesDimanche = len(dimanche.dates)
	s.ExpectedDimanche = s.DatesDimanche * len(cohort)
	s.ActualDimanche = dimanche.actual

	rateJeudi := rate(s.ActualJeudi, s.ExpectedJeudi)
	rateDimanche := rate(s.ActualDimanche, s.ExpectedDimanche)
	s.RateJeudi = round2(rateJeudi)
	s.RateDimanche = round2(rateDimanche)
	s.Fidelisation = round2(rateDimanche*a.weights.Dimanche + rateJeudi*a.weights.Jeudi)
	return s
}

// AggregateByMonth splits the cohort by assigned month and summarises each
// month separately, oldest month first.
func (a *Aggregator) AggregateByMonth(cohort []Visitor) []MonthSummary {
	groups := make(map[string][]Visitor)
	for _, v := range cohort {
		groups[v.Month] = append(groups[v.Month], v)
	}
	months := make([]string, 0, len(groups))
	for m := range groups {
		months = append(months, m)
	}
	sort.Strings(months)

	out := make([]MonthSummary, 0, len(months))
	for _, m := range months {
		out = append(out, MonthSummary{Month: m, Summary: a.Aggregate(groups[m])})
	}
	return out
}

func (s *Summary) skip(visitorID string, b Bucket, idx int, date, reason string) {
	s.Skipped++
	s.SkippedRecords = append(s.SkippedRecords, SkippedRecord{
		VisitorID: visitorID,
		Bucket:    b,
		Index:     idx,
		Date:      date,
		Reason:    reason,
	})
}

func rate(actual, expected int) float64 {
	if expected == 0 {
		return 0
	}
	return float64(actual) / float64(expected) * 100
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
