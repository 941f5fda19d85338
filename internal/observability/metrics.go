// Package observability registers the prometheus collectors of the API.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	fidelityComputations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fidelis",
		Subsystem: "fidelity",
		Name:      "computations_total",
		Help:      "Number of fidelity summaries computed, by endpoint.",
	}, []string{"endpoint"})

	fidelitySkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fidelis",
		Subsystem: "fidelity",
		Name:      "skipped_records_total",
		Help:      "Attendance records left out of a fidelity summary because they were malformed.",
	})

	fidelityCohortSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fidelis",
		Subsystem: "fidelity",
		Name:      "cohort_visitors",
		Help:      "Number of visitors in the cohorts fed to the aggregator.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	attendanceUpserts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fidelis",
		Subsystem: "attendance",
		Name:      "upserts_total",
		Help:      "Attendance records written, by bucket.",
	}, []string{"bucket"})

	attendanceInvalidDates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fidelis",
		Subsystem: "attendance",
		Name:      "invalid_dates_total",
		Help:      "Attendance records whose date could not be parsed, kept in their fallback bucket for review.",
	})

	forbiddenScopes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fidelis",
		Subsystem: "access",
		Name:      "forbidden_scopes_total",
		Help:      "Requests rejected because they asked for a scope outside the caller's role.",
	})

	httpRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fidelis",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency of HTTP requests by route pattern and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fidelis",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by a rate limiter.",
	}, []string{"limiter"})
)

func init() {
	prometheus.MustRegister(
		fidelityComputations,
		fidelitySkipped,
		fidelityCohortSize,
		attendanceUpserts,
		attendanceInvalidDates,
		forbiddenScopes,
		httpRequests,
		rateLimited,
	)
}

// RecordFidelity tracks one aggregation.
func RecordFidelity(endpoint string, cohort, skipped int) {
	fidelityComputations.WithLabelValues(endpoint).Inc()
	fidelityCohortSize.Observe(float64(cohort))
	if skipped > 0 {
		fidelitySkipped.Add(float64(skipped))
	}
}

// RecordAttendance tracks one attendance write.
func RecordAttendance(bucket string, invalidDate bool) {
	attendanceUpserts.WithLabelValues(bucket).Inc()
	if invalidDate {
		RecordInvalidDate()
	}
}

// RecordInvalidDate counts one stored record with an unparseable date.
func RecordInvalidDate() {
	attendanceInvalidDates.Inc()
}

// RecordForbiddenScope tracks a scope violation.
func RecordForbiddenScope() {
	forbiddenScopes.Inc()
}

// ObserveRequest tracks one served HTTP request. route is the chi pattern, not the raw path.
func ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// RecordRateLimited tracks a request refused by the named limiter.
func RecordRateLimited(limiter string) {
	rateLimited.WithLabelValues(limiter).Inc()
}
