// Package fidelity holds the attendance bookkeeping used by the dashboards:
// classifying a check-in into the jeudi or dimanche bucket, selecting the
// cohort a caller may look at, and computing the weighted retention rate of
// that cohort.
//
// Everything here is pure and works on already-fetched values, so concurrent
// callers need no coordination.
package fidelity
