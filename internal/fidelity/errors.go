package fidelity

import "errors"

var (
	// ErrInvalidDate is returned when an attendance date cannot be parsed.
	ErrInvalidDate = errors.New("invalid attendance date")

	// ErrMalformedRecord marks an attendance record left out of an aggregation.
	ErrMalformedRecord = errors.New("malformed attendance record")

	// ErrForbidden is returned when a caller asks for a scope its role does not cover.
	ErrForbidden = errors.New("scope outside caller permissions")

	// ErrInvalidCriteria is returned for unparseable month or year filters.
	ErrInvalidCriteria = errors.New("invalid scope criteria")
)
