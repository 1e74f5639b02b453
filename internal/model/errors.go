package model

import "errors"

// Error taxonomy shared by every package. Callers match with errors.Is.
var (
	// ErrValidation covers malformed config, invalid parameter ranges and
	// out-of-order price data. Always returned before stateful work starts.
	ErrValidation = errors.New("validation error")

	// ErrInvalidInput is returned by indicator functions for empty,
	// non-finite or length-mismatched input.
	ErrInvalidInput = errors.New("invalid indicator input")

	// ErrMisaligned is returned when two series that must be index-aligned
	// have different lengths.
	ErrMisaligned = errors.New("series not aligned")

	ErrInsufficientCash     = errors.New("insufficient cash")
	ErrInsufficientHoldings = errors.New("insufficient holdings")

	// ErrEmptyData is returned when a backtest or optimization is attempted
	// on a zero-length price series.
	ErrEmptyData = errors.New("empty price series")
)
