package portfolio

import (
	"fmt"
	"math"

	"backtest-systemv1/internal/model"
)

// Sizer decides how many whole shares to buy given available cash and the
// all-in cost of one share.
type Sizer interface {
	Shares(cash, costPerShare float64) float64
}

// FullCash spends all available cash.
type FullCash struct{}

func (FullCash) Shares(cash, costPerShare float64) float64 {
	return wholeShares(cash, costPerShare)
}

// Fraction spends a fixed fraction of available cash.
type Fraction float64

func (f Fraction) Shares(cash, costPerShare float64) float64 {
	return wholeShares(cash*float64(f), costPerShare)
}

// FixedShares always requests the same quantity; the portfolio rejects it
// when cash is short.
type FixedShares float64

func (n FixedShares) Shares(_, _ float64) float64 { return float64(n) }

// NewSizer picks FullCash for fraction 1 and Fraction otherwise.
func NewSizer(fraction float64) (Sizer, error) {
	switch {
	case fraction <= 0 || fraction > 1 || math.IsNaN(fraction):
		return nil, fmt.Errorf("%w: position fraction must be in (0, 1], got %v", model.ErrValidation, fraction)
	case fraction == 1:
		return FullCash{}, nil
	default:
		return Fraction(fraction), nil
	}
}

func wholeShares(budget, costPerShare float64) float64 {
	if costPerShare <= 0 || budget <= 0 {
		return 0
	}
	return math.Floor(budget / costPerShare)
}
