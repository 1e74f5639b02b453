// Package walkforward splits a date-indexed series into successive
// train/test folds.
package walkforward

import (
	"fmt"
	"time"

	"backtest-systemv1/internal/model"
)

const (
	daysPerYear  = 365
	daysPerMonth = 30
)

// Window is a half-open index range [Start, End) into the date slice.
// StartDate and EndDate are the first and last dates inside it.
type Window struct {
	Start     int       `json:"start"`
	End       int       `json:"end"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Len returns the number of points in the window.
func (w Window) Len() int { return w.End - w.Start }

// Days returns the calendar span from the first to the last date.
func (w Window) Days() int { return int(w.EndDate.Sub(w.StartDate).Hours() / 24) }

// Fold is one train/test pair. Test.Start == Train.End.
type Fold struct {
	Index int    `json:"index"`
	Train Window `json:"train"`
	Test  Window `json:"test"`
}

// Split returns the train and test sub-series of series.
func (f Fold) Split(series model.PriceSeries) (train, test model.PriceSeries) {
	return series.Slice(f.Train.Start, f.Train.End), series.Slice(f.Test.Start, f.Test.End)
}

// GeneratePeriods partitions dates into folds. A train window spans
// trainYears*365 calendar days and a test window testMonths*30 days; the
// next train window starts where the previous test window ended. The last
// test window is clamped at the end of the data. Too little data yields no
// folds.
func GeneratePeriods(dates []time.Time, trainYears, testMonths int) ([]Fold, error) {
	if trainYears <= 0 || testMonths <= 0 {
		return nil, fmt.Errorf("%w: walk-forward train years (%d) and test months (%d) must be positive",
			model.ErrValidation, trainYears, testMonths)
	}
	trainSpan := time.Duration(trainYears*daysPerYear) * 24 * time.Hour
	testSpan := time.Duration(testMonths*daysPerMonth) * 24 * time.Hour

	n := len(dates)
	var folds []Fold
	for start := 0; start < n; {
		trainEnd := advance(dates, start, trainSpan)
		if trainEnd >= n {
			break
		}
		testEnd := advance(dates, trainEnd, testSpan)
		if testEnd == trainEnd {
			break
		}
		folds = append(folds, Fold{
			Index: len(folds),
			Train: window(dates, start, trainEnd),
			Test:  window(dates, trainEnd, testEnd),
		})
		start = testEnd
	}
	return folds, nil
}

// advance returns the first index at or after from whose date is at least
// span after dates[from], or len(dates).
func advance(dates []time.Time, from int, span time.Duration) int {
	i := from
	for i < len(dates) && dates[i].Sub(dates[from]) < span {
		i++
	}
	return i
}

func window(dates []time.Time, start, end int) Window {
	return Window{Start: start, End: end, StartDate: dates[start], EndDate: dates[end-1]}
}
