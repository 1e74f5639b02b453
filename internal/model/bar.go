package model

import (
	"fmt"
	"time"
)

// Bar is one daily OHLCV record for a single instrument.
type Bar struct {
	Date   time.Time `json:"date"` // session date (UTC midnight)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceSeries is a date-ascending sequence of bars for one ticker.
// Dates are strictly increasing; gaps (weekends, holidays) are allowed.
type PriceSeries struct {
	Ticker string `json:"ticker"`
	Bars   []Bar  `json:"bars"`
}

// NewPriceSeries validates ordering and returns a series over bars.
// The slice is used as-is, not copied.
func NewPriceSeries(ticker string, bars []Bar) (PriceSeries, error) {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Date.After(bars[i-1].Date) {
			return PriceSeries{}, fmt.Errorf("%w: bar %d date %s not after %s",
				ErrValidation, i, bars[i].Date.Format(DateLayout), bars[i-1].Date.Format(DateLayout))
		}
	}
	return PriceSeries{Ticker: ticker, Bars: bars}, nil
}

// Len returns the number of bars.
func (s PriceSeries) Len() int { return len(s.Bars) }

// Slice returns the sub-series [from, to). Bounds are clamped.
func (s PriceSeries) Slice(from, to int) PriceSeries {
	if from < 0 {
		from = 0
	}
	if to > len(s.Bars) {
		to = len(s.Bars)
	}
	if from > to {
		from = to
	}
	return PriceSeries{Ticker: s.Ticker, Bars: s.Bars[from:to]}
}

func (s PriceSeries) Dates() []time.Time {
	out := make([]time.Time, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Date
	}
	return out
}

func (s PriceSeries) Closes() []float64 { return s.column(func(b Bar) float64 { return b.Close }) }
func (s PriceSeries) Highs() []float64  { return s.column(func(b Bar) float64 { return b.High }) }
func (s PriceSeries) Lows() []float64   { return s.column(func(b Bar) float64 { return b.Low }) }
func (s PriceSeries) Volumes() []float64 {
	return s.column(func(b Bar) float64 { return b.Volume })
}

func (s PriceSeries) column(pick func(Bar) float64) []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = pick(b)
	}
	return out
}

// DateLayout is the ISO date format used in config, storage and reports.
const DateLayout = "2006-01-02"
