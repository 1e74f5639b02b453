// Package indicator provides technical indicator calculations over daily bars.
//
// Streaming indicators implement the Indicator interface and are fed one
// price at a time. Batch functions (SMA, RSI, MACD, ...) are built on the
// streaming types and return a Series aligned 1:1 with their input, where
// warm-up positions are explicitly undefined rather than NaN.
package indicator

import (
	"encoding/json"
	"fmt"
	"math"

	"backtest-systemv1/internal/model"
)

// Indicator is the interface for all streaming technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "RSI").
	Name() string

	// Update feeds the next price and recalculates.
	Update(price float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// Optional is a single indicator value that may be undefined.
type Optional struct {
	Value float64
	Valid bool
}

// Some wraps a defined value.
func Some(v float64) Optional { return Optional{Value: v, Valid: true} }

// MarshalJSON encodes undefined values as null.
func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON decodes null as undefined.
func (o *Optional) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Optional{}
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

// Series is an indicator output aligned index-for-index with its input.
type Series []Optional

// FromValues lifts plain values into a fully defined Series.
func FromValues(values []float64) Series {
	out := make(Series, len(values))
	for i, v := range values {
		out[i] = Some(v)
	}
	return out
}

// At returns the value at i and whether it is defined.
func (s Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s) {
		return 0, false
	}
	return s[i].Value, s[i].Valid
}

// Last returns the final element.
func (s Series) Last() (float64, bool) { return s.At(len(s) - 1) }

// FirstValid returns the index of the first defined value, or -1.
func (s Series) FirstValid() int {
	for i, o := range s {
		if o.Valid {
			return i
		}
	}
	return -1
}

// collect runs a streaming indicator over values and records Value() once
// Ready() holds.
func collect(ind Indicator, values []float64) Series {
	out := make(Series, len(values))
	for i, v := range values {
		ind.Update(v)
		if ind.Ready() {
			out[i] = Some(ind.Value())
		}
	}
	return out
}

func checkPeriod(name string, period int) error {
	if period <= 0 {
		return fmt.Errorf("%w: %s period must be positive, got %d", model.ErrInvalidInput, name, period)
	}
	return nil
}

func checkValues(name string, values []float64) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: %s input is empty", model.ErrInvalidInput, name)
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s input[%d] is not finite", model.ErrInvalidInput, name, i)
		}
	}
	return nil
}

func checkSameLength(name string, lens ...int) error {
	for _, n := range lens[1:] {
		if n != lens[0] {
			return fmt.Errorf("%w: %s inputs have mismatched lengths %v", model.ErrInvalidInput, name, lens)
		}
	}
	return nil
}
