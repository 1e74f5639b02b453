// Package regime labels windows of closing prices as trending, ranging,
// volatile or calm.
package regime

import (
	"fmt"
	"math"

	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/stats"
)

const (
	alternationMinLen  = 4
	alternationMinDiff = 2.0
	volatileStdRatio   = 0.7 // std / |mean|
	volatileRangeStd   = 2.0 // (max-min) / std
	trendCorrelation   = 0.9
	calmStd            = 0.02
)

// Classify returns the regime of a price window. Non-finite values are
// dropped first; rules are checked in order and the first match wins.
func Classify(prices []float64) model.Regime {
	window := finite(prices)
	if len(window) < 2 {
		return model.RegimeCalm
	}

	if isWideAlternation(window) {
		return model.RegimeVolatile
	}

	mean := stats.Mean(window)
	std := stats.StdDev(window)
	lo, hi := stats.MinMax(window)
	if std > volatileStdRatio*math.Abs(mean) && hi-lo > volatileRangeStd*std {
		return model.RegimeVolatile
	}

	if isMonotonic(window) || math.Abs(stats.Correlation(index(len(window)), window)) > trendCorrelation {
		return model.RegimeTrending
	}

	if std < calmStd {
		return model.RegimeCalm
	}
	return model.RegimeRanging
}

// DetectSeries labels every index with the regime of the trailing window
// ending there. The window grows until it reaches windowLength.
func DetectSeries(prices []float64, windowLength int) ([]model.Regime, error) {
	if windowLength <= 0 {
		return nil, fmt.Errorf("%w: regime window must be positive, got %d", model.ErrValidation, windowLength)
	}
	out := make([]model.Regime, len(prices))
	for i := range prices {
		start := i - windowLength + 1
		if start < 0 {
			start = 0
		}
		out[i] = Classify(prices[start : i+1])
	}
	return out, nil
}

// AtIndex classifies the trailing window of closes ending at idx.
func AtIndex(closes []float64, idx, windowLength int) model.Regime {
	if idx < 0 || idx >= len(closes) {
		return model.RegimeCalm
	}
	start := idx - windowLength + 1
	if start < 0 {
		start = 0
	}
	return Classify(closes[start : idx+1])
}

func finite(prices []float64) []float64 {
	out := make([]float64, 0, len(prices))
	for _, p := range prices {
		if !math.IsNaN(p) && !math.IsInf(p, 0) {
			out = append(out, p)
		}
	}
	return out
}

// isWideAlternation reports a window that flips between exactly two values
// on every step, with the two values more than alternationMinDiff apart.
func isWideAlternation(w []float64) bool {
	if len(w) < alternationMinLen {
		return false
	}
	a, b := w[0], w[1]
	if a == b || math.Abs(a-b) <= alternationMinDiff {
		return false
	}
	for i, v := range w {
		want := a
		if i%2 == 1 {
			want = b
		}
		if v != want {
			return false
		}
	}
	return true
}

// isMonotonic is non-strict in one direction with at least one strict move.
func isMonotonic(w []float64) bool {
	up, down := false, false
	for i := 1; i < len(w); i++ {
		switch {
		case w[i] > w[i-1]:
			up = true
		case w[i] < w[i-1]:
			down = true
		}
	}
	return up != down
}

func index(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}
