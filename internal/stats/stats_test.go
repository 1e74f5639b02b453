package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanAndStdDev(t *testing.T) {
	v := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, Mean(v), 1e-12)
	// Sum of squared deviations = 32, sample variance = 32/7
	assert.InDelta(t, 2.13809, StdDev(v), 1e-5)

	assert.Zero(t, Mean(nil))
	assert.Zero(t, StdDev([]float64{3}))
}

func TestCorrelation(t *testing.T) {
	x := []float64{0, 1, 2, 3}
	assert.InDelta(t, 1.0, Correlation(x, []float64{1, 3, 5, 7}), 1e-12)
	assert.InDelta(t, -1.0, Correlation(x, []float64{4, 3, 2, 1}), 1e-12)
	assert.Zero(t, Correlation(x, []float64{5, 5, 5, 5}), "constant series")
	assert.Zero(t, Correlation(x, []float64{1, 2}), "mismatched")
}

func TestMinMax(t *testing.T) {
	lo, hi := MinMax([]float64{3, -1, 8, 2})
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 8.0, hi)
}
