package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-systemv1/internal/model"
)

func testSeries(t *testing.T, n int) model.PriceSeries {
	t.Helper()
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	for i := range bars {
		c := 100 + float64(i%7) + float64(i)/10
		bars[i] = model.Bar{
			Date: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000 + float64(i),
		}
	}
	s, err := model.NewPriceSeries("TEST", bars)
	require.NoError(t, err)
	return s
}

func TestParseSpecs(t *testing.T) {
	cfgs, err := ParseSpecs("SMA:20, rsi:14,MACD,BB:20,MACD:5:10:3")
	require.NoError(t, err)
	require.Len(t, cfgs, 5)

	assert.Equal(t, "SMA_20", cfgs[0].Name())
	assert.Equal(t, "RSI_14", cfgs[1].Name())
	assert.Equal(t, []int{12, 26, 9}, cfgs[2].Periods)
	assert.Equal(t, "BB_20", cfgs[3].Name())
	assert.Equal(t, "MACD_5_10_3", cfgs[4].Name())
}

func TestParseSpecs_Errors(t *testing.T) {
	for _, spec := range []string{"FOO:3", "SMA", "SMA:x", "SMA:1:2", "MACD:1:2"} {
		_, err := ParseSpecs(spec)
		assert.ErrorIs(t, err, model.ErrValidation, spec)
	}
}

func TestBuildFrame_AlignedColumns(t *testing.T) {
	series := testSeries(t, 60)
	cfgs, err := ParseSpecs("SMA:20,RSI:14,ATR:14,ADX:14,BB:20,MACD:12,VOLMA:5")
	require.NoError(t, err)

	f, err := BuildFrame(series, cfgs)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"SMA_20", "RSI_14", "ATR_14", "ADX_14",
		"BB_UPPER_20", "BB_MIDDLE_20", "BB_LOWER_20",
		"MACD_12_26_9", "MACD_SIGNAL_12_26_9", "MACD_HIST_12_26_9",
		"VOLMA_5",
	}, f.Names())
	for _, name := range f.Names() {
		col, ok := f.Get(name)
		require.True(t, ok)
		assert.Len(t, col, series.Len(), name)
	}

	sma, _ := f.Get("SMA_20")
	mid, _ := f.Get("BB_MIDDLE_20")
	assert.Equal(t, sma, mid)
	assert.Equal(t, 19, sma.FirstValid())
}

func TestBuildFrame_EmptySeries(t *testing.T) {
	_, err := BuildFrame(model.PriceSeries{Ticker: "X"}, []IndicatorConfig{{Type: "SMA", Periods: []int{3}}})
	assert.ErrorIs(t, err, model.ErrEmptyData)
}

func TestBuildFrame_PropagatesIndicatorError(t *testing.T) {
	_, err := BuildFrame(testSeries(t, 10), []IndicatorConfig{{Type: "SMA", Periods: []int{0}}})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}
