package scan

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/strategy"
)

var start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func rising(t *testing.T, ticker string, n int) model.PriceSeries {
	t.Helper()
	bars := make([]model.Bar, n)
	for i := range bars {
		c := float64(i + 1)
		bars[i] = model.Bar{Date: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c}
	}
	s, err := model.NewPriceSeries(ticker, bars)
	require.NoError(t, err)
	return s
}

func TestScanRequest_Validate(t *testing.T) {
	ok := ScanRequest{Tickers: []string{"AAPL"}, ShortMA: 3, LongMA: 5}
	require.NoError(t, ok.Validate())

	for name, req := range map[string]ScanRequest{
		"no tickers":      {ShortMA: 3, LongMA: 5},
		"blank ticker":    {Tickers: []string{" "}, ShortMA: 3, LongMA: 5},
		"long <= short":   {Tickers: []string{"AAPL"}, ShortMA: 5, LongMA: 5},
		"zero short":      {Tickers: []string{"AAPL"}, LongMA: 5},
		"negative rsi":    {Tickers: []string{"AAPL"}, ShortMA: 3, LongMA: 5, RSIPeriod: -1},
		"negative regime": {Tickers: []string{"AAPL"}, ShortMA: 3, LongMA: 5, RegimeWindow: -2},
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, req.Validate(), model.ErrValidation)
		})
	}
}

func TestScanRequest_Key(t *testing.T) {
	a := ScanRequest{Tickers: []string{"msft", "AAPL"}, ShortMA: 3, LongMA: 5}
	b := ScanRequest{Tickers: []string{"AAPL", "MSFT", "aapl"}, ShortMA: 3, LongMA: 5, RSIPeriod: 14, RegimeWindow: 20}
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "scan:AAPL,MSFT:sma3-5:rsi14:reg20", a.Key())

	c := a
	c.LongMA = 6
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestRunScan(t *testing.T) {
	data := map[string]model.PriceSeries{"UP": rising(t, "UP", 30)}
	req := ScanRequest{Tickers: []string{"up", "missing"}, ShortMA: 3, LongMA: 5}

	results, err := RunScan(req, data)
	require.NoError(t, err)
	require.Len(t, results, 2)

	missing := results[0]
	assert.Equal(t, "MISSING", missing.Ticker)
	assert.NotEmpty(t, missing.Err)

	up := results[1]
	assert.Empty(t, up.Err)
	assert.Equal(t, 30.0, up.LastClose)
	assert.Equal(t, start.AddDate(0, 0, 29), up.Date)
	assert.True(t, up.ShortSMA.Valid)
	assert.InDelta(t, 29.0, up.ShortSMA.Value, 1e-9)
	assert.InDelta(t, 28.0, up.LongSMA.Value, 1e-9)
	assert.InDelta(t, 100.0, up.RSI.Value, 1e-9)
	assert.Equal(t, strategy.Long, up.Position)
	assert.Equal(t, strategy.ActionBuy, up.LastAction)
	require.NotNil(t, up.LastActionDate)
	assert.Equal(t, start.AddDate(0, 0, 4), *up.LastActionDate, "first bar with both SMAs defined")
	assert.Equal(t, model.RegimeTrending, up.Regime)
}

func TestRunScan_ShortHistory(t *testing.T) {
	data := map[string]model.PriceSeries{"NEW": rising(t, "NEW", 3)}
	results, err := RunScan(ScanRequest{Tickers: []string{"NEW"}, ShortMA: 2, LongMA: 10}, data)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Empty(t, r.Err)
	assert.True(t, r.ShortSMA.Valid)
	assert.False(t, r.LongSMA.Valid)
	assert.Equal(t, strategy.Flat, r.Position)
	assert.Equal(t, strategy.ActionHold, r.LastAction)
	assert.Nil(t, r.LastActionDate)
}

func TestRunScan_InvalidRequest(t *testing.T) {
	_, err := RunScan(ScanRequest{Tickers: []string{"X"}, ShortMA: 10, LongMA: 5}, nil)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestScanResult_JSONRoundTrip(t *testing.T) {
	results, err := RunScan(ScanRequest{Tickers: []string{"UP"}, ShortMA: 2, LongMA: 40},
		map[string]model.PriceSeries{"UP": rising(t, "UP", 10)})
	require.NoError(t, err)

	raw, err := json.Marshal(results)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"long_sma":null`)

	var back []ScanResult
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, results, back)
}
