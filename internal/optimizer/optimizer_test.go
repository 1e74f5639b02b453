package optimizer

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-systemv1/internal/backtest"
	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/performance"
)

func daily(t *testing.T, n int, price func(i int) float64) model.PriceSeries {
	t.Helper()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	for i := range bars {
		p := price(i)
		bars[i] = model.Bar{Date: start.AddDate(0, 0, i), Open: p, High: p, Low: p, Close: p, Volume: 1}
	}
	s, err := model.NewPriceSeries("SINE", bars)
	require.NoError(t, err)
	return s
}

func sine(i int) float64 { return 100 + 10*math.Sin(float64(i)/10) }

func template() Template {
	return Template{Backtest: backtest.Config{InitialCash: 10000, CommissionRate: 0.001}}
}

type countingObserver struct {
	runs atomic.Int64
}

func (c *countingObserver) TradeOpened() {}
func (c *countingObserver) TradeClosed(float64) {}
func (c *countingObserver) SignalSkipped() {}
func (c *countingObserver) BacktestCompleted(d time.Duration) { c.runs.Add(1) }

func TestNew_Validation(t *testing.T) {
	cases := map[string]ParamRanges{
		"zero candidate":     {ParamShort: {0, 5}, ParamLong: {10}},
		"negative candidate": {ParamShort: {5}, ParamLong: {10, -20}},
		"empty range":        {ParamShort: {}, ParamLong: {10}},
		"missing long":       {ParamShort: {5}},
		"unknown parameter":  {ParamShort: {5}, ParamLong: {10}, "lookback": {3}},
		"zero rsi":           {ParamShort: {5}, ParamLong: {10}, ParamRSI: {0}},
	}
	for name, ranges := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(ranges)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
}

func TestNew_InvalidRangeRunsNothing(t *testing.T) {
	obs := &countingObserver{}
	_, err := New(ParamRanges{ParamShort: {-1, 2}, ParamLong: {5}}, WithObserver(obs))
	require.ErrorIs(t, err, model.ErrValidation)
	assert.Zero(t, obs.runs.Load())
}

func TestGrid_DeterministicOrder(t *testing.T) {
	o, err := New(ParamRanges{ParamShort: {3, 1, 1}, ParamLong: {5, 2}})
	require.NoError(t, err)

	// Names sorted (ma_long, ma_short), values ascending, long <= short dropped.
	assert.Equal(t, []Params{
		{ParamLong: 2, ParamShort: 1},
		{ParamLong: 5, ParamShort: 1},
		{ParamLong: 5, ParamShort: 3},
	}, o.Grid())
}

func TestOptimize_EachCellOnce(t *testing.T) {
	obs := &countingObserver{}
	o, err := New(ParamRanges{ParamShort: {2, 3, 5}, ParamLong: {10, 20}}, WithObserver(obs), WithWorkers(3))
	require.NoError(t, err)

	res, err := o.Optimize(context.Background(), daily(t, 200, sine), template())
	require.NoError(t, err)
	assert.Len(t, res.AllResults, 6)
	assert.EqualValues(t, 6, obs.runs.Load())
	assert.Equal(t, o.Grid(), paramsOf(res.AllResults))
}

func TestOptimize_SingleCandidate(t *testing.T) {
	obs := &countingObserver{}
	o, err := New(ParamRanges{ParamShort: {4}, ParamLong: {8, 12, 16}}, WithObserver(obs))
	require.NoError(t, err)

	res, err := o.Optimize(context.Background(), daily(t, 150, sine), template())
	require.NoError(t, err)
	assert.Equal(t, 4, res.BestParams[ParamShort])
	assert.Len(t, res.AllResults, 3)
	assert.EqualValues(t, 3, obs.runs.Load())
}

func TestOptimize_TiesGoToFirstCell(t *testing.T) {
	// Flat prices never cross, so every cell has an undefined Sharpe.
	flat := daily(t, 60, func(int) float64 { return 50 })
	o, err := New(ParamRanges{ParamShort: {2, 3}, ParamLong: {5, 7}}, WithWorkers(4))
	require.NoError(t, err)

	res, err := o.Optimize(context.Background(), flat, template())
	require.NoError(t, err)
	assert.Equal(t, o.Grid()[0], res.BestParams)
	assert.True(t, math.IsInf(float64(res.BestScore), -1))
	for _, c := range res.AllResults {
		assert.NotEmpty(t, c.Err)
	}
}

func TestOptimize_IndependentOfWorkerCount(t *testing.T) {
	series := daily(t, 300, sine)
	ranges := ParamRanges{ParamShort: {2, 3, 5, 8}, ParamLong: {10, 20, 30}}

	var results []*Result
	for _, workers := range []int{1, 8} {
		o, err := New(ranges, WithWorkers(workers))
		require.NoError(t, err)
		res, err := o.Optimize(context.Background(), series, template())
		require.NoError(t, err)
		results = append(results, res)
	}
	assert.Equal(t, results[0].BestParams, results[1].BestParams)
	assert.Equal(t, results[0].AllResults, results[1].AllResults)
}

func TestOptimize_WithRSIAxis(t *testing.T) {
	o, err := New(ParamRanges{ParamShort: {3}, ParamLong: {10}, ParamRSI: {7, 14}})
	require.NoError(t, err)

	res, err := o.Optimize(context.Background(), daily(t, 200, sine), template())
	require.NoError(t, err)
	require.Len(t, res.AllResults, 2)
	assert.Equal(t, 7, res.AllResults[0].Params[ParamRSI])
	assert.Equal(t, 14, res.AllResults[1].Params[ParamRSI])
}

func TestOptimize_Progress(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []Progress
	)
	o, err := New(ParamRanges{ParamShort: {2, 3}, ParamLong: {10, 20}}, WithProgress(func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, p)
	}))
	require.NoError(t, err)

	_, err = o.Optimize(context.Background(), daily(t, 120, sine), template())
	require.NoError(t, err)
	require.Len(t, calls, 4)
	for i, p := range calls {
		assert.Equal(t, i+1, p.Done)
		assert.Equal(t, 4, p.Total)
	}
}

func TestOptimize_Errors(t *testing.T) {
	o, err := New(ParamRanges{ParamShort: {2}, ParamLong: {5}})
	require.NoError(t, err)

	_, err = o.Optimize(context.Background(), model.PriceSeries{Ticker: "EMPTY"}, template())
	assert.ErrorIs(t, err, model.ErrEmptyData)

	_, err = o.Optimize(context.Background(), daily(t, 30, sine), Template{})
	assert.ErrorIs(t, err, model.ErrValidation, "zero initial cash")

	inverted, err := New(ParamRanges{ParamShort: {10}, ParamLong: {5}})
	require.NoError(t, err)
	_, err = inverted.Optimize(context.Background(), daily(t, 30, sine), template())
	assert.ErrorIs(t, err, model.ErrValidation, "no cell satisfies long > short")
}

func TestOptimize_Cancelled(t *testing.T) {
	obs := &countingObserver{}
	o, err := New(ParamRanges{ParamShort: {2, 3, 4}, ParamLong: {10, 20}}, WithObserver(obs))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Optimize(ctx, daily(t, 100, sine), template())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, obs.runs.Load())
}

func TestWalkForward(t *testing.T) {
	var seen []int
	o, err := New(ParamRanges{ParamShort: {3, 5}, ParamLong: {10, 20}},
		WithFoldDone(func(f FoldResult) { seen = append(seen, f.Fold.Index) }))
	require.NoError(t, err)

	// 1000 daily bars: train [0,365) test [365,545), train [545,910) test [910,1000).
	a, err := o.WalkForward(context.Background(), daily(t, 1000, sine), template(), 1, 6)
	require.NoError(t, err)
	require.Len(t, a.Folds, 2)
	assert.Equal(t, "SINE", a.Ticker)

	assert.Equal(t, 365, a.Folds[0].Fold.Test.Start)
	assert.Equal(t, 545, a.Folds[0].Fold.Test.End)
	assert.Equal(t, 1000, a.Folds[1].Fold.Test.End)
	for _, f := range a.Folds {
		assert.Contains(t, []int{3, 5}, f.BestParams[ParamShort])
		assert.Contains(t, []int{10, 20}, f.BestParams[ParamLong])
		assert.Greater(t, f.FinalValue, 0.0)
	}
	assert.GreaterOrEqual(t, a.Stability, 0.0)
	assert.LessOrEqual(t, a.Stability, 1.0)
	assert.Equal(t, []int{a.Folds[0].Fold.Index, a.Folds[1].Fold.Index}, seen)
}

func TestWalkForward_Errors(t *testing.T) {
	o, err := New(ParamRanges{ParamShort: {3}, ParamLong: {10}})
	require.NoError(t, err)

	_, err = o.WalkForward(context.Background(), daily(t, 100, sine), template(), 0, 6)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = o.WalkForward(context.Background(), model.PriceSeries{}, template(), 1, 6)
	assert.ErrorIs(t, err, model.ErrEmptyData)

	// Too short for one train window: no folds, no error.
	a, err := o.WalkForward(context.Background(), daily(t, 100, sine), template(), 1, 6)
	require.NoError(t, err)
	assert.Empty(t, a.Folds)
	assert.Zero(t, a.Stability)
}

func TestStability(t *testing.T) {
	fold := func(ret, sharpe float64) FoldResult {
		return FoldResult{TestMetrics: performance.Metrics{TotalReturn: model.Float(ret), Sharpe: model.Float(sharpe)}}
	}

	assert.Zero(t, Stability([]FoldResult{fold(0.1, 1)}))
	assert.InDelta(t, 1.0, Stability([]FoldResult{fold(0.1, 1), fold(0.2, 1)}), 1e-12)

	// Half profitable; sharpes 1 and 3 have CV sqrt(2)/2.
	want := (0.5 + 1/(1+math.Sqrt2/2)) / 2
	assert.InDelta(t, want, Stability([]FoldResult{fold(0.1, 1), fold(-0.1, 3)}), 1e-12)

	// Non-finite sharpes are left out of the consistency term.
	assert.InDelta(t, 1.0, Stability([]FoldResult{fold(0.1, math.Inf(1)), fold(0.1, math.NaN())}), 1e-12)
}

func paramsOf(cells []CellResult) []Params {
	out := make([]Params, len(cells))
	for i, c := range cells {
		out[i] = c.Params
	}
	return out
}
