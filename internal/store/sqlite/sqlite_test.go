package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-systemv1/internal/model"
)

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func openPair(t *testing.T) (*Writer, *Reader, *int) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bt.db")
	commits := new(int)
	w, err := New(WriterConfig{DBPath: path, OnCommit: func(time.Duration) { *commits++ }})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	r, err := NewReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return w, r, commits
}

func TestWriteAndReadSeries(t *testing.T) {
	w, r, commits := openPair(t)
	ctx := context.Background()

	series, err := model.NewPriceSeries("AAPL", []model.Bar{
		{Date: day(2), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
		{Date: day(3), Open: 2, High: 3, Low: 1.5, Close: 2.5, Volume: 200},
		{Date: day(4), Open: 3, High: 4, Low: 2.5, Close: 3.5, Volume: 300},
	})
	require.NoError(t, err)

	n, err := w.WriteBars(ctx, series)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, *commits)

	// Upsert is idempotent.
	_, err = w.WriteBars(ctx, series)
	require.NoError(t, err)

	got, err := r.ReadSeries("AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, series, got)

	ranged, err := r.ReadSeries("AAPL", day(3), day(3))
	require.NoError(t, err)
	require.Equal(t, 1, ranged.Len())
	assert.Equal(t, 2.5, ranged.Bars[0].Close)

	empty, err := r.ReadSeries("NONE", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, empty.Len())

	tickers, err := r.Tickers()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, tickers)
}

func TestSaveRunAndList(t *testing.T) {
	w, r, _ := openPair(t)
	ctx := context.Background()

	trades := []model.Trade{{
		Ticker: "AAPL", EntryDate: day(2), ExitDate: day(5), EntryPrice: 10, ExitPrice: 12,
		AdjustedEntryPrice: 10.01, AdjustedExitPrice: 11.99, Shares: 5, CommissionCost: 0.11,
		SlippageCost: 0.1, NetPnL: 9.79, ReturnPct: 0.19, RegimeAtEntry: model.RegimeTrending,
		ExitReason: model.ExitSignal,
	}}
	first := model.RunRecord{
		RunID: "run-1", Kind: "backtest", Ticker: "AAPL", Params: `{"ma_short":3}`,
		FinalValue: 1009.79, TotalReturn: 0.0098, Sharpe: model.Float(math.NaN()), MaxDrawdown: 0.01,
		NumTrades: 1, CreatedAt: time.Unix(1000, 0).UTC(),
	}
	second := first
	second.RunID, second.Kind, second.Sharpe, second.CreatedAt = "run-2", "optimize", 1.5, time.Unix(2000, 0).UTC()

	require.NoError(t, w.SaveRun(ctx, first, trades))
	require.NoError(t, w.SaveRun(ctx, second, nil))
	assert.Error(t, w.SaveRun(ctx, first, nil), "duplicate run id")

	runs, err := r.ListRuns("", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID, "newest first")
	assert.Equal(t, model.Float(1.5), runs[0].Sharpe)
	assert.True(t, math.IsNaN(float64(runs[1].Sharpe)), "NaN stored as NULL")
	assert.Equal(t, first.CreatedAt, runs[1].CreatedAt)

	onlyBacktests, err := r.ListRuns("backtest", 10)
	require.NoError(t, err)
	require.Len(t, onlyBacktests, 1)

	got, err := r.RunTrades("run-1")
	require.NoError(t, err)
	assert.Equal(t, trades, got)
}
