package service

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-systemv1/config"
	"backtest-systemv1/internal/gateway"
	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/notification"
	"backtest-systemv1/internal/optimizer"
	"backtest-systemv1/internal/scan"
	"backtest-systemv1/internal/store/sqlite"
)

const testConfig = `
ticker: SYN
start_date: "2020-01-01"
end_date: "2022-12-31"
target_return_pct: 0
min_holding_days: 0
max_holding_days: 0
walk_forward_train_years: 1
walk_forward_test_months: 3
transaction_cost_pct: 0.1
initial_ma_short: 3
initial_ma_long: 8
optimizer:
  workers: 2
  short_windows: [2, 3]
  long_windows: [5, 8]
`

type hubEvent struct {
	job, kind string
}

type fakeHub struct {
	mu       sync.Mutex
	events   []hubEvent
	progress int
	err      error
}

func (h *fakeHub) Publish(job, kind string, _ any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hubEvent{job, kind})
	return h.err
}

func (h *fakeHub) ProgressFunc(string) func(optimizer.Progress) {
	return func(optimizer.Progress) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.progress++
	}
}

type fakePublisher struct{ runIDs []string }

func (p *fakePublisher) PublishReport(_ context.Context, runID string, _ any) error {
	p.runIDs = append(p.runIDs, runID)
	return nil
}

type fakeCache struct {
	entries map[string][]scan.ScanResult
	gets    int
}

func (c *fakeCache) Get(_ context.Context, req scan.ScanRequest) ([]scan.ScanResult, bool, error) {
	c.gets++
	r, ok := c.entries[req.Key()]
	return r, ok, nil
}

func (c *fakeCache) Set(_ context.Context, req scan.ScanRequest, results []scan.ScanResult) error {
	c.entries[req.Key()] = results
	return nil
}

type fakeNotifier struct{ alerts []notification.Alert }

func (n *fakeNotifier) Send(_ context.Context, a notification.Alert) error {
	n.alerts = append(n.alerts, a)
	return nil
}

type fixture struct {
	svc    *Service
	writer *sqlite.Writer
	hub    *fakeHub
	pub    *fakePublisher
	cache  *fakeCache
	notify *fakeNotifier
	runs   []string
}

// seed writes a sine-shaped daily series starting 2020-01-01.
func seed(t *testing.T, w *sqlite.Writer, ticker string, n int) {
	t.Helper()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	for i := range bars {
		p := 100 + 10*math.Sin(float64(i)/10)
		bars[i] = model.Bar{Date: start.AddDate(0, 0, i), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1000}
	}
	series, err := model.NewPriceSeries(ticker, bars)
	require.NoError(t, err)
	_, err = w.WriteBars(context.Background(), series)
	require.NoError(t, err)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bt.db")
	w, err := sqlite.New(sqlite.WriterConfig{DBPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	r, err := sqlite.NewReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	seed(t, w, "SYN", 800)

	f := &fixture{
		writer: w,
		hub:    &fakeHub{},
		pub:    &fakePublisher{},
		cache:  &fakeCache{entries: map[string][]scan.ScanResult{}},
		notify: &fakeNotifier{},
	}
	f.svc, err = New(cfg, Deps{
		Prices:    r,
		Runs:      w,
		Journal:   r,
		Publisher: f.pub,
		Cache:     f.cache,
		Hub:       f.hub,
		Notifier:  f.notify,
		OnRun:     func(id string) { f.runs = append(f.runs, id) },
	})
	require.NoError(t, err)
	return f
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Deps{})
	assert.Error(t, err)

	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	_, err = New(cfg, Deps{})
	assert.Error(t, err, "price reader required")
}

func TestBacktest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Backtest(ctx, RunRequest{IncludeEquity: true})
	require.NoError(t, err)
	require.NotEmpty(t, out.RunID)
	assert.Equal(t, out.RunID, out.Report.RunID)
	assert.Equal(t, "SYN", out.Report.Ticker)
	assert.Equal(t, "SMA_Crossover_3_8", out.Report.Strategy)
	assert.Len(t, out.Report.EquityCurve, 800)
	assert.Positive(t, out.Report.NumTrades)

	runs, err := f.svc.Runs("", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, out.RunID, runs[0].RunID)
	assert.Equal(t, KindBacktest, runs[0].Kind)
	assert.JSONEq(t, `{"ma_short":3,"ma_long":8}`, runs[0].Params)
	assert.Equal(t, out.Report.NumTrades, runs[0].NumTrades)

	assert.Equal(t, []string{out.RunID}, f.pub.runIDs)
	assert.Equal(t, []hubEvent{{out.RunID, gateway.EventDone}}, f.hub.events)
	assert.Equal(t, []string{out.RunID}, f.runs)

	require.Len(t, f.notify.alerts, 1)
	assert.Equal(t, notification.AlertInfo, f.notify.alerts[0].Level)
	assert.Equal(t, out.RunID, f.notify.alerts[0].RunID)
}

func TestBacktest_RequestOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Backtest(ctx, RunRequest{
		Ticker: "syn", StartDate: "2020-02-01", EndDate: "2020-12-31", ShortMA: 4, LongMA: 12,
	})
	require.NoError(t, err)
	assert.Equal(t, "SMA_Crossover_4_12", out.Report.Strategy)
	assert.Empty(t, out.Report.EquityCurve)

	cases := map[string]RunRequest{
		"windows inverted": {ShortMA: 10, LongMA: 5},
		"bad start":        {StartDate: "2020/01/01"},
		"end before start": {StartDate: "2021-01-01", EndDate: "2020-01-01"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Backtest(ctx, req)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}

	_, err = f.svc.Backtest(ctx, RunRequest{Ticker: "NONE"})
	assert.ErrorIs(t, err, model.ErrEmptyData)
}

func TestOptimize(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Optimize(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.Len(t, out.Sweep.AllResults, 4)
	assert.Equal(t, 4, f.hub.progress)
	assert.Contains(t, []int{2, 3}, out.Sweep.BestParams[optimizer.ParamShort])
	assert.Contains(t, []string{"SMA_Crossover_2_5", "SMA_Crossover_2_8", "SMA_Crossover_3_5", "SMA_Crossover_3_8"},
		out.Report.Strategy)

	runs, err := f.svc.Runs(KindOptimize, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, out.Report.Metrics.Sharpe, runs[0].Sharpe)
}

func TestOptimize_CancelledAnnouncesFailure(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Optimize(ctx, RunRequest{})
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, f.hub.events, 1)
	assert.Equal(t, gateway.EventError, f.hub.events[0].kind)
	require.Len(t, f.notify.alerts, 1)
	assert.Equal(t, notification.AlertWarning, f.notify.alerts[0].Level)
	assert.Equal(t, f.hub.events[0].job, f.notify.alerts[0].RunID)
	assert.Empty(t, f.runs)
}

func TestFailure_HubErrorLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	f := newFixture(t)
	f.hub.err = errors.New("hub closed")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Optimize(ctx, RunRequest{})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, f.notify.alerts, 1, "notifier still called")

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, "announce failure")
	assert.Contains(t, out, "hub closed")
}

func TestIndicators(t *testing.T) {
	f := newFixture(t)

	frame, err := f.svc.Indicators(RunRequest{EndDate: "2020-06-30"}, "SMA:5,RSI:14,MACD")
	require.NoError(t, err)
	assert.Equal(t, []string{"SMA_5", "RSI_14", "MACD_12_26_9", "MACD_SIGNAL_12_26_9", "MACD_HIST_12_26_9"}, frame.Names())
	sma, ok := frame.Get("SMA_5")
	require.True(t, ok)
	assert.Len(t, sma, len(frame.Dates))

	_, err = f.svc.Indicators(RunRequest{}, "")
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.svc.Indicators(RunRequest{}, "FOO:3")
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.svc.Indicators(RunRequest{Ticker: "NONE"}, "SMA:5")
	assert.ErrorIs(t, err, model.ErrEmptyData)
}

func TestWalkForward(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.WalkForward(context.Background(), RunRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, out.Analysis.Folds)
	assert.Equal(t, "SYN", out.Analysis.Ticker)

	runs, err := f.svc.Runs(KindWalkForward, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, math.IsNaN(float64(runs[0].Sharpe)))
	assert.Contains(t, runs[0].Params, "stability")

	var folds int
	for _, e := range f.hub.events {
		if e.kind == gateway.EventFold {
			folds++
		}
	}
	assert.Equal(t, len(out.Analysis.Folds), folds)
	assert.Equal(t, gateway.EventDone, f.hub.events[len(f.hub.events)-1].kind)
}

func TestScan_UsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := scan.ScanRequest{Tickers: []string{"syn", "none"}, ShortMA: 3, LongMA: 8}

	results, cached, err := f.svc.Scan(ctx, req)
	require.NoError(t, err)
	assert.False(t, cached)
	require.Len(t, results, 2)
	assert.Equal(t, "NONE", results[0].Ticker)
	assert.NotEmpty(t, results[0].Err)
	assert.Equal(t, "SYN", results[1].Ticker)
	assert.Empty(t, results[1].Err)

	again, cached, err := f.svc.Scan(ctx, req)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, results, again)
	assert.Equal(t, 2, f.cache.gets)

	_, _, err = f.svc.Scan(ctx, scan.ScanRequest{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestImport(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "abc.csv")
	require.NoError(t, os.WriteFile(path, []byte("date,open,high,low,close,volume\n2024-01-02,1,2,0.5,1.5,10\n2024-01-03,1.5,2,1,1.8,12\n"), 0o644))

	n, err := Import(context.Background(), f.writer, path, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRuns_NoJournal(t *testing.T) {
	f := newFixture(t)
	f.svc.deps.Journal = nil
	_, err := f.svc.Runs("", 10)
	assert.Error(t, err)
}
