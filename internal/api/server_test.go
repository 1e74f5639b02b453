package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-systemv1/internal/backtest"
	"backtest-systemv1/internal/indicator"
	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/optimizer"
	"backtest-systemv1/internal/scan"
	"backtest-systemv1/internal/service"
	"backtest-systemv1/internal/strategy"
)

type fakeRunner struct {
	lastReq   service.RunRequest
	lastScan  scan.ScanRequest
	lastKind  string
	lastSpecs string
	limit     int
	err       error
}

func (f *fakeRunner) Backtest(_ context.Context, req service.RunRequest) (*service.BacktestOutcome, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &service.BacktestOutcome{RunID: "run-1", Report: backtest.Report{Ticker: req.Ticker, NumTrades: 2}}, nil
}

func (f *fakeRunner) Optimize(_ context.Context, req service.RunRequest) (*service.OptimizeOutcome, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	sweep := &optimizer.Result{BestParams: optimizer.Params{"ma_short": 5, "ma_long": 20}, BestScore: model.Float(math.Inf(-1))}
	return &service.OptimizeOutcome{RunID: "run-2", Sweep: sweep}, nil
}

func (f *fakeRunner) WalkForward(_ context.Context, req service.RunRequest) (*service.WalkForwardOutcome, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &service.WalkForwardOutcome{RunID: "run-3", Analysis: &optimizer.Analysis{Ticker: "AAPL", Stability: 0.5}}, nil
}

func (f *fakeRunner) Scan(_ context.Context, req scan.ScanRequest) ([]scan.ScanResult, bool, error) {
	f.lastScan = req
	if f.err != nil {
		return nil, false, f.err
	}
	return []scan.ScanResult{{Ticker: "AAPL", Position: strategy.Long}}, true, nil
}

func (f *fakeRunner) Runs(kind string, limit int) ([]model.RunRecord, error) {
	f.lastKind, f.limit = kind, limit
	if f.err != nil {
		return nil, f.err
	}
	return []model.RunRecord{{RunID: "run-1", Kind: "backtest", Sharpe: model.Float(math.NaN())}}, nil
}

func (f *fakeRunner) Indicators(req service.RunRequest, specs string) (*indicator.Frame, error) {
	f.lastReq = req
	f.lastSpecs = specs
	if f.err != nil {
		return nil, f.err
	}
	return &indicator.Frame{Columns: map[string]indicator.Series{"SMA_2": {{}, indicator.Some(1.5)}}}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func TestBacktestEndpoint(t *testing.T) {
	runner := &fakeRunner{}
	h := NewServer(runner, Config{}).Handler()

	rec, resp := do(t, h, http.MethodPost, "/api/backtest", `{"ticker":"AAPL","ma_short":5,"ma_long":20,"include_equity":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, service.RunRequest{Ticker: "AAPL", ShortMA: 5, LongMA: 20, IncludeEquity: true}, runner.lastReq)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "run-1", data["run_id"])
}

func TestBacktestEndpoint_Validation(t *testing.T) {
	h := NewServer(&fakeRunner{}, Config{}).Handler()

	cases := map[string]string{
		"malformed json":  `{"ticker":`,
		"negative window": `{"ma_short":-1}`,
		"bad date":        `{"start_date":"01/02/2020"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec, resp := do(t, h, http.MethodPost, "/api/backtest", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("x: %w", model.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("load: %w", model.ErrEmptyData), http.StatusNotFound},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewServer(&fakeRunner{err: tc.err}, Config{}).Handler()
		rec, resp := do(t, h, http.MethodPost, "/api/walkforward", `{}`)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
		assert.Equal(t, tc.err.Error(), resp.Error)
	}
}

func TestOptimizeEndpoint_NonFiniteScore(t *testing.T) {
	h := NewServer(&fakeRunner{}, Config{}).Handler()
	rec, resp := do(t, h, http.MethodPost, "/api/optimize", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	sweep := resp.Data.(map[string]any)["sweep"].(map[string]any)
	assert.Equal(t, "-Inf", sweep["best_score"])
}

func TestScanEndpoint(t *testing.T) {
	runner := &fakeRunner{}
	h := NewServer(runner, Config{}).Handler()

	rec, resp := do(t, h, http.MethodPost, "/api/scan", `{"tickers":["aapl"],"short_ma":3,"long_ma":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"aapl"}, runner.lastScan.Tickers)
	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["cached"])
	assert.Len(t, data["results"], 1)
}

func TestRunsEndpoint(t *testing.T) {
	runner := &fakeRunner{}
	h := NewServer(runner, Config{}).Handler()

	rec, resp := do(t, h, http.MethodGet, "/api/runs?kind=backtest&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "backtest", runner.lastKind)
	assert.Equal(t, 5, runner.limit)
	runs := resp.Data.([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, "NaN", runs[0].(map[string]any)["sharpe"])

	rec, _ = do(t, h, http.MethodGet, "/api/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndicatorsEndpoint(t *testing.T) {
	runner := &fakeRunner{}
	h := NewServer(runner, Config{}).Handler()

	rec, resp := do(t, h, http.MethodGet, "/api/indicators?ticker=aapl&end_date=2024-01-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.RunRequest{Ticker: "aapl", EndDate: "2024-01-31"}, runner.lastReq)
	assert.Equal(t, "SMA:20,RSI:14", runner.lastSpecs)
	cols := resp.Data.(map[string]any)["columns"].(map[string]any)
	assert.Equal(t, []any{nil, 1.5}, cols["SMA_2"])

	do(t, h, http.MethodGet, "/api/indicators?specs=EMA:9", "")
	assert.Equal(t, "EMA:9", runner.lastSpecs)
}

func TestOptionalRoutes(t *testing.T) {
	stub := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(r.URL.Path))
	})
	h := NewServer(&fakeRunner{}, Config{Metrics: stub, Health: stub, WS: stub}).Handler()
	for _, path := range []string{"/metrics", "/healthz", "/ws"} {
		rec, _ := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, path, rec.Body.String())
	}

	bare := NewServer(&fakeRunner{}, Config{}).Handler()
	rec, _ := do(t, bare, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	srv := NewServer(&fakeRunner{}, Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
