package service

import (
	"context"
	"fmt"
	"math"

	"backtest-systemv1/internal/backtest"
	"backtest-systemv1/internal/indicator"
	"backtest-systemv1/internal/logger"
	"backtest-systemv1/internal/marketdata/csvload"
	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/optimizer"
	"backtest-systemv1/internal/scan"
)

// BacktestOutcome is the result of a single backtest.
type BacktestOutcome struct {
	RunID  string          `json:"run_id"`
	Report backtest.Report `json:"report"`
}

// OptimizeOutcome is a grid search plus a full-period backtest of the best
// cell.
type OptimizeOutcome struct {
	RunID  string            `json:"run_id"`
	Sweep  *optimizer.Result `json:"sweep"`
	Report backtest.Report   `json:"report"`
}

// WalkForwardOutcome wraps a walk-forward analysis.
type WalkForwardOutcome struct {
	RunID    string              `json:"run_id"`
	Analysis *optimizer.Analysis `json:"analysis"`
}

// Backtest runs the configured strategy over the requested period.
func (s *Service) Backtest(ctx context.Context, req RunRequest) (*BacktestOutcome, error) {
	r, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	series, err := s.load(r)
	if err != nil {
		return nil, err
	}

	runID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, runID)
	engine, err := backtest.New(r.tmpl.Backtest, s.engineOptions()...)
	if err != nil {
		return nil, err
	}
	res, err := engine.RunStrategy(ctx, series, r.tmpl.Strategy)
	if err != nil {
		s.fail(ctx, KindBacktest, r.ticker, runID, err)
		return nil, err
	}

	report := res.Report(req.IncludeEquity)
	report.RunID = runID
	rec := s.record(runID, KindBacktest, r.ticker, r.tmpl.Strategy)
	fillFromReport(&rec, report)
	s.finish(ctx, rec, res.Trades, report)
	return &BacktestOutcome{RunID: runID, Report: report}, nil
}

// Optimize grid-searches the configured parameter ranges and backtests the
// winning cell over the whole period.
func (s *Service) Optimize(ctx context.Context, req RunRequest) (*OptimizeOutcome, error) {
	r, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	series, err := s.load(r)
	if err != nil {
		return nil, err
	}

	runID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, runID)
	opt, err := optimizer.New(s.cfg.ParamRanges(), s.optimizerOptions(runID)...)
	if err != nil {
		return nil, err
	}
	sweep, err := opt.Optimize(ctx, series, r.tmpl)
	if err != nil {
		s.fail(ctx, KindOptimize, r.ticker, runID, err)
		return nil, err
	}

	best := sweep.BestParams.Strategy(r.tmpl.Strategy)
	engine, err := backtest.New(r.tmpl.Backtest, s.engineOptions()...)
	if err != nil {
		return nil, err
	}
	res, err := engine.RunStrategy(ctx, series, best)
	if err != nil {
		s.fail(ctx, KindOptimize, r.ticker, runID, err)
		return nil, err
	}

	report := res.Report(req.IncludeEquity)
	report.RunID = runID
	rec := s.record(runID, KindOptimize, r.ticker, sweep.BestParams)
	fillFromReport(&rec, report)
	s.finish(ctx, rec, res.Trades, OptimizeOutcome{RunID: runID, Sweep: sweep, Report: report})
	return &OptimizeOutcome{RunID: runID, Sweep: sweep, Report: report}, nil
}

// WalkForward runs the rolling train/test analysis with the configured
// window lengths.
func (s *Service) WalkForward(ctx context.Context, req RunRequest) (*WalkForwardOutcome, error) {
	r, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	series, err := s.load(r)
	if err != nil {
		return nil, err
	}

	runID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, runID)
	opt, err := optimizer.New(s.cfg.ParamRanges(), s.optimizerOptions(runID)...)
	if err != nil {
		return nil, err
	}
	analysis, err := opt.WalkForward(ctx, series, r.tmpl, s.cfg.WalkForwardTrainYears, s.cfg.WalkForwardTestMonths)
	if err != nil {
		s.fail(ctx, KindWalkForward, r.ticker, runID, err)
		return nil, err
	}

	params := make([]optimizer.Params, len(analysis.Folds))
	for i, f := range analysis.Folds {
		params[i] = f.BestParams
	}
	rec := s.record(runID, KindWalkForward, r.ticker, map[string]any{
		"fold_params": params,
		"stability":   analysis.Stability,
	})
	nan := model.Float(math.NaN())
	rec.TotalReturn, rec.Sharpe, rec.MaxDrawdown = nan, nan, nan
	for _, f := range analysis.Folds {
		rec.NumTrades += f.TestTrades
		rec.FinalValue = f.FinalValue
	}
	s.finish(ctx, rec, nil, analysis)
	return &WalkForwardOutcome{RunID: runID, Analysis: analysis}, nil
}

// Scan evaluates a watchlist. Cached results are returned when available;
// cache failures fall through to a fresh scan.
func (s *Service) Scan(ctx context.Context, req scan.ScanRequest) ([]scan.ScanResult, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	req = req.Normalized()

	if s.deps.Cache != nil {
		results, ok, err := s.deps.Cache.Get(ctx, req)
		if err != nil {
			s.log.Warn().Err(err).Msg("scan cache get")
		}
		if ok {
			return results, true, nil
		}
	}

	data := make(map[string]model.PriceSeries, len(req.Tickers))
	for _, ticker := range req.Tickers {
		series, err := s.deps.Prices.ReadSeries(ticker, s.cfg.Start(), s.cfg.End())
		if err != nil {
			return nil, false, fmt.Errorf("load %s: %w", ticker, err)
		}
		data[ticker] = series
	}
	results, err := scan.RunScan(req, data)
	if err != nil {
		return nil, false, err
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Set(ctx, req, results); err != nil {
			s.log.Warn().Err(err).Msg("scan cache set")
		}
	}
	return results, false, nil
}

// Indicators computes the columns named by specs ("SMA:20,RSI:14,MACD")
// over the requested ticker and date range. Strategy windows in req are
// ignored.
func (s *Service) Indicators(req RunRequest, specs string) (*indicator.Frame, error) {
	configs, err := indicator.ParseSpecs(specs)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: no indicator specs given", model.ErrValidation)
	}
	r, err := s.resolve(RunRequest{Ticker: req.Ticker, StartDate: req.StartDate, EndDate: req.EndDate})
	if err != nil {
		return nil, err
	}
	series, err := s.load(r)
	if err != nil {
		return nil, err
	}
	return indicator.BuildFrame(series, configs)
}

// Import loads a CSV file into w. An empty ticker is taken from the file
// name.
func Import(ctx context.Context, w model.BarWriter, path, ticker string) (int, error) {
	series, err := csvload.LoadFile(path, ticker)
	if err != nil {
		return 0, err
	}
	return w.WriteBars(ctx, series)
}

func fillFromReport(rec *model.RunRecord, rep backtest.Report) {
	rec.FinalValue = rep.FinalValue
	rec.TotalReturn = rep.Metrics.TotalReturn
	rec.Sharpe = rep.Metrics.Sharpe
	rec.MaxDrawdown = rep.Metrics.MaxDrawdown
	rec.NumTrades = rep.NumTrades
}
