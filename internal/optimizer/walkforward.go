package optimizer

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/performance"
	"backtest-systemv1/internal/stats"
	"backtest-systemv1/internal/walkforward"
)

// FoldResult is the outcome of one walk-forward fold: parameters picked on
// the train window and their out-of-sample metrics on the test window.
type FoldResult struct {
	Fold        walkforward.Fold    `json:"fold"`
	BestParams  Params              `json:"best_params"`
	TrainScore  model.Float         `json:"train_score"`
	TestMetrics performance.Metrics `json:"test_metrics"`
	TestTrades  int                 `json:"test_trades"`
	FinalValue  float64             `json:"final_value"`
}

// Analysis aggregates all folds of a walk-forward run.
type Analysis struct {
	Ticker    string       `json:"ticker"`
	Folds     []FoldResult `json:"folds"`
	Stability float64      `json:"stability"`
}

// WalkForward optimizes on each train window and backtests the winning
// parameters on the following test window. Test-window indicators are
// computed from the test window alone.
func (o *Optimizer) WalkForward(ctx context.Context, series model.PriceSeries, tmpl Template,
	trainYears, testMonths int) (*Analysis, error) {
	if series.Len() == 0 {
		return nil, fmt.Errorf("walk-forward %s: %w", series.Ticker, model.ErrEmptyData)
	}
	folds, err := walkforward.GeneratePeriods(series.Dates(), trainYears, testMonths)
	if err != nil {
		return nil, err
	}
	engine, err := o.engine(tmpl.Backtest)
	if err != nil {
		return nil, err
	}

	a := &Analysis{Ticker: series.Ticker, Folds: make([]FoldResult, 0, len(folds))}
	for _, fold := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		train, test := fold.Split(series)
		opt, err := o.Optimize(ctx, train, tmpl)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", fold.Index, err)
		}

		strat := opt.BestParams.Strategy(tmpl.Strategy)
		res, err := engine.RunStrategy(ctx, test, strat)
		if err != nil {
			return nil, fmt.Errorf("fold %d test: %w", fold.Index, err)
		}
		fr := FoldResult{
			Fold:        fold,
			BestParams:  opt.BestParams,
			TrainScore:  opt.BestScore,
			TestMetrics: res.Metrics(),
			TestTrades:  len(res.Trades),
			FinalValue:  res.FinalValue,
		}
		a.Folds = append(a.Folds, fr)
		if o.sweeps != nil {
			o.sweeps.FoldAnalysed()
		}
		if o.onFold != nil {
			o.onFold(fr)
		}

		log.Info().
			Str("component", "walkforward").
			Str("ticker", series.Ticker).
			Int("fold", fold.Index).
			Time("test_start", fold.Test.StartDate).
			Time("test_end", fold.Test.EndDate).
			Interface("best_params", fr.BestParams).
			Float64("test_return", float64(fr.TestMetrics.TotalReturn)).
			Msg("fold complete")
	}
	a.Stability = Stability(a.Folds)
	return a, nil
}

// Stability scores consistency across folds in [0, 1]: the mean of the
// share of profitable test windows and 1/(1+CV) of the finite test Sharpe
// ratios. Fewer than two folds score 0.
func Stability(folds []FoldResult) float64 {
	if len(folds) < 2 {
		return 0
	}
	profitable := 0
	var sharpes []float64
	for _, f := range folds {
		if f.TestMetrics.TotalReturn > 0 {
			profitable++
		}
		s := float64(f.TestMetrics.Sharpe)
		if !math.IsNaN(s) && !math.IsInf(s, 0) {
			sharpes = append(sharpes, s)
		}
	}
	profitability := float64(profitable) / float64(len(folds))
	if len(sharpes) < 2 {
		return profitability
	}

	cv := 0.0
	if mean := stats.Mean(sharpes); mean != 0 {
		cv = stats.StdDev(sharpes) / math.Abs(mean)
	}
	return (profitability + 1/(1+cv)) / 2
}
