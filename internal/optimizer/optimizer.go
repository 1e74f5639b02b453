// Package optimizer grid-searches SMA crossover parameters and runs
// walk-forward analysis on top of the grid search.
package optimizer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"backtest-systemv1/internal/backtest"
	"backtest-systemv1/internal/indicator"
	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/strategy"
)

// Parameter names understood by the grid.
const (
	ParamShort = "ma_short"
	ParamLong  = "ma_long"
	ParamRSI   = "rsi_period"
)

const defaultWorkers = 4

// ParamRanges maps a parameter name to its candidate values.
type ParamRanges map[string][]int

// Params is one grid cell.
type Params map[string]int

// Strategy returns base with the windows of p applied.
func (p Params) Strategy(base strategy.SMACrossover) strategy.SMACrossover {
	s := base
	s.Short = p[ParamShort]
	s.Long = p[ParamLong]
	if v, ok := p[ParamRSI]; ok {
		s.RSIPeriod = v
	}
	return s
}

// CellResult is the score of one grid cell. A failed cell scores -Inf.
type CellResult struct {
	Params Params      `json:"params"`
	Score  model.Float `json:"score"`
	Err    string      `json:"error,omitempty"`
}

// Result is the outcome of one grid search. AllResults is in grid order.
type Result struct {
	BestParams Params       `json:"best_params"`
	BestScore  model.Float  `json:"best_score"`
	AllResults []CellResult `json:"all_results"`
}

// Progress is reported after each evaluated cell.
type Progress struct {
	Done   int         `json:"done"`
	Total  int         `json:"total"`
	Params Params      `json:"params"`
	Score  model.Float `json:"score"`
	Failed bool        `json:"failed,omitempty"`
}

// SweepObserver receives sweep-level events. The metrics package
// implements it. CellEvaluated may be called from several goroutines.
type SweepObserver interface {
	SweepStarted(total int)
	CellEvaluated(p Progress)
	SweepCompleted(d time.Duration)
	FoldAnalysed()
}

// Template is the fixed part of every cell: engine settings plus strategy
// settings not covered by the grid (RSI thresholds).
type Template struct {
	Backtest backtest.Config
	Strategy strategy.SMACrossover
}

// Optimizer evaluates every valid cell of a parameter grid.
type Optimizer struct {
	names    []string
	ranges   ParamRanges
	workers  int
	progress func(Progress)
	onFold   func(FoldResult)
	observer backtest.Observer
	sweeps   SweepObserver
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithWorkers bounds the number of concurrently evaluated cells.
func WithWorkers(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithProgress registers a callback invoked after every cell. Calls are
// serialized.
func WithProgress(fn func(Progress)) Option {
	return func(o *Optimizer) { o.progress = fn }
}

// WithFoldDone registers a callback invoked after every walk-forward fold.
func WithFoldDone(fn func(FoldResult)) Option {
	return func(o *Optimizer) { o.onFold = fn }
}

// WithObserver attaches a backtest observer to every engine the optimizer
// creates. It must be safe for concurrent use.
func WithObserver(obs backtest.Observer) Option {
	return func(o *Optimizer) { o.observer = obs }
}

// WithSweepObserver attaches a sweep-level observer.
func WithSweepObserver(obs SweepObserver) Option {
	return func(o *Optimizer) { o.sweeps = obs }
}

// New validates ranges and returns an optimizer. Every candidate must be
// positive and ma_short and ma_long must be present.
func New(ranges ParamRanges, opts ...Option) (*Optimizer, error) {
	for _, required := range []string{ParamShort, ParamLong} {
		if _, ok := ranges[required]; !ok {
			return nil, fmt.Errorf("%w: parameter range %q is required", model.ErrValidation, required)
		}
	}

	o := &Optimizer{ranges: make(ParamRanges, len(ranges)), workers: defaultWorkers}
	for name, values := range ranges {
		switch name {
		case ParamShort, ParamLong, ParamRSI:
		default:
			return nil, fmt.Errorf("%w: unknown parameter %q", model.ErrValidation, name)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: parameter %q has no candidates", model.ErrValidation, name)
		}
		vs := append([]int(nil), values...)
		sort.Ints(vs)
		for _, v := range vs {
			if v <= 0 {
				return nil, fmt.Errorf("%w: parameter %q candidate %d must be positive", model.ErrValidation, name, v)
			}
		}
		o.ranges[name] = dedupe(vs)
		o.names = append(o.names, name)
	}
	sort.Strings(o.names)

	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Grid returns every cell in deterministic order: names sorted, values
// ascending, the last name varying fastest. Cells with ma_long <= ma_short
// are left out.
func (o *Optimizer) Grid() []Params {
	var cells []Params
	o.combine(0, Params{}, &cells)
	return cells
}

func (o *Optimizer) combine(idx int, current Params, out *[]Params) {
	if idx == len(o.names) {
		if current[ParamLong] <= current[ParamShort] {
			return
		}
		cell := make(Params, len(current))
		for k, v := range current {
			cell[k] = v
		}
		*out = append(*out, cell)
		return
	}
	name := o.names[idx]
	for _, v := range o.ranges[name] {
		current[name] = v
		o.combine(idx+1, current, out)
	}
	delete(current, name)
}

// Optimize runs a backtest for every grid cell on series and scores it by
// Sharpe ratio. The best cell is the first one in grid order with the
// highest score.
func (o *Optimizer) Optimize(ctx context.Context, series model.PriceSeries, tmpl Template) (*Result, error) {
	if series.Len() == 0 {
		return nil, fmt.Errorf("optimize %s: %w", series.Ticker, model.ErrEmptyData)
	}
	engine, err := o.engine(tmpl.Backtest)
	if err != nil {
		return nil, err
	}
	cells := o.Grid()
	if len(cells) == 0 {
		return nil, fmt.Errorf("%w: no parameter combination satisfies %s > %s", model.ErrValidation, ParamLong, ParamShort)
	}

	started := time.Now()
	cache, err := o.precompute(series, tmpl.Strategy)
	if err != nil {
		return nil, err
	}

	if o.sweeps != nil {
		o.sweeps.SweepStarted(len(cells))
	}
	results := make([]CellResult, len(cells))
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, cell := range cells {
		if gctx.Err() != nil {
			break
		}
		i, cell := i, cell
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = o.evaluate(gctx, engine, series, cache, tmpl.Strategy, cell)

			mu.Lock()
			done++
			p := Progress{Done: done, Total: len(cells), Params: cell, Score: results[i].Score, Failed: results[i].Err != ""}
			if o.progress != nil {
				o.progress(p)
			}
			if o.sweeps != nil {
				o.sweeps.CellEvaluated(p)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.sweeps != nil {
		o.sweeps.SweepCompleted(time.Since(started))
	}

	best := 0
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[best].Score {
			best = i
		}
	}
	res := &Result{
		BestParams: results[best].Params,
		BestScore:  results[best].Score,
		AllResults: results,
	}
	log.Info().
		Str("component", "optimizer").
		Str("ticker", series.Ticker).
		Int("cells", len(cells)).
		Int("workers", o.workers).
		Interface("best_params", res.BestParams).
		Float64("best_score", float64(res.BestScore)).
		Dur("duration", time.Since(started)).
		Msg("grid search complete")
	return res, nil
}

func (o *Optimizer) engine(cfg backtest.Config) (*backtest.Engine, error) {
	var opts []backtest.Option
	if o.observer != nil {
		opts = append(opts, backtest.WithObserver(o.observer))
	}
	return backtest.New(cfg, opts...)
}

// evaluate backtests one cell. Errors and NaN scores become -Inf.
func (o *Optimizer) evaluate(ctx context.Context, engine *backtest.Engine, series model.PriceSeries,
	cache *seriesCache, base strategy.SMACrossover, cell Params) CellResult {
	out := CellResult{Params: cell, Score: model.Float(math.Inf(-1))}
	fail := func(err error) CellResult {
		out.Err = err.Error()
		log.Warn().Str("component", "optimizer").Interface("params", cell).Err(err).Msg("grid cell failed")
		return out
	}

	strat := cell.Strategy(base)
	positions, err := strat.Apply(cache.sma[strat.Short], cache.sma[strat.Long], cache.rsi[strat.RSIPeriod])
	if err != nil {
		return fail(err)
	}
	res, err := engine.Run(ctx, series, positions)
	if err != nil {
		return fail(err)
	}
	score := float64(res.Metrics().Sharpe)
	if math.IsNaN(score) {
		return fail(fmt.Errorf("sharpe ratio is undefined"))
	}
	out.Score = model.Float(score)
	return out
}

// seriesCache holds indicator series keyed by window so each window is
// computed once per series.
type seriesCache struct {
	sma map[int]indicator.Series
	rsi map[int]indicator.Series
}

func (o *Optimizer) precompute(series model.PriceSeries, base strategy.SMACrossover) (*seriesCache, error) {
	closes := series.Closes()
	c := &seriesCache{sma: map[int]indicator.Series{}, rsi: map[int]indicator.Series{}}
	for _, name := range []string{ParamShort, ParamLong} {
		for _, w := range o.ranges[name] {
			if _, ok := c.sma[w]; ok {
				continue
			}
			s, err := indicator.CalculateSMA(closes, w)
			if err != nil {
				return nil, err
			}
			c.sma[w] = s
		}
	}
	rsiPeriods := o.ranges[ParamRSI]
	if len(rsiPeriods) == 0 && base.RSIPeriod > 0 {
		rsiPeriods = []int{base.RSIPeriod}
	}
	for _, p := range rsiPeriods {
		s, err := indicator.CalculateRSI(closes, p)
		if err != nil {
			return nil, err
		}
		c.rsi[p] = s
	}
	return c, nil
}

func dedupe(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}
