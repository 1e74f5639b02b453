// Package backtest replays a position series against a price series.
//
// The engine is a flat/long state machine processed strictly in date order.
// A buy action while flat opens a position sized from available cash; a flat
// position while long (or a take-profit / max-holding rule) closes it.
// Equity is marked to market at every date regardless of state.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"backtest-systemv1/internal/execution"
	"backtest-systemv1/internal/logger"
	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/portfolio"
	"backtest-systemv1/internal/regime"
	"backtest-systemv1/internal/strategy"
)

const defaultRegimeWindow = 20

// Config holds engine parameters. Rates and returns are fractions
// (0.001 = 0.1%). A zero TargetReturn, MinHoldingDays or MaxHoldingDays
// disables that rule.
type Config struct {
	Ticker         string
	InitialCash    float64
	CommissionRate float64
	Slippage       float64         // absolute per-share amount
	Sizer          portfolio.Sizer // nil means full cash
	TargetReturn   float64
	MinHoldingDays int
	MaxHoldingDays int
	RegimeWindow   int // trailing closes for the entry regime label; 0 means 20
	CloseAtEnd     bool
}

// Validate checks the config before any run starts.
func (c Config) Validate() error {
	switch {
	case c.InitialCash <= 0 || math.IsInf(c.InitialCash, 0) || math.IsNaN(c.InitialCash):
		return fmt.Errorf("%w: initial cash must be positive, got %v", model.ErrValidation, c.InitialCash)
	case c.CommissionRate < 0 || c.CommissionRate >= 1:
		return fmt.Errorf("%w: commission rate must be in [0, 1), got %v", model.ErrValidation, c.CommissionRate)
	case c.Slippage < 0:
		return fmt.Errorf("%w: slippage must not be negative, got %v", model.ErrValidation, c.Slippage)
	case c.TargetReturn < 0:
		return fmt.Errorf("%w: target return must not be negative, got %v", model.ErrValidation, c.TargetReturn)
	case c.MinHoldingDays < 0 || c.MaxHoldingDays < 0:
		return fmt.Errorf("%w: holding days must not be negative", model.ErrValidation)
	case c.MaxHoldingDays > 0 && c.MinHoldingDays > c.MaxHoldingDays:
		return fmt.Errorf("%w: min holding days %d exceed max %d", model.ErrValidation, c.MinHoldingDays, c.MaxHoldingDays)
	case c.RegimeWindow < 0:
		return fmt.Errorf("%w: regime window must not be negative", model.ErrValidation)
	}
	return nil
}

// Observer receives engine events. The metrics package implements it.
type Observer interface {
	TradeOpened()
	TradeClosed(netPnL float64)
	SignalSkipped()
	BacktestCompleted(d time.Duration)
}

// Engine runs backtests with a fixed configuration. It holds no per-run
// state and may be shared across goroutines.
type Engine struct {
	cfg      Config
	observer Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver attaches an event observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// New validates cfg and returns an engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Sizer == nil {
		cfg.Sizer = portfolio.FullCash{}
	}
	if cfg.RegimeWindow == 0 {
		cfg.RegimeWindow = defaultRegimeWindow
	}
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// RunStrategy computes positions with strat and runs them.
func (e *Engine) RunStrategy(ctx context.Context, series model.PriceSeries, strat strategy.Strategy) (*Result, error) {
	if series.Len() == 0 {
		return nil, fmt.Errorf("backtest %s: %w", series.Ticker, model.ErrEmptyData)
	}
	positions, err := strat.Positions(series)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", strat.Name(), err)
	}
	res, err := e.Run(ctx, series, positions)
	if err != nil {
		return nil, err
	}
	res.Strategy = strat.Name()
	return res, nil
}

// Run replays positions (one per bar) against series.
func (e *Engine) Run(ctx context.Context, series model.PriceSeries, positions []strategy.Position) (*Result, error) {
	if series.Len() == 0 {
		return nil, fmt.Errorf("backtest %s: %w", series.Ticker, model.ErrEmptyData)
	}
	if len(positions) != series.Len() {
		return nil, fmt.Errorf("%w: %d positions for %d bars", model.ErrMisaligned, len(positions), series.Len())
	}

	started := time.Now()
	ticker := series.Ticker
	if ticker == "" {
		ticker = e.cfg.Ticker
	}
	state, err := portfolio.New(e.cfg.InitialCash)
	if err != nil {
		return nil, err
	}
	r := &run{
		cfg:    e.cfg,
		obs:    e.observer,
		ticker: ticker,
		state:  state,
		exec:   execution.NewPaperExecutor(e.cfg.CommissionRate, e.cfg.Slippage),
		closes: series.Closes(),
		log:    logger.FromContext(ctx).With().Str("component", "backtest").Str("ticker", ticker).Logger(),
	}

	actions := strategy.Actions(positions)
	last := series.Len() - 1
	for i, bar := range series.Bars {
		switch {
		case r.open != nil:
			if reason, ok := r.exitReason(i, bar, positions[i], i == last); ok {
				if err := r.closePosition(i, bar, reason); err != nil {
					return nil, err
				}
			}
		case actions[i] == strategy.ActionBuy:
			if err := r.openPosition(i, bar); err != nil {
				return nil, err
			}
		}
		r.state.UpdateEquity(bar.Date, map[string]float64{ticker: bar.Close})
	}

	res := r.result(series)
	if e.observer != nil {
		e.observer.BacktestCompleted(time.Since(started))
	}
	r.log.Debug().
		Int("trades", len(res.Trades)).
		Int("skipped", res.SkippedSignals).
		Float64("final_value", res.FinalValue).
		Msg("backtest complete")
	return res, nil
}

// openTrade is the in-flight long position.
type openTrade struct {
	trade    model.Trade
	entryIdx int
	outlay   float64 // cash spent including commission
}

// run is the mutable state of one Run call.
type run struct {
	cfg     Config
	obs     Observer
	ticker  string
	state   *portfolio.State
	exec    *execution.PaperExecutor
	closes  []float64
	open    *openTrade
	skipped int
	log     zerolog.Logger
}

func (r *run) openPosition(i int, bar model.Bar) error {
	shares := r.cfg.Sizer.Shares(r.state.Cash(), r.exec.EntryCostPerShare(bar.Close))
	if shares <= 0 {
		r.skip(bar, "position size is zero")
		return nil
	}

	quote := r.exec.Quote(bar.Date, bar.Close, shares)
	if err := r.state.Buy(r.ticker, shares, quote.FillPrice, quote.Commission); err != nil {
		if errors.Is(err, model.ErrInsufficientCash) {
			r.skip(bar, err.Error())
			return nil
		}
		return err
	}
	fill := r.exec.Buy(bar.Date, bar.Close, shares)

	r.open = &openTrade{
		entryIdx: i,
		outlay:   -fill.CashDelta(),
		trade: model.Trade{
			Ticker:             r.ticker,
			EntryDate:          bar.Date,
			EntryPrice:         bar.Close,
			AdjustedEntryPrice: fill.FillPrice,
			Shares:             shares,
			RegimeAtEntry:      regime.AtIndex(r.closes, i, r.cfg.RegimeWindow),
		},
	}
	if r.obs != nil {
		r.obs.TradeOpened()
	}
	r.log.Debug().Time("date", bar.Date).Float64("price", bar.Close).Float64("shares", shares).Msg("open long")
	return nil
}

func (r *run) skip(bar model.Bar, why string) {
	r.skipped++
	if r.obs != nil {
		r.obs.SignalSkipped()
	}
	r.log.Debug().Time("date", bar.Date).Str("reason", why).Msg("buy signal skipped")
}

// exitReason decides whether the open position closes at this bar.
// Take-profit and max-holding override the minimum holding period, which
// only delays signal exits.
func (r *run) exitReason(i int, bar model.Bar, want strategy.Position, isLast bool) (model.ExitReason, bool) {
	t := r.open.trade
	held := int(bar.Date.Sub(t.EntryDate).Hours() / 24)

	switch {
	case r.cfg.MaxHoldingDays > 0 && held >= r.cfg.MaxHoldingDays:
		return model.ExitMaxHolding, true
	case r.cfg.TargetReturn > 0 && (bar.Close-t.EntryPrice)/t.EntryPrice >= r.cfg.TargetReturn:
		return model.ExitTargetReturn, true
	case want == strategy.Flat && held >= r.cfg.MinHoldingDays:
		return model.ExitSignal, true
	case isLast && r.cfg.CloseAtEnd:
		return model.ExitEndOfData, true
	}
	return "", false
}

func (r *run) closePosition(i int, bar model.Bar, reason model.ExitReason) error {
	o := r.open
	fill := r.exec.Sell(bar.Date, bar.Close, o.trade.Shares)
	if err := r.state.Sell(r.ticker, o.trade.Shares, fill.FillPrice, fill.Commission); err != nil {
		return fmt.Errorf("close %s at %s: %w", r.ticker, bar.Date.Format(model.DateLayout), err)
	}

	t := r.priced(o, bar)
	t.ExitReason = reason
	r.state.RecordTrade(t)
	r.open = nil

	if r.obs != nil {
		r.obs.TradeClosed(t.NetPnL)
	}
	r.log.Debug().
		Time("date", bar.Date).
		Str("reason", string(reason)).
		Int("bars_held", i-o.entryIdx).
		Float64("net_pnl", t.NetPnL).
		Msg("close long")
	return nil
}

// priced fills the exit and cost fields of o's trade as if closed at bar.
func (r *run) priced(o *openTrade, bar model.Bar) model.Trade {
	t := o.trade
	costs := execution.ApplyTransactionCosts(t.EntryPrice, bar.Close, r.cfg.CommissionRate, r.cfg.Slippage).
		FloorExit(r.cfg.CommissionRate).
		Scale(t.Shares)
	t.ExitDate = bar.Date
	t.ExitPrice = bar.Close
	t.AdjustedExitPrice = costs.AdjustedExit
	t.CommissionCost = costs.Commission
	t.SlippageCost = (r.cfg.Slippage + bar.Close - costs.AdjustedExit) * t.Shares
	t.NetPnL = costs.NetPnL
	if o.outlay > 0 {
		t.ReturnPct = t.NetPnL / o.outlay
	}
	return t
}

func (r *run) result(series model.PriceSeries) *Result {
	lastBar := series.Bars[series.Len()-1]
	res := &Result{
		Ticker:         r.ticker,
		InitialCash:    r.cfg.InitialCash,
		Trades:         r.state.Trades(),
		EquityCurve:    r.state.EquityCurve(),
		SkippedSignals: r.skipped,
		Fills:          len(r.exec.Fills()),
		PnL:            r.state.Summary(map[string]float64{r.ticker: lastBar.Close}),
	}
	res.FinalValue = res.EquityCurve[len(res.EquityCurve)-1].Value
	for _, t := range res.Trades {
		res.TotalCommission += t.CommissionCost
		res.TotalSlippage += t.SlippageCost
	}
	if r.open != nil {
		// Priced as if closed at the last bar; ExitDate stays zero.
		t := r.priced(r.open, lastBar)
		t.ExitDate = time.Time{}
		res.OpenTrade = &t
	}
	return res
}
