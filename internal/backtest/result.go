package backtest

import (
	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/performance"
	"backtest-systemv1/internal/portfolio"
)

// Result is the raw output of one backtest run.
type Result struct {
	Ticker          string              `json:"ticker"`
	Strategy        string              `json:"strategy,omitempty"`
	InitialCash     float64             `json:"initial_cash"`
	Trades          []model.Trade       `json:"trades"`
	OpenTrade       *model.Trade        `json:"open_trade,omitempty"` // excluded from Trades and statistics
	EquityCurve     []model.EquityPoint `json:"equity_curve"`
	FinalValue      float64             `json:"final_value"`
	TotalCommission float64             `json:"total_commission"`
	TotalSlippage   float64             `json:"total_slippage"`
	SkippedSignals  int                 `json:"skipped_signals"`
	Fills           int                 `json:"fills"`
	PnL             portfolio.Summary   `json:"pnl"` // realized vs marked-to-market at the last bar
}

// Equity returns the equity curve values.
func (r *Result) Equity() []float64 {
	return model.EquityValues(r.EquityCurve)
}

// Metrics computes the performance block over completed trades.
func (r *Result) Metrics() performance.Metrics {
	return performance.Calculate(r.Equity(), r.Trades)
}

// Report is the results mapping handed to report renderers, the API and
// the publisher.
type Report struct {
	RunID             string                                   `json:"run_id,omitempty"`
	Ticker            string                                   `json:"ticker"`
	Strategy          string                                   `json:"strategy,omitempty"`
	Trades            []model.Trade                            `json:"trades"`
	NumTrades         int                                      `json:"num_trades"`
	FinalValue        float64                                  `json:"final_value"`
	TotalCommission   float64                                  `json:"total_commission"`
	TotalSlippage     float64                                  `json:"total_slippage"`
	SkippedSignals    int                                      `json:"skipped_signals"`
	OpenTrade         *model.Trade                             `json:"open_trade,omitempty"`
	Metrics           performance.Metrics                      `json:"metrics"`
	RegimePerformance map[model.Regime]performance.RegimeStats `json:"regime_performance"`
	DrawdownPeriods   []performance.DrawdownPeriod             `json:"drawdown_periods"`
	PnL               portfolio.Summary                        `json:"pnl"`
	EquityCurve       []model.EquityPoint                      `json:"equity_curve,omitempty"`
}

// Report builds the output mapping. The equity curve is included only when
// withCurve is set.
func (r *Result) Report(withCurve bool) Report {
	trades := r.Trades
	if trades == nil {
		trades = []model.Trade{}
	}
	rep := Report{
		Ticker:            r.Ticker,
		Strategy:          r.Strategy,
		Trades:            trades,
		NumTrades:         len(r.Trades),
		FinalValue:        r.FinalValue,
		TotalCommission:   r.TotalCommission,
		TotalSlippage:     r.TotalSlippage,
		SkippedSignals:    r.SkippedSignals,
		OpenTrade:         r.OpenTrade,
		Metrics:           r.Metrics(),
		RegimePerformance: performance.CorrelateWithRegimes(r.Trades),
		DrawdownPeriods:   performance.ExtractDrawdownPeriods(r.Equity()),
		PnL:               r.PnL,
	}
	if withCurve {
		rep.EquityCurve = r.EquityCurve
	}
	return rep
}
