// Package performance computes summary statistics from an equity curve and
// a trade log.
package performance

import (
	"math"

	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/stats"
)

// PeriodsPerYear is the number of trading days used for annualisation.
const PeriodsPerYear = 252

// Metrics is the performance block of a backtest report.
//
// Sharpe is AnnualizedReturn / Volatility with IEEE semantics: a flat equity
// curve with a positive return yields +Inf.
type Metrics struct {
	TotalReturn      model.Float `json:"total_return"`
	AnnualizedReturn model.Float `json:"annualized_return"`
	Volatility       model.Float `json:"volatility"`
	Sharpe           model.Float `json:"sharpe"`
	MaxDrawdown      model.Float `json:"max_drawdown"`
	NumTrades        int         `json:"num_trades"`
	WinRate          model.Float `json:"win_rate"`
	AvgTradePnL      model.Float `json:"avg_trade_pnl"`
	TotalPnL         model.Float `json:"total_pnl"`
}

// Calculate computes metrics from equity values and completed trades.
func Calculate(equity []float64, trades []model.Trade) Metrics {
	m := Metrics{NumTrades: len(trades)}

	pnl, wins := 0.0, 0
	for _, t := range trades {
		pnl += t.NetPnL
		if t.NetPnL > 0 {
			wins++
		}
	}
	m.TotalPnL = model.Float(pnl)
	if len(trades) > 0 {
		m.WinRate = model.Float(float64(wins) / float64(len(trades)))
		m.AvgTradePnL = model.Float(pnl / float64(len(trades)))
	}

	if len(equity) < 2 || equity[0] <= 0 {
		return m
	}

	total := equity[len(equity)-1]/equity[0] - 1
	rets := Returns(equity)
	ann := math.Pow(1+total, float64(PeriodsPerYear)/float64(len(rets))) - 1
	vol := stats.StdDev(rets) * math.Sqrt(PeriodsPerYear)

	m.TotalReturn = model.Float(total)
	m.AnnualizedReturn = model.Float(ann)
	m.Volatility = model.Float(vol)
	m.Sharpe = model.Float(ann / vol)
	m.MaxDrawdown = model.Float(MaxDrawdown(equity))
	return m
}

// Returns computes simple period returns. A zero previous value yields a
// zero return for that period.
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] != 0 {
			out[i-1] = equity[i]/equity[i-1] - 1
		}
	}
	return out
}

// MaxDrawdown returns min(equity/running_peak - 1), a value ≤ 0.
func MaxDrawdown(equity []float64) float64 {
	maxDD, peak := 0.0, 0.0
	for i, v := range equity {
		if i == 0 || v > peak {
			peak = v
		}
		if peak > 0 {
			maxDD = math.Min(maxDD, v/peak-1)
		}
	}
	return maxDD
}

// DrawdownPeriod is a contiguous run of indices below the running peak.
type DrawdownPeriod struct {
	Start       int         `json:"start"`
	End         int         `json:"end"` // inclusive
	TroughIndex int         `json:"trough_index"`
	Trough      model.Float `json:"trough"` // negative fraction
	Recovered   bool        `json:"recovered"`
}

// ExtractDrawdownPeriods returns every interval where equity sits below its
// running peak. The last period is unrecovered when the curve ends under water.
func ExtractDrawdownPeriods(equity []float64) []DrawdownPeriod {
	var out []DrawdownPeriod
	var cur *DrawdownPeriod
	peak := 0.0
	for i, v := range equity {
		if i == 0 || v >= peak {
			if cur != nil {
				cur.Recovered = true
				out = append(out, *cur)
				cur = nil
			}
			peak = v
			continue
		}
		dd := 0.0
		if peak > 0 {
			dd = v/peak - 1
		}
		if cur == nil {
			cur = &DrawdownPeriod{Start: i, TroughIndex: i, Trough: model.Float(dd)}
		}
		cur.End = i
		if dd < float64(cur.Trough) {
			cur.Trough = model.Float(dd)
			cur.TroughIndex = i
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// RegimeStats is trade P&L grouped by entry regime.
type RegimeStats struct {
	MeanPnL  model.Float `json:"mean_pnl"`
	TotalPnL model.Float `json:"total_pnl"`
	Count    int         `json:"count"`
}

// CorrelateWithRegimes groups trades by their RegimeAtEntry label.
func CorrelateWithRegimes(trades []model.Trade) map[model.Regime]RegimeStats {
	out := make(map[model.Regime]RegimeStats)
	for _, t := range trades {
		s := out[t.RegimeAtEntry]
		s.Count++
		s.TotalPnL += model.Float(t.NetPnL)
		out[t.RegimeAtEntry] = s
	}
	for k, s := range out {
		s.MeanPnL = s.TotalPnL / model.Float(s.Count)
		out[k] = s
	}
	return out
}
