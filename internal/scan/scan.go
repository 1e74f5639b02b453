// Package scan evaluates the current SMA crossover state of a watchlist.
//
// A scan is a pure function of its request and the price data passed in.
// Callers own caching and re-scanning when the request changes; Key gives
// them a stable cache key.
package scan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"backtest-systemv1/internal/indicator"
	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/regime"
	"backtest-systemv1/internal/strategy"
)

const (
	DefaultRSIPeriod    = 14
	DefaultRegimeWindow = 20
)

// ScanRequest describes one scan. Zero RSIPeriod and RegimeWindow take the
// defaults.
type ScanRequest struct {
	Tickers      []string `json:"tickers"`
	ShortMA      int      `json:"short_ma"`
	LongMA       int      `json:"long_ma"`
	RSIPeriod    int      `json:"rsi_period,omitempty"`
	RegimeWindow int      `json:"regime_window,omitempty"`
}

// Validate checks the request.
func (r ScanRequest) Validate() error {
	if len(r.Tickers) == 0 {
		return fmt.Errorf("%w: scan needs at least one ticker", model.ErrValidation)
	}
	for _, t := range r.Tickers {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("%w: empty ticker in scan request", model.ErrValidation)
		}
	}
	if err := (strategy.SMACrossover{Short: r.ShortMA, Long: r.LongMA}).Validate(); err != nil {
		return err
	}
	if r.RSIPeriod < 0 || r.RegimeWindow < 0 {
		return fmt.Errorf("%w: rsi period and regime window must not be negative", model.ErrValidation)
	}
	return nil
}

// Normalized returns the request with upper-cased, sorted, de-duplicated
// tickers and defaults filled in.
func (r ScanRequest) Normalized() ScanRequest {
	seen := make(map[string]bool, len(r.Tickers))
	tickers := make([]string, 0, len(r.Tickers))
	for _, t := range r.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	r.Tickers = tickers
	if r.RSIPeriod == 0 {
		r.RSIPeriod = DefaultRSIPeriod
	}
	if r.RegimeWindow == 0 {
		r.RegimeWindow = DefaultRegimeWindow
	}
	return r
}

// Key returns a cache key that is equal for equivalent requests.
func (r ScanRequest) Key() string {
	n := r.Normalized()
	return fmt.Sprintf("scan:%s:sma%d-%d:rsi%d:reg%d",
		strings.Join(n.Tickers, ","), n.ShortMA, n.LongMA, n.RSIPeriod, n.RegimeWindow)
}

// ScanResult is the state of one ticker at its last bar. Err is set when
// the ticker could not be evaluated; the other fields are then zero.
type ScanResult struct {
	Ticker         string             `json:"ticker"`
	Date           time.Time          `json:"date"`
	LastClose      float64            `json:"last_close"`
	ShortSMA       indicator.Optional `json:"short_sma"`
	LongSMA        indicator.Optional `json:"long_sma"`
	RSI            indicator.Optional `json:"rsi"`
	Position       strategy.Position  `json:"position"`
	LastAction     strategy.Action    `json:"last_action"`
	LastActionDate *time.Time         `json:"last_action_date,omitempty"`
	Regime         model.Regime       `json:"regime"`
	Err            string             `json:"error,omitempty"`
}

// RunScan evaluates every ticker of req against data. Results follow the
// normalized ticker order. A ticker with missing or unusable data gets an
// error result and does not fail the scan.
func RunScan(req ScanRequest, data map[string]model.PriceSeries) ([]ScanResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.Normalized()

	out := make([]ScanResult, 0, len(req.Tickers))
	for _, ticker := range req.Tickers {
		series, ok := data[ticker]
		if !ok || series.Len() == 0 {
			out = append(out, ScanResult{Ticker: ticker, Err: model.ErrEmptyData.Error()})
			continue
		}
		res, err := scanOne(req, ticker, series)
		if err != nil {
			res = ScanResult{Ticker: ticker, Err: err.Error()}
		}
		out = append(out, res)
	}
	return out, nil
}

func scanOne(req ScanRequest, ticker string, series model.PriceSeries) (ScanResult, error) {
	closes := series.Closes()
	short, err := indicator.CalculateSMA(closes, req.ShortMA)
	if err != nil {
		return ScanResult{}, err
	}
	long, err := indicator.CalculateSMA(closes, req.LongMA)
	if err != nil {
		return ScanResult{}, err
	}
	rsi, err := indicator.CalculateRSI(closes, req.RSIPeriod)
	if err != nil {
		return ScanResult{}, err
	}
	positions, err := strategy.GenerateCrossoverSignals(short, long)
	if err != nil {
		return ScanResult{}, err
	}

	last := series.Len() - 1
	action, at := strategy.LastAction(strategy.Actions(positions))
	res := ScanResult{
		Ticker:     ticker,
		Date:       series.Bars[last].Date,
		LastClose:  closes[last],
		ShortSMA:   short[last],
		LongSMA:    long[last],
		RSI:        rsi[last],
		Position:   positions[last],
		LastAction: action,
		Regime:     regime.AtIndex(closes, last, req.RegimeWindow),
	}
	if at >= 0 {
		d := series.Bars[at].Date
		res.LastActionDate = &d
	}
	return res, nil
}
