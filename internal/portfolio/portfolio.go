// Package portfolio holds the cash, holdings, trade log and equity curve of
// one backtest run.
//
// State is mutated only through Buy, Sell, UpdateEquity and RecordTrade.
// Cash never goes negative and holdings never go short.
package portfolio

import (
	"fmt"
	"math"
	"time"

	"backtest-systemv1/internal/model"
)

// cashEpsilon absorbs float rounding when a buy spends exactly all cash.
const cashEpsilon = 1e-9

// State is the portfolio of a single backtest run. It is not safe for
// concurrent use.
type State struct {
	cash      float64
	holdings  map[string]float64 // ticker → quantity (≥ 0)
	costBasis map[string]float64 // ticker → average fill price incl. fees
	realized  float64
	trades    []model.Trade
	equity    []model.EquityPoint
}

// New creates a portfolio with the given starting cash.
func New(initialCash float64) (*State, error) {
	if initialCash < 0 || math.IsNaN(initialCash) || math.IsInf(initialCash, 0) {
		return nil, fmt.Errorf("%w: initial cash must be a non-negative number, got %v", model.ErrValidation, initialCash)
	}
	return &State{
		cash:      initialCash,
		holdings:  make(map[string]float64),
		costBasis: make(map[string]float64),
		trades:    make([]model.Trade, 0, 64),
	}, nil
}

// Cash returns available cash.
func (s *State) Cash() float64 { return s.cash }

// Holdings returns the quantity held for ticker.
func (s *State) Holdings(ticker string) float64 { return s.holdings[ticker] }

// Buy spends shares*price+fee. On ErrInsufficientCash the state is unchanged.
func (s *State) Buy(ticker string, shares, price, fee float64) error {
	if shares <= 0 || price <= 0 || fee < 0 {
		return fmt.Errorf("%w: buy %s shares=%v price=%v fee=%v", model.ErrValidation, ticker, shares, price, fee)
	}
	cost := shares*price + fee
	if cost > s.cash {
		if cost-s.cash > cashEpsilon*math.Max(1, s.cash) {
			return fmt.Errorf("%w: buy %s needs %.2f, have %.2f", model.ErrInsufficientCash, ticker, cost, s.cash)
		}
		cost = s.cash
	}

	held := s.holdings[ticker]
	s.costBasis[ticker] = (s.costBasis[ticker]*held + cost) / (held + shares)
	s.holdings[ticker] = held + shares
	s.cash -= cost
	return nil
}

// Sell credits shares*price-fee. Selling with nothing held, or more than is
// held, fails with ErrInsufficientHoldings and leaves the state unchanged.
func (s *State) Sell(ticker string, shares, price, fee float64) error {
	if shares <= 0 || price < 0 || fee < 0 {
		return fmt.Errorf("%w: sell %s shares=%v price=%v fee=%v", model.ErrValidation, ticker, shares, price, fee)
	}
	held := s.holdings[ticker]
	if held == 0 {
		return fmt.Errorf("%w: cannot short sell %s", model.ErrInsufficientHoldings, ticker)
	}
	if shares > held {
		return fmt.Errorf("%w: sell %s %.4f shares, hold %.4f", model.ErrInsufficientHoldings, ticker, shares, held)
	}

	proceeds := shares*price - fee
	s.realized += proceeds - s.costBasis[ticker]*shares
	s.cash += proceeds
	if s.cash < 0 {
		s.cash = 0
	}
	if held-shares == 0 {
		delete(s.holdings, ticker)
		delete(s.costBasis, ticker)
	} else {
		s.holdings[ticker] = held - shares
	}
	return nil
}

// Value returns cash plus holdings marked at the given prices. Tickers
// without a mark are valued at cost.
func (s *State) Value(marks map[string]float64) float64 {
	v := s.cash
	for ticker, qty := range s.holdings {
		if p, ok := marks[ticker]; ok {
			v += qty * p
		} else {
			v += qty * s.costBasis[ticker]
		}
	}
	return v
}

// UpdateEquity appends a snapshot of Value(marks) to the equity curve.
func (s *State) UpdateEquity(date time.Time, marks map[string]float64) float64 {
	v := s.Value(marks)
	s.equity = append(s.equity, model.EquityPoint{Date: date, Value: v})
	return v
}

// RecordTrade appends a completed round trip to the trade log.
func (s *State) RecordTrade(t model.Trade) {
	s.trades = append(s.trades, t)
}

// Trades returns a copy of the trade log.
func (s *State) Trades() []model.Trade {
	cp := make([]model.Trade, len(s.trades))
	copy(cp, s.trades)
	return cp
}

// EquityCurve returns a copy of the equity curve.
func (s *State) EquityCurve() []model.EquityPoint {
	cp := make([]model.EquityPoint, len(s.equity))
	copy(cp, s.equity)
	return cp
}

// Summary is a realized/unrealized P&L breakdown.
type Summary struct {
	Cash          float64 `json:"cash"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalTrades   int     `json:"total_trades"`
	OpenPositions int     `json:"open_positions"`
}

// Summary returns the P&L breakdown at the given marks.
func (s *State) Summary(marks map[string]float64) Summary {
	unrealized := 0.0
	for ticker, qty := range s.holdings {
		if p, ok := marks[ticker]; ok {
			unrealized += (p - s.costBasis[ticker]) * qty
		}
	}
	return Summary{
		Cash:          s.cash,
		RealizedPnL:   s.realized,
		UnrealizedPnL: unrealized,
		TotalPnL:      s.realized + unrealized,
		TotalTrades:   len(s.trades),
		OpenPositions: len(s.holdings),
	}
}
