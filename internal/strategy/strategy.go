// Package strategy turns indicator series into long/flat position series.
//
// A position series holds 1 where the strategy wants to be long and 0 where
// it wants to be flat. Actions derives the buy/sell events the backtest
// engine consumes: a 0→1 step is a buy and a 1→0 step is a sell.
package strategy

import (
	"fmt"

	"backtest-systemv1/internal/indicator"
	"backtest-systemv1/internal/model"
)

// Position is the desired exposure at one date.
type Position int8

const (
	Flat Position = 0
	Long Position = 1
)

// Action represents a trading action derived from consecutive positions.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Strategy is the interface that all backtestable strategies implement.
type Strategy interface {
	// Name returns a name that includes the strategy parameters.
	Name() string

	// Positions computes one position per bar of series.
	Positions(series model.PriceSeries) ([]Position, error)
}

// GenerateCrossoverSignals returns Long where short > long and both are
// defined, Flat otherwise. The inputs must be index-aligned.
func GenerateCrossoverSignals(short, long indicator.Series) ([]Position, error) {
	if len(short) != len(long) {
		return nil, fmt.Errorf("%w: short has %d points, long has %d", model.ErrMisaligned, len(short), len(long))
	}
	out := make([]Position, len(short))
	for i := range short {
		if short[i].Valid && long[i].Valid && short[i].Value > long[i].Value {
			out[i] = Long
		}
	}
	return out, nil
}

// Actions maps positions to actions. A Long at index 0 counts as a buy.
func Actions(positions []Position) []Action {
	out := make([]Action, len(positions))
	prev := Flat
	for i, p := range positions {
		switch {
		case prev == Flat && p == Long:
			out[i] = ActionBuy
		case prev == Long && p == Flat:
			out[i] = ActionSell
		default:
			out[i] = ActionHold
		}
		prev = p
	}
	return out
}

// LastAction returns the most recent non-hold action and its index, or
// ActionHold and -1 when there is none.
func LastAction(actions []Action) (Action, int) {
	for i := len(actions) - 1; i >= 0; i-- {
		if actions[i] != ActionHold {
			return actions[i], i
		}
	}
	return ActionHold, -1
}
