package execution

import "math"

// Costs is the result of pricing one round trip per share.
type Costs struct {
	AdjustedEntry float64 `json:"adjusted_entry"`
	AdjustedExit  float64 `json:"adjusted_exit"`
	NetPnL        float64 `json:"net_pnl"`
	Commission    float64 `json:"commission"`
}

// ApplyTransactionCosts prices a long round trip. Slippage works against the
// trader on both legs and commission is charged on both adjusted prices.
// Zero commission and zero slippage reduce to exit - entry.
func ApplyTransactionCosts(entryPrice, exitPrice, commissionRate, slippage float64) Costs {
	adjEntry := entryPrice + slippage
	adjExit := exitPrice - slippage
	commission := commissionRate * (adjEntry + adjExit)
	return Costs{
		AdjustedEntry: adjEntry,
		AdjustedExit:  adjExit,
		NetPnL:        (adjExit - adjEntry) - commission,
		Commission:    commission,
	}
}

// Scale returns position totals for the given share count. Adjusted prices
// stay per share.
func (c Costs) Scale(shares float64) Costs {
	return Costs{
		AdjustedEntry: c.AdjustedEntry,
		AdjustedExit:  c.AdjustedExit,
		NetPnL:        c.NetPnL * shares,
		Commission:    c.Commission * shares,
	}
}

// FloorExit clamps a negative adjusted exit at zero, so a sell at worst
// gives the position away. Commission and NetPnL are repriced to match.
func (c Costs) FloorExit(commissionRate float64) Costs {
	if c.AdjustedExit >= 0 {
		return c
	}
	c.AdjustedExit = 0
	c.Commission = commissionRate * c.AdjustedEntry
	c.NetPnL = -c.AdjustedEntry - c.Commission
	return c
}

// ExitFillPrice is price less slippage, floored at zero.
func ExitFillPrice(price, slippage float64) float64 {
	return math.Max(price-slippage, 0)
}
