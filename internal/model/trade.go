package model

import "time"

// Regime is a qualitative label for recent price behaviour.
type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeRanging  Regime = "ranging"
	RegimeVolatile Regime = "volatile"
	RegimeCalm     Regime = "calm"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitSignal       ExitReason = "signal"
	ExitTargetReturn ExitReason = "target_return"
	ExitMaxHolding   ExitReason = "max_holding"
	ExitEndOfData    ExitReason = "end_of_data"
)

// Trade is one long round trip. Prices are per share; cost and P&L fields
// are totals for the whole position.
type Trade struct {
	Ticker             string     `json:"ticker"`
	EntryDate          time.Time  `json:"entry_date"`
	ExitDate           time.Time  `json:"exit_date,omitempty"`
	EntryPrice         float64    `json:"entry_price"`
	ExitPrice          float64    `json:"exit_price"`
	AdjustedEntryPrice float64    `json:"adjusted_entry_price"`
	AdjustedExitPrice  float64    `json:"adjusted_exit_price"`
	Shares             float64    `json:"shares"`
	CommissionCost     float64    `json:"commission_cost"`
	SlippageCost       float64    `json:"slippage_cost"`
	NetPnL             float64    `json:"net_pnl"`
	ReturnPct          float64    `json:"return_pct"`
	RegimeAtEntry      Regime     `json:"regime_at_entry"`
	ExitReason         ExitReason `json:"exit_reason,omitempty"`
}

// HoldingDays returns calendar days between entry and exit.
func (t *Trade) HoldingDays() int {
	if t.ExitDate.IsZero() {
		return 0
	}
	return int(t.ExitDate.Sub(t.EntryDate).Hours() / 24)
}

// EquityPoint is a total-value snapshot (cash + marked holdings).
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// EquityValues extracts the values of an equity curve.
func EquityValues(curve []EquityPoint) []float64 {
	out := make([]float64, len(curve))
	for i, p := range curve {
		out[i] = p.Value
	}
	return out
}
