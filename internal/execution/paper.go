package execution

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"backtest-systemv1/internal/logger"
)

// Side is the direction of a single fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Fill represents one simulated single-leg execution.
type Fill struct {
	Date       time.Time `json:"date"`
	Side       Side      `json:"side"`
	Price      float64   `json:"price"`      // pre-cost reference price
	FillPrice  float64   `json:"fill_price"` // price after slippage
	Shares     float64   `json:"shares"`
	Commission float64   `json:"commission"` // total for this leg
	Slippage   float64   `json:"slippage"`   // total for this leg
}

// CashDelta is the signed cash movement of the fill.
func (f Fill) CashDelta() float64 {
	if f.Side == SideBuy {
		return -(f.Shares*f.FillPrice + f.Commission)
	}
	return f.Shares*f.FillPrice - f.Commission
}

// PaperExecutor simulates fills under the cost model. Summed over a round
// trip its legs match ApplyTransactionCosts scaled by the share count.
// One executor belongs to one backtest run.
type PaperExecutor struct {
	commissionRate float64
	slippage       float64 // absolute per-share amount
	fills          []Fill
	log            zerolog.Logger
}

// NewPaperExecutor creates a paper executor with the given commission rate
// (fraction of traded value) and per-share slippage.
func NewPaperExecutor(commissionRate, slippage float64) *PaperExecutor {
	return &PaperExecutor{
		commissionRate: commissionRate,
		slippage:       slippage,
		fills:          make([]Fill, 0, 64),
		log:            logger.Component("paper"),
	}
}

// EntryCostPerShare is the cash needed per share to buy at price,
// commission included.
func (p *PaperExecutor) EntryCostPerShare(price float64) float64 {
	return (price + p.slippage) * (1 + p.commissionRate)
}

// Buy records a simulated buy; cash checks belong to the caller.
func (p *PaperExecutor) Buy(date time.Time, price, shares float64) Fill {
	return p.fill(date, SideBuy, price, price+p.slippage, shares)
}

// Sell records a simulated sell. The fill price never goes below zero.
func (p *PaperExecutor) Sell(date time.Time, price, shares float64) Fill {
	return p.fill(date, SideSell, price, ExitFillPrice(price, p.slippage), shares)
}

// Quote prices a buy without recording it.
func (p *PaperExecutor) Quote(date time.Time, price, shares float64) Fill {
	adj := price + p.slippage
	return Fill{
		Date: date, Side: SideBuy, Price: price, FillPrice: adj, Shares: shares,
		Commission: p.commissionRate * adj * shares,
		Slippage:   p.slippage * shares,
	}
}

// Fills returns a copy of all recorded fills.
func (p *PaperExecutor) Fills() []Fill {
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

func (p *PaperExecutor) fill(date time.Time, side Side, price, fillPrice, shares float64) Fill {
	f := Fill{
		Date:       date,
		Side:       side,
		Price:      price,
		FillPrice:  fillPrice,
		Shares:     shares,
		Commission: p.commissionRate * fillPrice * shares,
		Slippage:   math.Abs(fillPrice-price) * shares,
	}
	p.fills = append(p.fills, f)

	p.log.Debug().
		Str("side", string(side)).
		Time("date", date).
		Float64("price", price).
		Float64("fill_price", fillPrice).
		Float64("shares", shares).
		Float64("commission", f.Commission).
		Msg("paper fill")
	return f
}
