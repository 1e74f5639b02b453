package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyTransactionCosts_ZeroCostsIsGross(t *testing.T) {
	c := ApplyTransactionCosts(100, 110, 0, 0)
	assert.Equal(t, Costs{AdjustedEntry: 100, AdjustedExit: 110, NetPnL: 10, Commission: 0}, c)
}

func TestApplyTransactionCosts_CommissionAndSlippage(t *testing.T) {
	// adjEntry = 100.5, adjExit = 109.5
	// commission = 0.01 * (100.5 + 109.5) = 2.1
	// net = 9 - 2.1 = 6.9
	c := ApplyTransactionCosts(100, 110, 0.01, 0.5)
	assert.InDelta(t, 100.5, c.AdjustedEntry, 1e-12)
	assert.InDelta(t, 109.5, c.AdjustedExit, 1e-12)
	assert.InDelta(t, 6.9, c.NetPnL, 1e-9)
	assert.InDelta(t, 2.1, c.Commission, 1e-9)
}

func TestApplyTransactionCosts_LosingTrade(t *testing.T) {
	c := ApplyTransactionCosts(100, 95, 0.001, 0.1)
	// adjEntry 100.1, adjExit 94.9, commission 0.001*195 = 0.195
	assert.InDelta(t, -5.2-0.195, c.NetPnL, 1e-9)
}

func TestCosts_Scale(t *testing.T) {
	c := ApplyTransactionCosts(100, 110, 0.01, 0.5).Scale(10)
	assert.InDelta(t, 69.0, c.NetPnL, 1e-9)
	assert.InDelta(t, 21.0, c.Commission, 1e-9)
	assert.InDelta(t, 100.5, c.AdjustedEntry, 1e-12, "per-share price unchanged")
}

func TestPaperExecutor_RoundTripMatchesCostModel(t *testing.T) {
	p := NewPaperExecutor(0.01, 0.5)
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	buy := p.Buy(d, 100, 10)
	sell := p.Sell(d.AddDate(0, 0, 5), 110, 10)

	want := ApplyTransactionCosts(100, 110, 0.01, 0.5).Scale(10)
	assert.InDelta(t, want.NetPnL, buy.CashDelta()+sell.CashDelta(), 1e-9)
	assert.InDelta(t, want.Commission, buy.Commission+sell.Commission, 1e-9)
	assert.InDelta(t, 10.0, buy.Slippage+sell.Slippage, 1e-12)
	assert.Len(t, p.Fills(), 2)
}

func TestCosts_FloorExit(t *testing.T) {
	// adjEntry 5, adjExit -1 floored to 0, commission 0.01*5 = 0.05
	c := ApplyTransactionCosts(3, 1, 0.01, 2).FloorExit(0.01)
	assert.Equal(t, 0.0, c.AdjustedExit)
	assert.InDelta(t, 0.05, c.Commission, 1e-12)
	assert.InDelta(t, -5.05, c.NetPnL, 1e-12)

	same := ApplyTransactionCosts(100, 110, 0.01, 0.5)
	assert.Equal(t, same, same.FloorExit(0.01))
}

func TestPaperExecutor_SellFillFlooredAtZero(t *testing.T) {
	p := NewPaperExecutor(0.01, 2)
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	buy := p.Buy(d, 3, 1)
	sell := p.Sell(d.AddDate(0, 0, 1), 1, 1)
	assert.Zero(t, sell.FillPrice)
	assert.Zero(t, sell.Commission)
	assert.InDelta(t, 1.0, sell.Slippage, 1e-12)

	want := ApplyTransactionCosts(3, 1, 0.01, 2).FloorExit(0.01)
	assert.InDelta(t, want.NetPnL, buy.CashDelta()+sell.CashDelta(), 1e-12)
}

func TestPaperExecutor_QuoteDoesNotRecord(t *testing.T) {
	p := NewPaperExecutor(0.001, 0)
	q := p.Quote(time.Time{}, 50, 2)
	assert.InDelta(t, 0.1, q.Commission, 1e-12)
	assert.Empty(t, p.Fills())
	assert.InDelta(t, 50*1.001, p.EntryCostPerShare(50), 1e-12)
}
