package indicator

import (
	"math"

	"backtest-systemv1/internal/model"
)

// trueRange returns max(high-low, |high-prevClose|, |low-prevClose|).
// The first bar has no previous close and uses high-low.
func trueRange(high, low, close []float64) []float64 {
	tr := make([]float64, len(high))
	for i := range high {
		tr[i] = high[i] - low[i]
		if i == 0 {
			continue
		}
		tr[i] = math.Max(tr[i], math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
	}
	return tr
}

// CalculateATR returns Wilder's average true range over window bars.
func CalculateATR(bars []model.Bar, window int) (Series, error) {
	s := model.PriceSeries{Bars: bars}
	return calculateATR(s.Highs(), s.Lows(), s.Closes(), window)
}

// calculateATR is CalculateATR over separate high/low/close columns.
func calculateATR(high, low, close []float64, window int) (Series, error) {
	if err := checkHLC("atr", high, low, close, window); err != nil {
		return nil, err
	}
	return collect(NewSMMA(window), trueRange(high, low, close)), nil
}

// CalculateADX returns Wilder's average directional index, defined from
// index 1. Until period price changes exist, DM and TR are running means and
// ADX is the running mean of those DX values; Wilder smoothing takes over
// after that, so values from index 2*period-1 are the classic ADX.
func CalculateADX(high, low, close []float64, period int) (Series, error) {
	if err := checkHLC("adx", high, low, close, period); err != nil {
		return nil, err
	}

	n := len(high)
	out := make(Series, n)
	tr := trueRange(high, low, close)
	smTR, smPlus, smMinus, adx := NewSMMA(period), NewSMMA(period), NewSMMA(period), NewSMMA(period)
	warmSum, warmCount := 0.0, 0

	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		plusDM, minusDM := 0.0, 0.0
		if up > down && up > 0 {
			plusDM = up
		}
		if down > up && down > 0 {
			minusDM = down
		}

		smTR.Update(tr[i])
		smPlus.Update(plusDM)
		smMinus.Update(minusDM)
		dx := directionalIndex(smPlus.Running(), smMinus.Running(), smTR.Running())

		if !smTR.Ready() {
			warmSum += dx
			warmCount++
			out[i] = Some(warmSum / float64(warmCount))
			continue
		}
		adx.Update(dx)
		out[i] = Some(adx.Running())
	}
	return out, nil
}

// directionalIndex is DX from smoothed +DM, -DM and TR. A flat range gives 0.
func directionalIndex(plusDM, minusDM, tr float64) float64 {
	if tr <= 0 {
		return 0
	}
	plusDI := 100 * plusDM / tr
	minusDI := 100 * minusDM / tr
	sum := plusDI + minusDI
	if sum <= 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}

func checkHLC(name string, high, low, close []float64, period int) error {
	if err := checkPeriod(name, period); err != nil {
		return err
	}
	if err := checkSameLength(name, len(high), len(low), len(close)); err != nil {
		return err
	}
	for _, col := range [][]float64{high, low, close} {
		if err := checkValues(name, col); err != nil {
			return err
		}
	}
	return nil
}
