package indicator

import (
	"fmt"
	"math"

	"backtest-systemv1/internal/model"
)

// CalculateSMA returns the rolling arithmetic mean over period trailing points.
// The first period-1 entries are undefined; partial windows are never used.
func CalculateSMA(values []float64, period int) (Series, error) {
	if err := checkPeriod("sma", period); err != nil {
		return nil, err
	}
	if err := checkValues("sma", values); err != nil {
		return nil, err
	}
	return collect(NewSMA(period), values), nil
}

// CalculateEMA returns an SMA-seeded exponential moving average.
func CalculateEMA(values []float64, period int) (Series, error) {
	if err := checkPeriod("ema", period); err != nil {
		return nil, err
	}
	if err := checkValues("ema", values); err != nil {
		return nil, err
	}
	return collect(NewEMA(period), values), nil
}

// CalculateVolumeMA returns a rolling mean with a minimum window of one point, so it
// is defined from the first index. Undefined inputs stay undefined in the
// output and are skipped in neighbouring windows.
func CalculateVolumeMA(values Series, period int) (Series, error) {
	if err := checkPeriod("volume_ma", period); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: volume_ma input is empty", model.ErrInvalidInput)
	}
	out := make(Series, len(values))
	sum, n := 0.0, 0
	for i, o := range values {
		if o.Valid {
			if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
				return nil, fmt.Errorf("%w: volume_ma input[%d] is not finite", model.ErrInvalidInput, i)
			}
			sum += o.Value
			n++
		}
		if j := i - period; j >= 0 && values[j].Valid {
			sum -= values[j].Value
			n--
		}
		if o.Valid && n > 0 {
			out[i] = Some(sum / float64(n))
		}
	}
	return out, nil
}

// CalculateRSI returns Wilder's RSI. The first period entries are undefined.
func CalculateRSI(values []float64, period int) (Series, error) {
	if err := checkPeriod("rsi", period); err != nil {
		return nil, err
	}
	if err := checkValues("rsi", values); err != nil {
		return nil, err
	}
	return collect(NewRSI(period), values), nil
}

// MACDResult holds the three MACD lines.
type MACDResult struct {
	MACD      Series
	Signal    Series
	Histogram Series
}

// CalculateMACD returns fast EMA minus slow EMA, its signal EMA, and their difference.
func CalculateMACD(values []float64, fast, slow, signal int) (MACDResult, error) {
	for _, p := range []int{fast, slow, signal} {
		if err := checkPeriod("macd", p); err != nil {
			return MACDResult{}, err
		}
	}
	if fast >= slow {
		return MACDResult{}, fmt.Errorf("%w: macd fast period %d must be below slow %d", model.ErrInvalidInput, fast, slow)
	}
	if err := checkValues("macd", values); err != nil {
		return MACDResult{}, err
	}

	fastEMA, slowEMA, sigEMA := NewEMA(fast), NewEMA(slow), NewSeededEMA(signal)
	res := MACDResult{
		MACD:      make(Series, len(values)),
		Signal:    make(Series, len(values)),
		Histogram: make(Series, len(values)),
	}
	for i, v := range values {
		fastEMA.Update(v)
		slowEMA.Update(v)
		if !slowEMA.Ready() {
			continue
		}
		line := fastEMA.Value() - slowEMA.Value()
		res.MACD[i] = Some(line)
		sigEMA.Update(line)
		if sigEMA.Ready() {
			res.Signal[i] = Some(sigEMA.Value())
			res.Histogram[i] = Some(line - sigEMA.Value())
		}
	}
	return res, nil
}

// Bands holds Bollinger upper/middle/lower series.
type Bands struct {
	Upper  Series
	Middle Series
	Lower  Series
}

// CalculateBollinger returns SMA(period) ± k sample standard deviations.
func CalculateBollinger(values []float64, period int, k float64) (Bands, error) {
	if err := checkPeriod("bollinger", period); err != nil {
		return Bands{}, err
	}
	if err := checkValues("bollinger", values); err != nil {
		return Bands{}, err
	}
	sma := NewSMA(period)
	b := Bands{
		Upper:  make(Series, len(values)),
		Middle: make(Series, len(values)),
		Lower:  make(Series, len(values)),
	}
	for i, v := range values {
		sma.Update(v)
		if !sma.Ready() {
			continue
		}
		mean := sma.Value()
		sd := sampleStd(sma.Window(), mean)
		b.Middle[i] = Some(mean)
		b.Upper[i] = Some(mean + k*sd)
		b.Lower[i] = Some(mean - k*sd)
	}
	return b, nil
}

func sampleStd(window []float64, mean float64) float64 {
	if len(window) < 2 {
		return 0
	}
	ss := 0.0
	for _, x := range window {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(window)-1))
}
