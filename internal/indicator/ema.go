package indicator

// EMA calculates Exponential Moving Average.
// O(1) per update with no window storage.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
	seedFirst  bool
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

// NewSeededEMA creates an EMA that starts from its first input instead of
// an SMA seed, so it is ready after one update.
func NewSeededEMA(period int) *EMA {
	e := NewEMA(period)
	e.seedFirst = true
	return e
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(price float64) {
	e.count++

	if e.seedFirst && e.count == 1 {
		e.current = price
		return
	}
	if !e.seedFirst && e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	// EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period || (e.seedFirst && e.count > 0) }
