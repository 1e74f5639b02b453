package indicator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"backtest-systemv1/internal/model"
)

// IndicatorConfig specifies a single indicator to compute.
// Periods holds one period for most types; MACD takes fast, slow, signal.
type IndicatorConfig struct {
	Type    string // "SMA", "EMA", "RSI", "ATR", "ADX", "BB", "MACD", "VOLMA"
	Periods []int
}

// Name is the base column name, e.g. "SMA_20" or "MACD_12_26_9".
func (c IndicatorConfig) Name() string {
	parts := make([]string, 0, len(c.Periods)+1)
	parts = append(parts, c.Type)
	for _, p := range c.Periods {
		parts = append(parts, strconv.Itoa(p))
	}
	return strings.Join(parts, "_")
}

// ParseSpecs parses "SMA:20,RSI:14,MACD:12:26:9" into configs.
// "MACD" alone means 12/26/9 and "BB:20" uses k=2.
func ParseSpecs(spec string) ([]IndicatorConfig, error) {
	var out []IndicatorConfig
	for _, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		fields := strings.Split(raw, ":")
		cfg := IndicatorConfig{Type: strings.ToUpper(fields[0])}
		for _, f := range fields[1:] {
			p, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("%w: indicator %q: bad period %q", model.ErrValidation, raw, f)
			}
			cfg.Periods = append(cfg.Periods, p)
		}
		switch cfg.Type {
		case "MACD":
			switch len(cfg.Periods) {
			case 0:
				cfg.Periods = []int{12, 26, 9}
			case 1:
				cfg.Periods = append(cfg.Periods, 26, 9)
			case 3:
			default:
				return nil, fmt.Errorf("%w: indicator %q: MACD takes fast[:slow:signal]", model.ErrValidation, raw)
			}
		case "SMA", "EMA", "RSI", "ATR", "ADX", "BB", "VOLMA":
			if len(cfg.Periods) != 1 {
				return nil, fmt.Errorf("%w: indicator %q: expected TYPE:PERIOD", model.ErrValidation, raw)
			}
		default:
			return nil, fmt.Errorf("%w: unknown indicator type %q", model.ErrValidation, cfg.Type)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Frame maps indicator column names to series aligned with a PriceSeries.
type Frame struct {
	Dates   []time.Time       `json:"dates"`
	Columns map[string]Series `json:"columns"`
	order   []string
}

// Names returns column names in insertion order.
func (f *Frame) Names() []string { return f.order }

// Get returns a column by name.
func (f *Frame) Get(name string) (Series, bool) {
	s, ok := f.Columns[name]
	return s, ok
}

func (f *Frame) set(name string, s Series) {
	if _, exists := f.Columns[name]; !exists {
		f.order = append(f.order, name)
	}
	f.Columns[name] = s
}

// BuildFrame computes every configured indicator over series.
// Multi-output indicators add one column per line (BB_UPPER_20, MACD_SIGNAL_12_26_9, ...).
func BuildFrame(series model.PriceSeries, configs []IndicatorConfig) (*Frame, error) {
	if series.Len() == 0 {
		return nil, fmt.Errorf("build frame for %s: %w", series.Ticker, model.ErrEmptyData)
	}
	f := &Frame{Dates: series.Dates(), Columns: make(map[string]Series, len(configs))}
	closes := series.Closes()

	for _, cfg := range configs {
		if len(cfg.Periods) == 0 || (cfg.Type == "MACD" && len(cfg.Periods) != 3) {
			return nil, fmt.Errorf("%w: indicator %s: missing periods", model.ErrValidation, cfg.Type)
		}
		var err error
		p := cfg.Periods[0]
		name := cfg.Name()
		switch cfg.Type {
		case "SMA":
			var s Series
			if s, err = CalculateSMA(closes, p); err == nil {
				f.set(name, s)
			}
		case "EMA":
			var s Series
			if s, err = CalculateEMA(closes, p); err == nil {
				f.set(name, s)
			}
		case "RSI":
			var s Series
			if s, err = CalculateRSI(closes, p); err == nil {
				f.set(name, s)
			}
		case "VOLMA":
			var s Series
			if s, err = CalculateVolumeMA(FromValues(series.Volumes()), p); err == nil {
				f.set(name, s)
			}
		case "ATR":
			var s Series
			if s, err = CalculateATR(series.Bars, p); err == nil {
				f.set(name, s)
			}
		case "ADX":
			var s Series
			if s, err = CalculateADX(series.Highs(), series.Lows(), closes, p); err == nil {
				f.set(name, s)
			}
		case "BB":
			var b Bands
			if b, err = CalculateBollinger(closes, p, 2); err == nil {
				suffix := strconv.Itoa(p)
				f.set("BB_UPPER_"+suffix, b.Upper)
				f.set("BB_MIDDLE_"+suffix, b.Middle)
				f.set("BB_LOWER_"+suffix, b.Lower)
			}
		case "MACD":
			var m MACDResult
			if m, err = CalculateMACD(closes, p, cfg.Periods[1], cfg.Periods[2]); err == nil {
				suffix := strings.TrimPrefix(name, "MACD_")
				f.set(name, m.MACD)
				f.set("MACD_SIGNAL_"+suffix, m.Signal)
				f.set("MACD_HIST_"+suffix, m.Histogram)
			}
		default:
			err = fmt.Errorf("%w: unknown indicator type %q", model.ErrValidation, cfg.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("indicator %s: %w", name, err)
		}
	}
	return f, nil
}
