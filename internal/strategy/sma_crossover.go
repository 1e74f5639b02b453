package strategy

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"backtest-systemv1/internal/indicator"
	"backtest-systemv1/internal/model"
)

// SMACrossover implements a simple SMA crossover strategy.
//
// Long while the short SMA is above the long SMA (golden cross entry,
// death cross exit).
//
// With RSIPeriod > 0 an RSI filter blocks entries when overbought and
// blocks exits when oversold. A blocked cross is not retried until the next cross.
type SMACrossover struct {
	Short      int     `json:"ma_short"`
	Long       int     `json:"ma_long"`
	RSIPeriod  int     `json:"rsi_period,omitempty"`
	Overbought float64 `json:"overbought,omitempty"` // default 70
	Oversold   float64 `json:"oversold,omitempty"`   // default 30
}

func (s SMACrossover) Name() string {
	if s.RSIPeriod > 0 {
		return fmt.Sprintf("SMA_Crossover_%d_%d_RSI_%d", s.Short, s.Long, s.RSIPeriod)
	}
	return fmt.Sprintf("SMA_Crossover_%d_%d", s.Short, s.Long)
}

// Validate checks the window parameters.
func (s SMACrossover) Validate() error {
	if s.Short <= 0 || s.Long <= 0 {
		return fmt.Errorf("%w: SMA windows must be positive (short=%d long=%d)", model.ErrValidation, s.Short, s.Long)
	}
	if s.Long <= s.Short {
		return fmt.Errorf("%w: long window %d must exceed short window %d", model.ErrValidation, s.Long, s.Short)
	}
	if s.RSIPeriod < 0 {
		return fmt.Errorf("%w: rsi period must not be negative", model.ErrValidation)
	}
	return nil
}

// Positions computes the SMA (and optional RSI) series and applies them.
func (s SMACrossover) Positions(series model.PriceSeries) ([]Position, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	closes := series.Closes()
	short, err := indicator.CalculateSMA(closes, s.Short)
	if err != nil {
		return nil, err
	}
	long, err := indicator.CalculateSMA(closes, s.Long)
	if err != nil {
		return nil, err
	}
	var rsi indicator.Series
	if s.RSIPeriod > 0 {
		if rsi, err = indicator.CalculateRSI(closes, s.RSIPeriod); err != nil {
			return nil, err
		}
	}
	return s.Apply(short, long, rsi)
}

// Apply builds positions from precomputed series. rsi may be nil when the
// filter is disabled.
func (s SMACrossover) Apply(short, long, rsi indicator.Series) ([]Position, error) {
	raw, err := GenerateCrossoverSignals(short, long)
	if err != nil {
		return nil, err
	}
	if s.RSIPeriod <= 0 {
		return raw, nil
	}
	if len(rsi) != len(raw) {
		return nil, fmt.Errorf("%w: rsi has %d points, signals have %d", model.ErrMisaligned, len(rsi), len(raw))
	}

	overbought, oversold := s.Overbought, s.Oversold
	if overbought == 0 {
		overbought = 70
	}
	if oversold == 0 {
		oversold = 30
	}

	out := make([]Position, len(raw))
	prevRaw, cur := Flat, Flat
	for i, p := range raw {
		r, ok := rsi.At(i)
		switch {
		case prevRaw == Flat && p == Long:
			if ok && r > overbought {
				log.Debug().Str("component", "strategy").Int("index", i).Float64("rsi", r).
					Msg("golden cross filtered by RSI")
			} else {
				cur = Long
			}
		case prevRaw == Long && p == Flat:
			if ok && r < oversold {
				log.Debug().Str("component", "strategy").Int("index", i).Float64("rsi", r).
					Msg("death cross filtered by RSI")
			} else {
				cur = Flat
			}
		}
		out[i] = cur
		prevRaw = p
	}
	return out, nil
}
