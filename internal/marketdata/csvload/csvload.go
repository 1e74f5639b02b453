// Package csvload reads daily OHLCV bars from CSV files.
//
// The header row must name date, open, high, low and close columns; volume
// is optional and extra columns are ignored. Header names are matched
// case-insensitively. Rows may be in any date order.
package csvload

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"backtest-systemv1/internal/model"
)

var required = []string{"date", "open", "high", "low", "close"}

// LoadFile reads path. An empty ticker is taken from the file name.
func LoadFile(path, ticker string) (model.PriceSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if ticker == "" {
		ticker = TickerFromPath(path)
	}
	return Load(f, ticker)
}

// TickerFromPath returns the upper-cased base name of path without its
// extension ("data/aapl.csv" -> "AAPL").
func TickerFromPath(path string) string {
	base := filepath.Base(path)
	return strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
}

// Load parses CSV from r into a date-ascending series. Rows holding "null"
// or empty prices are skipped; a duplicate date is an error.
func Load(r io.Reader, ticker string) (model.PriceSeries, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return model.PriceSeries{}, fmt.Errorf("%s: %w: csv has no header", ticker, model.ErrEmptyData)
	}
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("%s: read csv header: %w", ticker, err)
	}
	cols, err := columns(header)
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("%s: %w", ticker, err)
	}

	var bars []model.Bar
	skipped := 0
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.PriceSeries{}, fmt.Errorf("%s: csv line %d: %w", ticker, line, err)
		}
		bar, ok, err := parseRow(rec, cols)
		if err != nil {
			return model.PriceSeries{}, fmt.Errorf("%s: csv line %d: %w", ticker, line, err)
		}
		if !ok {
			skipped++
			continue
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	series, err := model.NewPriceSeries(ticker, bars)
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("%s: %w", ticker, err)
	}
	log.Debug().
		Str("component", "csvload").
		Str("ticker", ticker).
		Int("bars", series.Len()).
		Int("skipped", skipped).
		Msg("csv loaded")
	return series, nil
}

// columns maps lower-cased header names to their index.
func columns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	var missing []string
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: csv header missing column(s): %s", model.ErrValidation, strings.Join(missing, ", "))
	}
	return cols, nil
}

// parseRow returns ok=false for rows without usable prices.
func parseRow(rec []string, cols map[string]int) (model.Bar, bool, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	date, err := parseDate(field("date"))
	if err != nil {
		return model.Bar{}, false, err
	}
	bar := model.Bar{Date: date}
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
	} {
		raw := field(p.name)
		if raw == "" || strings.EqualFold(raw, "null") {
			return model.Bar{}, false, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.Bar{}, false, fmt.Errorf("%w: %s %q is not a number", model.ErrValidation, p.name, raw)
		}
		*p.dst = v
	}
	if raw := field("volume"); raw != "" && !strings.EqualFold(raw, "null") {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.Bar{}, false, fmt.Errorf("%w: volume %q is not a number", model.ErrValidation, raw)
		}
		bar.Volume = v
	}
	return bar, true, nil
}

// parseDate accepts 2006-01-02 and RFC 3339 timestamps, truncated to the
// UTC date.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(model.DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		y, m, d := t.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("%w: date %q is not %s", model.ErrValidation, s, model.DateLayout)
}
