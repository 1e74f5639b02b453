package sqlite

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"backtest-systemv1/internal/model"
)

// Reader provides read access to price history and the run journal.
type Reader struct {
	db *sql.DB
}

var _ model.PriceReader = (*Reader)(nil)

// NewReader opens a SQLite connection for reading. The schema is created
// if missing so a fresh database reads as empty.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Debug().Str("component", "sqlite-reader").Str("path", dbPath).Msg("opened database")
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadSeries loads bars for ticker with from <= date <= to, ordered by date.
// A zero bound is open. No matching rows yields an empty series.
func (r *Reader) ReadSeries(ticker string, from, to time.Time) (model.PriceSeries, error) {
	query := `SELECT date, open, high, low, close, volume FROM bars_daily WHERE ticker = ?`
	args := []any{ticker}
	if !from.IsZero() {
		query += ` AND date >= ?`
		args = append(args, from.Format(model.DateLayout))
	}
	if !to.IsZero() {
		query += ` AND date <= ?`
		args = append(args, to.Format(model.DateLayout))
	}
	query += ` ORDER BY date ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("sqlite query bars_daily: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var date string
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return model.PriceSeries{}, fmt.Errorf("sqlite scan bars_daily: %w", err)
		}
		if b.Date, err = time.Parse(model.DateLayout, date); err != nil {
			return model.PriceSeries{}, fmt.Errorf("sqlite bars_daily %s: bad date %q: %w", ticker, date, err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return model.PriceSeries{}, err
	}
	return model.NewPriceSeries(ticker, bars)
}

// Tickers returns every ticker with stored bars, sorted.
func (r *Reader) Tickers() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT ticker FROM bars_daily ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query tickers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListRuns returns the last limit runs, newest first. An empty kind matches
// every kind.
func (r *Reader) ListRuns(kind string, limit int) ([]model.RunRecord, error) {
	query := `
		SELECT run_id, kind, ticker, params, final_value, total_return, sharpe, max_drawdown, num_trades, created_at
		FROM backtest_runs`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query backtest_runs: %w", err)
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var (
			run                   model.RunRecord
			ret, sharpe, drawdown sql.NullFloat64
			created               int64
		)
		if err := rows.Scan(&run.RunID, &run.Kind, &run.Ticker, &run.Params, &run.FinalValue,
			&ret, &sharpe, &drawdown, &run.NumTrades, &created); err != nil {
			return nil, fmt.Errorf("sqlite scan backtest_runs: %w", err)
		}
		run.TotalReturn = model.Float(fromNullable(ret))
		run.Sharpe = model.Float(fromNullable(sharpe))
		run.MaxDrawdown = model.Float(fromNullable(drawdown))
		run.CreatedAt = time.Unix(created, 0).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunTrades returns the trade log of a run in entry order.
func (r *Reader) RunTrades(runID string) ([]model.Trade, error) {
	rows, err := r.db.Query(`
		SELECT ticker, entry_date, exit_date, entry_price, exit_price, adj_entry, adj_exit,
			shares, commission, slippage, net_pnl, return_pct, regime, exit_reason
		FROM backtest_trades
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query backtest_trades: %w", err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var (
			t              model.Trade
			entry, exit    string
			regime, reason sql.NullString
		)
		if err := rows.Scan(&t.Ticker, &entry, &exit, &t.EntryPrice, &t.ExitPrice,
			&t.AdjustedEntryPrice, &t.AdjustedExitPrice, &t.Shares, &t.CommissionCost,
			&t.SlippageCost, &t.NetPnL, &t.ReturnPct, &regime, &reason); err != nil {
			return nil, fmt.Errorf("sqlite scan backtest_trades: %w", err)
		}
		t.EntryDate, _ = time.Parse(model.DateLayout, entry)
		t.ExitDate, _ = time.Parse(model.DateLayout, exit)
		t.RegimeAtEntry = model.Regime(regime.String)
		t.ExitReason = model.ExitReason(reason.String)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

// nullable maps NaN to NULL; SQLite has no NaN.
func nullable(v model.Float) any {
	if math.IsNaN(float64(v)) {
		return nil
	}
	return float64(v)
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
