package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"backtest-systemv1/internal/model"
)

const (
	defaultBatchSize = 500
	dsnOptions       = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath   string              // path to SQLite database file, e.g. "data/backtest.db"
	OnCommit func(time.Duration) // optional commit latency hook
}

// Writer persists daily bars and backtest runs. It uses a single connection
// so writes are serialized.
type Writer struct {
	db       *sql.DB
	onCommit func(time.Duration)
	log      zerolog.Logger
}

var (
	_ model.BarWriter = (*Writer)(nil)
	_ model.RunWriter = (*Writer)(nil)
)

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	l := log.With().Str("component", "sqlite").Logger()
	l.Info().Str("path", cfg.DBPath).Msg("opened database")
	return &Writer{db: db, onCommit: cfg.OnCommit, log: l}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars_daily (
			ticker     TEXT    NOT NULL,
			date       TEXT    NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (ticker, date)
		);

		CREATE TABLE IF NOT EXISTS backtest_runs (
			run_id       TEXT    PRIMARY KEY,
			kind         TEXT    NOT NULL,
			ticker       TEXT    NOT NULL,
			params       TEXT    NOT NULL DEFAULT '{}',
			final_value  REAL    NOT NULL,
			total_return REAL,
			sharpe       REAL,
			max_drawdown REAL,
			num_trades   INTEGER NOT NULL,
			created_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_created_at ON backtest_runs(created_at);

		CREATE TABLE IF NOT EXISTS backtest_trades (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id         TEXT    NOT NULL REFERENCES backtest_runs(run_id),
			ticker         TEXT    NOT NULL,
			entry_date     TEXT    NOT NULL,
			exit_date      TEXT    NOT NULL,
			entry_price    REAL    NOT NULL,
			exit_price     REAL    NOT NULL,
			adj_entry      REAL    NOT NULL,
			adj_exit       REAL    NOT NULL,
			shares         REAL    NOT NULL,
			commission     REAL    NOT NULL,
			slippage       REAL    NOT NULL,
			net_pnl        REAL    NOT NULL,
			return_pct     REAL    NOT NULL,
			regime         TEXT,
			exit_reason    TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_trades_run ON backtest_trades(run_id);
		CREATE INDEX IF NOT EXISTS idx_trades_ticker ON backtest_trades(ticker);
	`)
	return err
}

// WriteBars upserts the bars of series in batched transactions and returns
// the number written.
func (w *Writer) WriteBars(ctx context.Context, series model.PriceSeries) (int, error) {
	written := 0
	for start := 0; start < series.Len(); start += defaultBatchSize {
		end := start + defaultBatchSize
		if end > series.Len() {
			end = series.Len()
		}
		if err := w.insertBars(ctx, series.Ticker, series.Bars[start:end]); err != nil {
			return written, fmt.Errorf("sqlite write bars %s: %w", series.Ticker, err)
		}
		written += end - start
	}
	w.log.Debug().Str("ticker", series.Ticker).Int("bars", written).Msg("bars written")
	return written, nil
}

// insertBars inserts a batch of bars in a single transaction.
func (w *Writer) insertBars(ctx context.Context, ticker string, bars []model.Bar) error {
	return w.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO bars_daily (ticker, date, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, b := range bars {
			if _, err := stmt.ExecContext(ctx, ticker, b.Date.Format(model.DateLayout),
				b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveRun stores a run summary and its trade log in one transaction.
func (w *Writer) SaveRun(ctx context.Context, run model.RunRecord, trades []model.Trade) error {
	err := w.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backtest_runs (run_id, kind, ticker, params, final_value, total_return, sharpe, max_drawdown, num_trades, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.RunID, run.Kind, run.Ticker, run.Params, run.FinalValue, nullable(run.TotalReturn),
			nullable(run.Sharpe), nullable(run.MaxDrawdown), run.NumTrades, run.CreatedAt.Unix()); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO backtest_trades (run_id, ticker, entry_date, exit_date, entry_price, exit_price,
				adj_entry, adj_exit, shares, commission, slippage, net_pnl, return_pct, regime, exit_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range trades {
			if _, err := stmt.ExecContext(ctx, run.RunID, t.Ticker,
				t.EntryDate.Format(model.DateLayout), t.ExitDate.Format(model.DateLayout),
				t.EntryPrice, t.ExitPrice, t.AdjustedEntryPrice, t.AdjustedExitPrice, t.Shares,
				t.CommissionCost, t.SlippageCost, t.NetPnL, t.ReturnPct,
				string(t.RegimeAtEntry), string(t.ExitReason)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlite save run %s: %w", run.RunID, err)
	}
	w.log.Info().Str("run_id", run.RunID).Str("kind", run.Kind).Int("trades", len(trades)).Msg("run saved")
	return nil
}

func (w *Writer) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	start := time.Now()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if w.onCommit != nil {
		w.onCommit(time.Since(start))
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
