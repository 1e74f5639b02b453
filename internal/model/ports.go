package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the engine and CLI from concrete storage
// implementations (SQLite, Redis, Kafka).

// PriceReader loads complete price histories. Loading always finishes before
// a backtest starts; the engine never fetches mid-run.
type PriceReader interface {
	// ReadSeries returns bars for ticker with from <= date <= to.
	// A zero from/to leaves that side unbounded.
	ReadSeries(ticker string, from, to time.Time) (PriceSeries, error)

	// Close releases underlying resources.
	Close() error
}

// BarWriter persists bars fetched or imported by a collaborator.
type BarWriter interface {
	WriteBars(ctx context.Context, series PriceSeries) (int, error)
	Close() error
}

// RunRecord is the persisted summary of one backtest run.
type RunRecord struct {
	RunID       string    `json:"run_id"`
	Kind        string    `json:"kind"` // backtest, optimize, walkforward
	Ticker      string    `json:"ticker"`
	Params      string    `json:"params"` // JSON-encoded parameters
	FinalValue  float64   `json:"final_value"`
	TotalReturn Float     `json:"total_return"`
	Sharpe      Float     `json:"sharpe"`
	MaxDrawdown Float     `json:"max_drawdown"`
	NumTrades   int       `json:"num_trades"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunWriter journals finished runs and their trade logs.
type RunWriter interface {
	SaveRun(ctx context.Context, run RunRecord, trades []Trade) error
	Close() error
}

// ResultPublisher forwards finished reports to downstream consumers.
type ResultPublisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}
