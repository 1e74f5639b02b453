// Package service orchestrates runs for the CLI and the HTTP API.
//
// Each run loads its complete price history first, then runs the engine,
// journals the outcome and forwards the report to the optional sinks
// (Kafka, websocket hub). Sink failures are logged and never fail a run.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"backtest-systemv1/config"
	"backtest-systemv1/internal/backtest"
	"backtest-systemv1/internal/gateway"
	"backtest-systemv1/internal/logger"
	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/notification"
	"backtest-systemv1/internal/optimizer"
	"backtest-systemv1/internal/scan"
)

// Run kinds stored in the journal.
const (
	KindBacktest    = "backtest"
	KindOptimize    = "optimize"
	KindWalkForward = "walkforward"
)

// RunLister reads the run journal.
type RunLister interface {
	ListRuns(kind string, limit int) ([]model.RunRecord, error)
}

// ReportPublisher forwards finished reports downstream.
type ReportPublisher interface {
	PublishReport(ctx context.Context, runID string, report any) error
}

// ScanCache caches scan results.
type ScanCache interface {
	Get(ctx context.Context, req scan.ScanRequest) ([]scan.ScanResult, bool, error)
	Set(ctx context.Context, req scan.ScanRequest, results []scan.ScanResult) error
}

// ProgressHub receives job events.
type ProgressHub interface {
	Publish(job, eventType string, data any) error
	ProgressFunc(job string) func(optimizer.Progress)
}

// Notifier delivers run alerts.
type Notifier interface {
	Send(ctx context.Context, alert notification.Alert) error
}

// Observer collects engine and sweep events, e.g. *metrics.Metrics.
type Observer interface {
	backtest.Observer
	optimizer.SweepObserver
}

// Deps are the collaborators of a Service. Prices is required.
type Deps struct {
	Prices    model.PriceReader
	Runs      model.RunWriter
	Journal   RunLister
	Publisher ReportPublisher
	Cache     ScanCache
	Hub       ProgressHub
	Observer  Observer
	Notifier  Notifier
	OnRun     func(runID string)
}

// Service runs backtests, sweeps, walk-forward analyses and scans.
type Service struct {
	cfg  *config.Config
	deps Deps
	now  func() time.Time
	log  zerolog.Logger
}

// New creates a Service on top of the loaded configuration.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("service: nil config")
	}
	if deps.Prices == nil {
		return nil, errors.New("service: a price reader is required")
	}
	return &Service{cfg: cfg, deps: deps, now: time.Now, log: logger.Component("service")}, nil
}

// RunRequest overrides the configured ticker, date range and windows.
// Zero fields keep the configured values.
type RunRequest struct {
	Ticker        string `json:"ticker"`
	StartDate     string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate       string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	ShortMA       int    `json:"ma_short" validate:"gte=0"`
	LongMA        int    `json:"ma_long" validate:"gte=0"`
	RSIPeriod     int    `json:"rsi_period" validate:"gte=0"`
	IncludeEquity bool   `json:"include_equity"`
}

// resolved is a RunRequest merged with the configuration.
type resolved struct {
	ticker   string
	from, to time.Time
	tmpl     optimizer.Template
}

func (s *Service) resolve(req RunRequest) (resolved, error) {
	r := resolved{ticker: s.cfg.Ticker, from: s.cfg.Start(), to: s.cfg.End()}
	if t := strings.ToUpper(strings.TrimSpace(req.Ticker)); t != "" {
		r.ticker = t
	}
	var err error
	if req.StartDate != "" {
		if r.from, err = time.Parse(model.DateLayout, req.StartDate); err != nil {
			return r, fmt.Errorf("%w: start_date %q: %v", model.ErrValidation, req.StartDate, err)
		}
	}
	if req.EndDate != "" {
		if r.to, err = time.Parse(model.DateLayout, req.EndDate); err != nil {
			return r, fmt.Errorf("%w: end_date %q: %v", model.ErrValidation, req.EndDate, err)
		}
	}
	if !r.to.After(r.from) {
		return r, fmt.Errorf("%w: end date %s must be after start date %s", model.ErrValidation,
			r.to.Format(model.DateLayout), r.from.Format(model.DateLayout))
	}

	if r.tmpl, err = s.cfg.Template(); err != nil {
		return r, err
	}
	r.tmpl.Backtest.Ticker = r.ticker
	if req.ShortMA > 0 {
		r.tmpl.Strategy.Short = req.ShortMA
	}
	if req.LongMA > 0 {
		r.tmpl.Strategy.Long = req.LongMA
	}
	if req.RSIPeriod > 0 {
		r.tmpl.Strategy.RSIPeriod = req.RSIPeriod
	}
	return r, r.tmpl.Strategy.Validate()
}

// load reads the full history of r before any run starts.
func (s *Service) load(r resolved) (model.PriceSeries, error) {
	series, err := s.deps.Prices.ReadSeries(r.ticker, r.from, r.to)
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("load %s: %w", r.ticker, err)
	}
	if series.Len() == 0 {
		return model.PriceSeries{}, fmt.Errorf("load %s %s..%s: %w", r.ticker,
			r.from.Format(model.DateLayout), r.to.Format(model.DateLayout), model.ErrEmptyData)
	}
	return series, nil
}

func (s *Service) engineOptions() []backtest.Option {
	if s.deps.Observer == nil {
		return nil
	}
	return []backtest.Option{backtest.WithObserver(s.deps.Observer)}
}

func (s *Service) optimizerOptions(runID string) []optimizer.Option {
	opts := []optimizer.Option{optimizer.WithWorkers(s.cfg.Optimizer.Workers)}
	if s.deps.Observer != nil {
		opts = append(opts, optimizer.WithObserver(s.deps.Observer), optimizer.WithSweepObserver(s.deps.Observer))
	}
	if s.deps.Hub != nil {
		hub := s.deps.Hub
		opts = append(opts,
			optimizer.WithProgress(hub.ProgressFunc(runID)),
			optimizer.WithFoldDone(func(f optimizer.FoldResult) {
				if err := hub.Publish(runID, gateway.EventFold, f); err != nil {
					s.log.Warn().Err(err).Str("run_id", runID).Msg("announce fold")
				}
			}),
		)
	}
	return opts
}

// finish journals, publishes and announces a completed run.
func (s *Service) finish(ctx context.Context, rec model.RunRecord, trades []model.Trade, report any) {
	l := logger.FromContext(ctx)
	if s.deps.Runs != nil {
		if err := s.deps.Runs.SaveRun(ctx, rec, trades); err != nil {
			l.Error().Err(err).Msg("journal run")
		}
	}
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishReport(ctx, rec.RunID, report); err != nil {
			l.Warn().Err(err).Msg("publish report")
		}
	}
	if s.deps.Hub != nil {
		if err := s.deps.Hub.Publish(rec.RunID, gateway.EventDone, rec); err != nil {
			l.Warn().Err(err).Msg("announce run")
		}
	}
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.Send(ctx, notification.RunFinished(rec)); err != nil {
			l.Warn().Err(err).Msg("notify run")
		}
	}
	if s.deps.OnRun != nil {
		s.deps.OnRun(rec.RunID)
	}
	l.Info().
		Str("kind", rec.Kind).
		Str("ticker", rec.Ticker).
		Float64("final_value", rec.FinalValue).
		Int("trades", rec.NumTrades).
		Msg("run finished")
}

// fail announces a failed run to websocket subscribers and the notifier.
func (s *Service) fail(ctx context.Context, kind, ticker, runID string, err error) {
	l := logger.FromContext(ctx)
	l.Error().Err(err).Str("kind", kind).Str("ticker", ticker).Msg("run failed")
	if s.deps.Hub != nil {
		if perr := s.deps.Hub.Publish(runID, gateway.EventError, map[string]string{"error": err.Error()}); perr != nil {
			l.Warn().Err(perr).Msg("announce failure")
		}
	}
	if s.deps.Notifier != nil {
		// The run context may already be cancelled.
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.deps.Notifier.Send(nctx, notification.RunFailed(kind, ticker, runID, err)); err != nil {
			l.Warn().Err(err).Msg("notify failure")
		}
	}
}

func (s *Service) record(runID, kind, ticker string, params any) model.RunRecord {
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte("{}")
	}
	return model.RunRecord{
		RunID:     runID,
		Kind:      kind,
		Ticker:    ticker,
		Params:    string(raw),
		CreatedAt: s.now().UTC(),
	}
}

// Runs lists journaled runs, newest first.
func (s *Service) Runs(kind string, limit int) ([]model.RunRecord, error) {
	if s.deps.Journal == nil {
		return nil, errors.New("service: run journal not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	return s.deps.Journal.ListRuns(kind, limit)
}

// Config returns the configuration the service runs with.
func (s *Service) Config() *config.Config { return s.cfg }
