package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"backtest-systemv1/internal/optimizer"
)

// Metrics holds all Prometheus metrics for the backtest service.
type Metrics struct {
	registry *prometheus.Registry

	BacktestsTotal   prometheus.Counter
	BacktestDur      prometheus.Histogram
	TradesOpened     prometheus.Counter
	TradesClosed     *prometheus.CounterVec // labels: outcome=win|loss
	SignalsSkipped   prometheus.Counter
	GridCellsTotal   *prometheus.CounterVec // labels: status=ok|failed
	GridCellsPending prometheus.Gauge
	SweepDur         prometheus.Histogram
	FoldsTotal       prometheus.Counter

	// Storage and transport
	SQLiteCommitDur          prometheus.Histogram
	ScanCacheRequests        *prometheus.CounterVec // labels: result=hit|miss|error
	RedisCircuitBreakerState prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	PublishedReports         *prometheus.CounterVec // labels: status=ok|error
	WSClients                prometheus.Gauge
}

// NewMetrics creates the metrics on a private registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,

		BacktestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_runs_total",
			Help: "Total backtests completed",
		}),
		BacktestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_run_duration_seconds",
			Help:    "Wall time of a single backtest run",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		TradesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_trades_opened_total",
			Help: "Long positions opened across all runs",
		}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_trades_closed_total",
			Help: "Positions closed across all runs (by outcome)",
		}, []string{"outcome"}),
		SignalsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_signals_skipped_total",
			Help: "Buy signals skipped for lack of cash",
		}),

		GridCellsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_grid_cells_total",
			Help: "Grid cells evaluated (by status)",
		}, []string{"status"}),
		GridCellsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optimizer_grid_cells_pending",
			Help: "Cells of the current sweep not yet evaluated",
		}),
		SweepDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "optimizer_sweep_duration_seconds",
			Help:    "Wall time of a full grid search",
			Buckets: prometheus.DefBuckets,
		}),
		FoldsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optimizer_walkforward_folds_total",
			Help: "Walk-forward folds analysed",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "store_sqlite_commit_duration_seconds",
			Help:    "SQLite transaction commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		ScanCacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_scan_cache_requests_total",
			Help: "Scan cache lookups (by result)",
		}, []string{"result"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "store_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "store_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		PublishedReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_kafka_reports_published_total",
			Help: "Reports published to Kafka (by status)",
		}, []string{"status"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_ws_clients",
			Help: "Connected progress websocket clients",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.BacktestsTotal,
		m.BacktestDur,
		m.TradesOpened,
		m.TradesClosed,
		m.SignalsSkipped,
		m.GridCellsTotal,
		m.GridCellsPending,
		m.SweepDur,
		m.FoldsTotal,
		m.SQLiteCommitDur,
		m.ScanCacheRequests,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.PublishedReports,
		m.WSClients,
	)

	return m
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TradeOpened, TradeClosed, SignalSkipped and BacktestCompleted implement
// backtest.Observer.

func (m *Metrics) TradeOpened() { m.TradesOpened.Inc() }

func (m *Metrics) TradeClosed(netPnL float64) {
	outcome := "loss"
	if netPnL > 0 {
		outcome = "win"
	}
	m.TradesClosed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SignalSkipped() { m.SignalsSkipped.Inc() }

func (m *Metrics) BacktestCompleted(d time.Duration) {
	m.BacktestsTotal.Inc()
	m.BacktestDur.Observe(d.Seconds())
}

// SweepStarted, CellEvaluated, SweepCompleted and FoldAnalysed implement
// optimizer.SweepObserver.

// SweepStarted sets the pending gauge for a sweep of total cells.
func (m *Metrics) SweepStarted(total int) { m.GridCellsPending.Set(float64(total)) }

func (m *Metrics) CellEvaluated(p optimizer.Progress) {
	status := "ok"
	if p.Failed {
		status = "failed"
	}
	m.GridCellsTotal.WithLabelValues(status).Inc()
	m.GridCellsPending.Set(float64(p.Total - p.Done))
}

// SweepCompleted records the duration of a finished sweep.
func (m *Metrics) SweepCompleted(d time.Duration) {
	m.SweepDur.Observe(d.Seconds())
	m.GridCellsPending.Set(0)
}

// FoldAnalysed counts one walk-forward fold.
func (m *Metrics) FoldAnalysed() { m.FoldsTotal.Inc() }

// CacheLookup and BreakerStateChanged implement redis.CacheObserver.

func (m *Metrics) CacheLookup(result string) { m.ScanCacheRequests.WithLabelValues(result).Inc() }

func (m *Metrics) BreakerStateChanged(to int, tripped bool) {
	m.RedisCircuitBreakerState.Set(float64(to))
	if tripped {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// ReportPublished counts one Kafka publish by status.
func (m *Metrics) ReportPublished(status string) { m.PublishedReports.WithLabelValues(status).Inc() }
