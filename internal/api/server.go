// Package api serves backtests, walk-forward analyses and scans over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"backtest-systemv1/internal/indicator"
	"backtest-systemv1/internal/logger"
	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/scan"
	"backtest-systemv1/internal/service"
)

// Runner is the part of service.Service the API exposes.
type Runner interface {
	Backtest(ctx context.Context, req service.RunRequest) (*service.BacktestOutcome, error)
	Optimize(ctx context.Context, req service.RunRequest) (*service.OptimizeOutcome, error)
	WalkForward(ctx context.Context, req service.RunRequest) (*service.WalkForwardOutcome, error)
	Scan(ctx context.Context, req scan.ScanRequest) ([]scan.ScanResult, bool, error)
	Runs(kind string, limit int) ([]model.RunRecord, error)
	Indicators(req service.RunRequest, specs string) (*indicator.Frame, error)
}

// Config configures the server. Nil handlers leave their route out.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Metrics         http.Handler // GET /metrics
	Health          http.Handler // GET /healthz
	WS              http.Handler // GET /ws
}

// Server wraps an echo instance.
type Server struct {
	echo   *echo.Echo
	runner Runner
	cfg    Config
	log    zerolog.Logger
}

// NewServer builds the router.
func NewServer(runner Runner, cfg Config) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, runner: runner, cfg: cfg, log: logger.Component("api")}
	e.Use(s.recoverer(), s.requestLogging())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	g := s.echo.Group("/api")
	g.POST("/backtest", s.Backtest)
	g.POST("/optimize", s.Optimize)
	g.POST("/walkforward", s.WalkForward)
	g.POST("/scan", s.Scan)
	g.GET("/runs", s.Runs)
	g.GET("/indicators", s.Indicators)

	if s.cfg.WS != nil {
		s.echo.GET("/ws", echo.WrapHandler(s.cfg.WS))
	}
	if s.cfg.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.cfg.Metrics))
	}
	if s.cfg.Health != nil {
		s.echo.GET("/healthz", echo.WrapHandler(s.cfg.Health))
	}
}

// Handler returns the root handler, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info().Msg("http server stopped")
	return nil
}
