package api

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"backtest-systemv1/internal/model"
	"backtest-systemv1/internal/scan"
	"backtest-systemv1/internal/service"
)

// ScanResponse carries scan results and whether they came from the cache.
type ScanResponse struct {
	Cached  bool              `json:"cached"`
	Results []scan.ScanResult `json:"results"`
}

// Backtest handles POST /api/backtest.
func (s *Server) Backtest(c echo.Context) error {
	var req service.RunRequest
	if err := bindAndValidate(c, &req); err != nil {
		return errorResponse(c, err)
	}
	out, err := s.runner.Backtest(c.Request().Context(), req)
	if err != nil {
		return s.runError(c, "backtest", err)
	}
	return ok(c, out)
}

// Optimize handles POST /api/optimize.
func (s *Server) Optimize(c echo.Context) error {
	var req service.RunRequest
	if err := bindAndValidate(c, &req); err != nil {
		return errorResponse(c, err)
	}
	out, err := s.runner.Optimize(c.Request().Context(), req)
	if err != nil {
		return s.runError(c, "optimize", err)
	}
	return ok(c, out)
}

// WalkForward handles POST /api/walkforward.
func (s *Server) WalkForward(c echo.Context) error {
	var req service.RunRequest
	if err := bindAndValidate(c, &req); err != nil {
		return errorResponse(c, err)
	}
	out, err := s.runner.WalkForward(c.Request().Context(), req)
	if err != nil {
		return s.runError(c, "walkforward", err)
	}
	return ok(c, out)
}

// Scan handles POST /api/scan.
func (s *Server) Scan(c echo.Context) error {
	var req scan.ScanRequest
	if err := bindAndValidate(c, &req); err != nil {
		return errorResponse(c, err)
	}
	results, cached, err := s.runner.Scan(c.Request().Context(), req)
	if err != nil {
		return s.runError(c, "scan", err)
	}
	return ok(c, ScanResponse{Cached: cached, Results: results})
}

// Runs handles GET /api/runs?kind=&limit=.
func (s *Server) Runs(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			return errorResponse(c, model.ErrValidation)
		}
		limit = n
	}
	runs, err := s.runner.Runs(c.QueryParam("kind"), limit)
	if err != nil {
		return s.runError(c, "runs", err)
	}
	if runs == nil {
		runs = []model.RunRecord{}
	}
	return ok(c, runs)
}

// Indicators handles GET /api/indicators?ticker=&start_date=&end_date=&specs=.
func (s *Server) Indicators(c echo.Context) error {
	req := service.RunRequest{
		Ticker:    c.QueryParam("ticker"),
		StartDate: c.QueryParam("start_date"),
		EndDate:   c.QueryParam("end_date"),
	}
	specs := c.QueryParam("specs")
	if specs == "" {
		specs = "SMA:20,RSI:14"
	}
	frame, err := s.runner.Indicators(req, specs)
	if err != nil {
		return s.runError(c, "indicators", err)
	}
	return ok(c, frame)
}

func (s *Server) runError(c echo.Context, op string, err error) error {
	if statusFor(err) >= 500 {
		s.log.Error().Err(err).Str("op", op).Msg("request failed")
	} else {
		s.log.Debug().Err(err).Str("op", op).Msg("request rejected")
	}
	return errorResponse(c, err)
}
