package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"backtest-systemv1/internal/model"
)

// Response is the body of every JSON reply.
type Response struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

var validate = validator.New()

// bindAndValidate decodes the body into req and checks its validate tags.
// Failures wrap model.ErrValidation.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return fmt.Errorf("%w: %v", model.ErrValidation, he.Message)
		}
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return nil
}

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, Response{Status: http.StatusOK, Message: http.StatusText(http.StatusOK), Data: data})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrMisaligned):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrEmptyData):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse writes err with the status statusFor picks.
func errorResponse(c echo.Context, err error) error {
	code := statusFor(err)
	return c.JSON(code, Response{Status: code, Message: http.StatusText(code), Error: err.Error()})
}
