// Package notification delivers run alerts to external channels
// (webhooks, Telegram).
package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"backtest-systemv1/internal/logger"
	"backtest-systemv1/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	RunID   string     `json:"run_id,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// RunFinished describes a completed run.
func RunFinished(rec model.RunRecord) Alert {
	msg := fmt.Sprintf("final value %.2f, %d trades, sharpe %.2f", rec.FinalValue, rec.NumTrades, float64(rec.Sharpe))
	return Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("%s %s finished", rec.Kind, rec.Ticker),
		Message: msg,
		RunID:   rec.RunID,
	}
}

// RunFailed describes a run that stopped with err.
func RunFailed(kind, ticker, runID string, err error) Alert {
	level := AlertWarning
	if !errors.Is(err, context.Canceled) && !errors.Is(err, model.ErrValidation) {
		level = AlertCritical
	}
	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("%s %s failed", kind, ticker),
		Message: err.Error(),
		RunID:   runID,
	}
}

// LogNotifier logs alerts (useful for development).
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.Component("notify")}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	n.log.Info().
		Str("level", string(alert.Level)).
		Str("run_id", alert.RunID).
		Str("title", alert.Title).
		Msg(alert.Message)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
