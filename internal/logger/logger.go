// Package logger provides structured logging on top of zerolog.
// It sets up a JSON (or console) logger with service-level context and
// propagates backtest run IDs through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const runIDKey ctxKey = "run_id"

// Config selects level, format and destination.
type Config struct {
	Level  string `yaml:"level" default:"info"`    // debug, info, warn, error
	Format string `yaml:"format" default:"json"`   // json or console
	Output string `yaml:"output" default:"stdout"` // stdout, stderr, or file path
}

// Init creates a JSON logger on stdout for the given service and installs
// it as the global zerolog logger. An unparsable level falls back to info.
func Init(service string, level string) zerolog.Logger {
	l, err := New(service, Config{Level: level, Format: "json", Output: "stdout"})
	if err != nil {
		l, _ = New(service, Config{Level: "info", Format: "json", Output: "stdout"})
	}
	return l
}

// New builds a logger from cfg and installs it as the global logger.
func New(service string, cfg Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("could not open log file: %w", err)
		}
		output = file
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	log.Logger = l
	return l, nil
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// WithRunID stores a run ID in the context for downstream propagation.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID extracts the run ID from context. Returns "" if not set.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns the global logger, tagged with run_id when the
// context carries one.
func FromContext(ctx context.Context) zerolog.Logger {
	if id := RunID(ctx); id != "" {
		return log.With().Str("run_id", id).Logger()
	}
	return log.Logger
}
