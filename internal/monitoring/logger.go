// Package monitoring provides structured logging, operational counters, and
// the request-lifecycle log.
//
// DESIGN: Thin wrapper around zerolog. Global() installs the configured
// logger as the process-wide default; packages log through zerolog/log.
// Format "auto" picks console output on a terminal and JSON elsewhere.
package monitoring

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

type contextKey string

// RequestIDKey carries the request id through context for tracing.
const RequestIDKey contextKey = "request_id"

// LoggerConfig controls log level, format, and destination.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // json, console, auto
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// NewLogger builds a zerolog.Logger from the configuration.
func NewLogger(cfg LoggerConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writer io.Writer
	switch cfg.Output {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			writer = os.Stdout
		} else {
			writer = f
		}
	}

	format := cfg.Format
	if format == "auto" || format == "" {
		if f, ok := writer.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = "console"
		} else {
			format = "json"
		}
	}
	if format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// Global installs the configured logger as the process default.
func Global(cfg LoggerConfig) {
	log.Logger = NewLogger(cfg)
}

// RequestIDFromContext retrieves the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID returns a context carrying the request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}
