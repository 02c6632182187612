// Package logger wraps log/slog behind a small interface shared by the whole service.
// Credentials (passwords, tokens, secrets) are redacted before any handler sees them.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Environments with their own log format
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

type handlerFactory func(io.Writer, *slog.HandlerOptions) slog.Handler

var (
	textHandler handlerFactory = func(w io.Writer, o *slog.HandlerOptions) slog.Handler { return slog.NewTextHandler(w, o) }
	jsonHandler handlerFactory = func(w io.Writer, o *slog.HandlerOptions) slog.Handler { return slog.NewJSONHandler(w, o) }
)

// New picks log format by environment: JSON for prod, text otherwise
func New(env string, level string) (Logger, error) {
	if env == EnvProd {
		return NewJSONLogger(level)
	}
	return NewTextLogger(level)
}

func NewTextLogger(level string) (Logger, error) {
	return newLogger(os.Stderr, level, textHandler)
}

func NewJSONLogger(level string) (Logger, error) {
	return newLogger(os.Stderr, level, jsonHandler)
}

// NewNoOpLogger discards everything. Used as default by services constructed without logger
func NewNoOpLogger() Logger {
	return &slogLogger{logger: slog.New(slog.DiscardHandler)}
}

func newLogger(w io.Writer, level string, factory handlerFactory) (Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger not created: %w", err)
	}

	h := factory(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   true,
		ReplaceAttr: replace,
	})

	return &slogLogger{logger: slog.New(h)}, nil
}
