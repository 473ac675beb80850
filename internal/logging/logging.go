// Package logging provides structured logging for the statehist application.
//
// This package wraps the standard library's log/slog package so every
// component logs the same way. It supports text and JSON output,
// configurable levels and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false)
//
//	// Get a component logger
//	log := logging.Component("historytree")
//	log.Debug("new root", "seq", seq, "depth", depth)
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
func Component(name string) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger.With("component", name)
}

// WithContext returns a component logger that includes context values.
func WithContext(ctx context.Context, name string) *slog.Logger {
	logger := Component(name)
	if id, ok := ctx.Value(contextKeyStateSystem).(string); ok {
		logger = logger.With("ssid", id)
	}
	return logger
}

type contextKey int

const (
	contextKeyStateSystem contextKey = iota
)

// ContextWithStateSystem adds a state system id to the context for logging.
func ContextWithStateSystem(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyStateSystem, id)
}
