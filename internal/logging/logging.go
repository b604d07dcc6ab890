// Package logging provides structured logging for the beacon service.
//
// It wraps the standard library's log/slog package so every component logs
// through the same handler with a consistent attribute vocabulary.
//
// Usage:
//
//	logging.Init("info", false) // text output
//	log := logging.Component("storage")
//	log.Info("backend ready", "backend", "duckdb")
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are emitted as JSON; otherwise human-readable text.
func Init(level string, jsonFormat bool) {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// InitWithHandler initializes the global logger with a custom handler.
// Useful for tests that want to capture output.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// Component returns a logger for a specific component. The component name is
// attached to every entry from the returned logger.
func Component(name string) *slog.Logger {
	if Logger == nil {
		Init("info", false)
	}
	return Logger.With("component", name)
}

// With returns a new logger carrying additional attributes.
func With(args ...any) *slog.Logger {
	if Logger == nil {
		Init("info", false)
	}
	return Logger.With(args...)
}

// WithContext returns a logger that includes request-scoped values stored in
// the context (visitor session, client address).
func WithContext(ctx context.Context) *slog.Logger {
	if Logger == nil {
		Init("info", false)
	}

	logger := Logger
	if sessionID, ok := ctx.Value(contextKeySessionID).(string); ok {
		logger = logger.With("session_id", sessionID)
	}
	if addr, ok := ctx.Value(contextKeyClientAddr).(string); ok {
		logger = logger.With("client_addr", addr)
	}
	return logger
}

type contextKey int

const (
	contextKeySessionID contextKey = iota
	contextKeyClientAddr
)

// ContextWithSessionID adds a visitor session ID to the context for logging.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, contextKeySessionID, sessionID)
}

// ContextWithClientAddr adds the client network address to the context for logging.
func ContextWithClientAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, contextKeyClientAddr, addr)
}

// Debug logs at debug level on the global logger.
func Debug(msg string, args ...any) {
	if Logger == nil {
		Init("info", false)
	}
	Logger.Debug(msg, args...)
}

// Info logs at info level on the global logger.
func Info(msg string, args ...any) {
	if Logger == nil {
		Init("info", false)
	}
	Logger.Info(msg, args...)
}

// Warn logs at warning level on the global logger.
func Warn(msg string, args ...any) {
	if Logger == nil {
		Init("info", false)
	}
	Logger.Warn(msg, args...)
}

// Error logs at error level on the global logger.
func Error(msg string, args ...any) {
	if Logger == nil {
		Init("info", false)
	}
	Logger.Error(msg, args...)
}
