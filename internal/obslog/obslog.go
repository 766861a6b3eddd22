// Package obslog configures and hands out the module's structured loggers.
// Adapted from the teacher's internal/logging package: same
// level-string-to-slog.Level mapping and JSON-handler setup, with the
// domain-specific With* helpers replaced by ones keyed to queries and
// mutations instead of peers and file transfers.
package obslog

import (
	"log/slog"
	"os"
)

// Configure sets up structured JSON logging at the given level and installs
// it as the process default.
func Configure(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: true,
	})
	slog.SetDefault(slog.New(handler))
}

// Logger returns a logger scoped to component.
func Logger(component string) *slog.Logger {
	return slog.With("component", component)
}

// WithError scopes a logger to an error.
func WithError(err error) *slog.Logger {
	return slog.With("error", err.Error())
}

// WithQueryHash scopes a logger to a query hash, for fetch/cache log lines.
func WithQueryHash(hash string) *slog.Logger {
	return slog.With("queryHash", hash)
}

// WithMutationID scopes a logger to a mutation ID.
func WithMutationID(id string) *slog.Logger {
	return slog.With("mutationId", id)
}

// WithAttempt scopes a logger to a retry attempt number.
func WithAttempt(attempt int) *slog.Logger {
	return slog.With("attempt", attempt)
}
