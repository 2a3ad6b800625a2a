// Package logging provides structured logging for the fleet host process.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type contextKey string

const loggerKey contextKey = "logger"

// New creates a new structured logger.
func New(level string, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// Tenant returns a logger scoped to one tenant. Every log line produced
// while operating on a tenant carries its ID so fleet-wide logs can be
// filtered per tenant.
func Tenant(logger *slog.Logger, tenantID string) *slog.Logger {
	return logger.With("tenant_id", tenantID)
}

// TenantUser returns a logger scoped to one end user within a tenant.
func TenantUser(logger *slog.Logger, tenantID, userID string) *slog.Logger {
	return logger.With("tenant_id", tenantID, "user_id", userID)
}

// RedactCredential returns a loggable form of a platform credential:
// the first 8 characters followed by an ellipsis. Credentials are never
// logged in full.
func RedactCredential(credential string) string {
	if len(credential) <= 8 {
		return "********"
	}
	return credential[:8] + "…"
}
