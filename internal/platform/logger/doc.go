// Package logger sets up the process-wide slog JSON logger and carries
// request-scoped loggers and request IDs through a context.Context.
package logger
