// Package logger provides structured logging for ksefbridge.
//
// It wraps log/slog:
//
//   - logger.go: handler construction, dynamic level, the Logger interface
//   - context.go: request, tenant and run IDs carried in a context
//   - redact.go: masking of secrets and tax identification numbers
//
// Components receive a *slog.Logger built by NewSlog so every record passes
// through the same redaction.
package logger
