// Package logger builds the gateway's log/slog logger: JSON records in prod,
// human-readable text elsewhere, each tagged with the environment.
package logger
