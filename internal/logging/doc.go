// Package logging constructs the process-wide slog logger with console and
// JSON output formats and exposes small attribute helpers shared across
// components.
package logging
