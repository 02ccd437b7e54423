// Package logging provides structured logging for Lumacore, wrapping the
// standard library's log/slog with configuration-driven setup.
package logging
