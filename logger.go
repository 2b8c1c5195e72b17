package mosaic

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely,
// making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := slog.New(nopHandler{})
	loggerPtr.Store(l)
}

// SetLogger configures the default logger for new services. By default
// no log output is produced. Pass nil to restore the silent default.
// Safe for concurrent use.
//
// Log levels used:
//   - [slog.LevelDebug]: per-raster events (patches, materializations)
//   - [slog.LevelInfo]: lifecycle events (service open/close, rebuilds)
//   - [slog.LevelWarn]: refresh failures and dropped refresh tasks
//   - [slog.LevelError]: storage failures and write-path rollbacks
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Logger returns the current package logger. A Service captures the
// logger once at construction (or the one injected via WithLogger).
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
