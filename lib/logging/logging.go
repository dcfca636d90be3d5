// Package logging provides the application wide logger facade.
// Loggers are created per component via GetLogger and log through
// the process global slog handler configured with Init.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

var level = new(slog.LevelVar)

// Init configures the global logger. Call once at startup.
// levelStr is one of debug, info, warn, error (default: info).
func Init(levelStr string) {
	level.Set(ParseLevel(levelStr))

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// GetLogger returns a logger tagged with the given component name.
// The returned logger delegates to slog.Default() on every call, so
// package-level loggers created before Init pick up the configured
// handler as well.
//
// Usage:
//
//	var log = logging.GetLogger("store")
//	log.Info("bucket created", "bucket", name)
func GetLogger(component string) *slog.Logger {
	return slog.New(&componentHandler{component: component})
}

// SetLevel changes the log level at runtime.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ParseLevel converts a string level to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// componentHandler forwards every record to the current default handler,
// prepending a "component" attribute.
type componentHandler struct {
	component string
}

func (h *componentHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return slog.Default().Handler().Enabled(ctx, l)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.String("component", h.component))
	return slog.Default().Handler().Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return h
}
