// Package logger configures log/slog for the progress core and carries a
// request-scoped *slog.Logger through context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Options controls the root logger.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string
	// Format is "json" or "text".
	Format string
	// Output defaults to os.Stdout.
	Output io.Writer
	// AddSource includes file:line in records.
	AddSource bool
}

// ParseLevel parses a level name, case-insensitively. Unknown names return
// slog.LevelInfo and false.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// New builds a logger from opts without touching the process default.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	level, _ := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: level, AddSource: opts.AddSource}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(handler)
}

// Setup builds the root logger and installs it as slog's default.
func Setup(opts Options) *slog.Logger {
	log := New(opts)
	if _, ok := ParseLevel(opts.Level); !ok {
		log.Warn("invalid log level configured, using info", slog.String("configured_level", opts.Level))
	}
	slog.SetDefault(log)
	return log
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

type ctxKey struct{}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or fallback (or slog.Default()) if none.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return OrDefault(fallback)
}

// Common attributes.

func Component(name string) slog.Attr     { return slog.String("component", name) }
func Operation(name string) slog.Attr     { return slog.String("operation", name) }
func Scope(id string) slog.Attr           { return slog.String("scope_id", id) }
func ModuleID(id string) slog.Attr        { return slog.String("module_id", id) }
func CardID(id string) slog.Attr          { return slog.String("card_id", id) }
func PlanID(id string) slog.Attr          { return slog.String("plan_id", id) }
func Version(v int64) slog.Attr           { return slog.Int64("version", v) }
func XP(xp int) slog.Attr                 { return slog.Int("xp", xp) }
func Latency(d time.Duration) slog.Attr   { return slog.Duration("latency", d) }
func Err(err error) slog.Attr             { return slog.Any("error", err) }
