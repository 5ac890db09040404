// Package logging implements the structured logger.
//
// Grounded in the teacher's telemetry/logging.Logger wrapper (a thin
// correlation layer over log/slog); generalized here into a three-destination
// fan-out with size-triggered rotation, since the teacher's version logs to
// a single slog.Logger only. Rotation uses gopkg.in/natefinch/lumberjack.v2,
// the ecosystem-standard rotating writer (no pack repo already wires one —
// see DESIGN.md).
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edukz/vagas-scrapy-sub001/trace"
)

// LevelCritical sits above slog's built-in levels so critical records are
// never filtered out by an error-only destination.
const LevelCritical = slog.Level(12)

// Config controls where and how records are rotated to disk.
type Config struct {
	Dir         string // directory holding main.log, debug.log, errors.log
	MaxSizeMB   int    // size-triggered rollover threshold
	MaxBackups  int    // bounded backup count
	MaxAgeDays  int
	Compress    bool
	ConsoleEcho bool // also write the message of each Info record to stderr; Warn/Error/Critical are not echoed
}

func (c Config) withDefaults() Config {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 50
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 14
	}
	return c
}

// Logger emits one JSON object per line, fanned out across the three
// destinations whose level thresholds it satisfies, and supports a
// component-scoped child plus a performance-tracking helper.
type Logger struct {
	component string
	main      *slog.Logger
	debug     *slog.Logger
	errors    *slog.Logger
	console   bool
}

// New constructs a Logger writing under cfg.Dir. If cfg.Dir is empty, all
// destinations degrade to stderr (useful for tests and simple CLI runs).
func New(cfg Config) (*Logger, error) {
	cfg = cfg.withDefaults()

	mainW, debugW, errW, err := openSinks(cfg)
	if err != nil {
		return nil, err
	}

	return &Logger{
		main:    slog.New(slog.NewJSONHandler(mainW, &slog.HandlerOptions{Level: slog.LevelInfo})),
		debug:   slog.New(slog.NewJSONHandler(debugW, &slog.HandlerOptions{Level: slog.LevelDebug})),
		errors:  slog.New(slog.NewJSONHandler(errW, &slog.HandlerOptions{Level: slog.LevelError})),
		console: cfg.ConsoleEcho,
	}, nil
}

func openSinks(cfg Config) (main, debug, errs *lumberjackOrStderr, e error) {
	if cfg.Dir == "" {
		s := &lumberjackOrStderr{w: os.Stderr}
		return s, s, s, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, nil, nil, err
	}
	mk := func(name string) *lumberjackOrStderr {
		return &lumberjackOrStderr{w: &lumberjack.Logger{
			Filename:   cfg.Dir + "/" + name,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}}
	}
	return mk("main.log"), mk("debug.log"), mk("errors.log"), nil
}

// lumberjackOrStderr lets New degrade cleanly without conditionals sprinkled
// through the handler wiring.
type lumberjackOrStderr struct{ w interface{ Write([]byte) (int, error) } }

func (s *lumberjackOrStderr) Write(p []byte) (int, error) { return s.w.Write(p) }

// With returns a child logger tagged with component, the way every spec
// record carries a non-empty "component" field.
func (l *Logger) With(component string) *Logger {
	cp := *l
	cp.component = component
	return &cp
}

func (l *Logger) attrs(ctx context.Context, extra ...any) []any {
	out := make([]any, 0, len(extra)+4)
	if l.component != "" {
		out = append(out, slog.String("component", l.component))
	}
	if id := trace.ID(ctx); id != "" {
		out = append(out, slog.String("trace_id", id))
	}
	out = append(out, extra...)
	return out
}

func (l *Logger) Debug(ctx context.Context, msg string, attrs ...any) {
	l.debug.DebugContext(ctx, msg, l.attrs(ctx, attrs...)...)
}

func (l *Logger) Info(ctx context.Context, msg string, attrs ...any) {
	a := l.attrs(ctx, attrs...)
	l.main.InfoContext(ctx, msg, a...)
	l.debug.InfoContext(ctx, msg, a...)
	if l.console {
		os.Stderr.WriteString(msg + "\n")
	}
}

func (l *Logger) Warn(ctx context.Context, msg string, attrs ...any) {
	a := l.attrs(ctx, attrs...)
	l.main.WarnContext(ctx, msg, a...)
	l.debug.WarnContext(ctx, msg, a...)
}

func (l *Logger) Error(ctx context.Context, msg string, attrs ...any) {
	a := l.attrs(ctx, attrs...)
	l.main.ErrorContext(ctx, msg, a...)
	l.debug.ErrorContext(ctx, msg, a...)
	l.errors.ErrorContext(ctx, msg, a...)
}

// Critical emits to every destination; nothing above LevelCritical exists to
// filter it out.
func (l *Logger) Critical(ctx context.Context, msg string, attrs ...any) {
	a := l.attrs(ctx, attrs...)
	l.main.Log(ctx, LevelCritical, msg, a...)
	l.debug.Log(ctx, LevelCritical, msg, a...)
	l.errors.Log(ctx, LevelCritical, msg, a...)
}

// Track starts a performance-tracking scope for operation and returns a
// completion func that emits duration_ms and success, and never swallows the
// error it was given.
func (l *Logger) Track(ctx context.Context, operation string) func(err error) error {
	start := time.Now()
	return func(err error) error {
		dur := time.Since(start)
		attrs := []any{
			slog.String("operation", operation),
			slog.Float64("duration_ms", float64(dur.Microseconds())/1000.0),
			slog.Bool("success", err == nil),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
			l.Error(ctx, operation+" failed", attrs...)
		} else {
			l.Info(ctx, operation+" completed", attrs...)
		}
		return err
	}
}
