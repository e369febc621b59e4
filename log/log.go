// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

// Package log is a thin structured-logging layer over log/slog, matching
// the key-value call convention used throughout this codebase:
// log.Info("message", "key", value, "key2", value2).
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Level mirrors slog.Level under the names this codebase's call sites use.
type Level = slog.Level

const (
	LvlCrit  Level = slog.Level(12)
	LvlError Level = slog.LevelError
	LvlWarn  Level = slog.LevelWarn
	LvlInfo  Level = slog.LevelInfo
	LvlDebug Level = slog.LevelDebug
	LvlTrace Level = slog.Level(-8)
)

// Logger wraps an *slog.Logger and adds the Crit level (logs then exits).
type Logger struct {
	inner *slog.Logger
	exit  func(code int)
}

// NewLogger wraps h as a Logger.
func NewLogger(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h), exit: os.Exit}
}

// NewTerminalHandler returns a handler that writes human-readable,
// timestamped lines to w; useTermColors is accepted for call-site
// compatibility but colorization is not implemented.
func NewTerminalHandler(w io.Writer, useTermColors bool) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: LvlTrace,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	})
}

// NewGlogHandler wraps inner in a handler whose verbosity can be changed at
// runtime via Verbosity, mirroring glog's global verbosity knob.
func NewGlogHandler(inner slog.Handler) *GlogHandler {
	lvl := LvlInfo
	return &GlogHandler{inner: inner, lvl: &lvl}
}

// GlogHandler is the runtime-adjustable verbosity wrapper.
type GlogHandler struct {
	inner slog.Handler
	lvl   *Level
}

func (g *GlogHandler) Verbosity(lvl Level) { *g.lvl = lvl }

func (g *GlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= *g.lvl
}
func (g *GlogHandler) Handle(ctx context.Context, r slog.Record) error {
	return g.inner.Handle(ctx, r)
}
func (g *GlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &GlogHandler{inner: g.inner.WithAttrs(attrs), lvl: g.lvl}
}
func (g *GlogHandler) WithGroup(name string) slog.Handler {
	return &GlogHandler{inner: g.inner.WithGroup(name), lvl: g.lvl}
}

var root = NewLogger(NewGlogHandler(NewTerminalHandler(os.Stderr, false)))

// SetDefault installs l as the package-level logger used by Info/Debug/...
func SetDefault(l *Logger) { root = l }

func (l *Logger) log(lvl Level, msg string, kv ...any) {
	l.inner.Log(context.Background(), lvl, msg, kv...)
}

func (l *Logger) Trace(msg string, kv ...any) { l.log(LvlTrace, msg, kv...) }
func (l *Logger) Debug(msg string, kv ...any) { l.log(LvlDebug, msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.log(LvlInfo, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.log(LvlWarn, msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.log(LvlError, msg, kv...) }

// Crit logs at the critical level and terminates the process. Per spec §7,
// the consensus core uses this only for invariant-violating fatal errors
// (self-equivocation, DAG corruption) — never for attributable peer input.
func (l *Logger) Crit(msg string, kv ...any) {
	l.log(LvlCrit, msg, kv...)
	if l.exit != nil {
		l.exit(1)
	}
}

// New returns a child logger with ctx key-values attached to every record.
func (l *Logger) New(kv ...any) *Logger {
	return &Logger{inner: l.inner.With(kv...), exit: l.exit}
}

func Trace(msg string, kv ...any) { root.Trace(msg, kv...) }
func Debug(msg string, kv ...any) { root.Debug(msg, kv...) }
func Info(msg string, kv ...any)  { root.Info(msg, kv...) }
func Warn(msg string, kv ...any)  { root.Warn(msg, kv...) }
func Error(msg string, kv ...any) { root.Error(msg, kv...) }
func Crit(msg string, kv ...any)  { root.Crit(msg, kv...) }
func New(kv ...any) *Logger       { return root.New(kv...) }
