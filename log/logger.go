package log

import (
	"context"
	"io"
	"log/slog"
	"math"
	"runtime"
	"time"
)

const (
	levelMaxVerbosity slog.Level = math.MinInt
	LevelTrace        slog.Level = -8
	LevelDebug                   = slog.LevelDebug
	LevelInfo                    = slog.LevelInfo
	LevelWarn                    = slog.LevelWarn
	LevelError                   = slog.LevelError
	LevelCrit         slog.Level = 12
)

var levelNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO ",
	LevelWarn:  "WARN ",
	LevelError: "ERROR",
	LevelCrit:  "CRIT ",
}

// LevelAlignedString returns the 5-character column name of l.
func LevelAlignedString(l slog.Level) string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return l.String()
}

// Logger tags every record with the module that produced it.
type Logger struct {
	inner *slog.Logger
}

func NewLogger(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// NewTerminalHandlerWithLevel writes text records at or above lvl to w, with aligned level names.
func NewTerminalHandlerWithLevel(w io.Writer, lvl slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey || len(groups) != 0 {
				return a
			}
			if l, ok := a.Value.Any().(slog.Level); ok {
				return slog.String(slog.LevelKey, LevelAlignedString(l))
			}
			return a
		},
	})
}

func discardHandler() slog.Handler {
	return slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelCrit + 1})
}

func (l *Logger) Handler() slog.Handler { return l.inner.Handler() }

func (l *Logger) Enabled(level slog.Level) bool {
	return l.inner.Enabled(context.Background(), level)
}

// With returns a logger carrying attrs on every record.
func (l *Logger) With(attrs ...any) *Logger {
	return &Logger{inner: l.inner.With(attrs...)}
}

// Write emits msg at level. skip is the number of frames between the caller of interest and Write.
func (l *Logger) Write(level slog.Level, module, msg string, skip int, attrs ...any) {
	if !l.Enabled(level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(skip+2, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	if module != "" {
		r.AddAttrs(slog.String("module", module))
	}
	r.Add(attrs...)
	_ = l.inner.Handler().Handle(context.Background(), r)
}
