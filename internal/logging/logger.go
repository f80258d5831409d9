// Package logging provides the agent's structured, severity-filtered logger.
package logging

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	Logger *slog.Logger
	level  = new(slog.LevelVar)

	writer     *writerLoop
	writerOnce sync.Once
)

// record is one queued log line; the writer goroutine is the only thing
// that ever touches the underlying handler, so producers never contend
// on a print mutex the way the original C logger does.
type record struct {
	level slog.Level
	msg   string
	args  []any
}

type writerLoop struct {
	ch      chan record
	dropped atomic.Int64
	handler slog.Handler
}

func newWriterLoop(handler slog.Handler) *writerLoop {
	w := &writerLoop{ch: make(chan record, 256), handler: handler}
	go w.run()
	return w
}

func (w *writerLoop) run() {
	l := slog.New(w.handler)
	ctx := context.Background()
	for r := range w.ch {
		l.Log(ctx, r.level, r.msg, r.args...)
	}
}

func (w *writerLoop) enqueue(r record) {
	select {
	case w.ch <- r:
	default:
		w.dropped.Add(1)
	}
}

// Dropped returns the number of log records discarded because the writer
// could not keep up. Exposed mainly for tests and diagnostics.
func Dropped() int64 {
	if writer == nil {
		return 0
	}
	return writer.dropped.Load()
}

// Init configures the package-level logger from the CELLAGENT_LOG_LEVEL
// and LOG_FORMAT environment variables; InitWith takes the same settings
// as arguments for callers (and tests) that do not use the environment.
func Init() {
	InitWith(os.Getenv("CELLAGENT_LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stdout)
}

func InitWith(levelName, format string, out *os.File) {
	SetLevel(levelName)

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}

	Logger = slog.New(handler)
	writerOnce = sync.Once{}
	writer = newWriterLoop(handler)
}

// SetLevel changes the active log level at runtime; this is what backs the
// SET_LOG_LEVEL remote command, so no restart is required to pick it up.
func SetLevel(levelName string) {
	switch strings.ToLower(levelName) {
	case "debug", "trace":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error", "fatal":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// SetLevelFromCode maps the 0..5 (trace..fatal) scale used by the
// LOG_LEVEL configuration key and the SET_LOG_LEVEL command onto the
// logger's levels.
func SetLevelFromCode(code int) {
	switch {
	case code <= 1:
		level.Set(slog.LevelDebug)
	case code == 2:
		level.Set(slog.LevelInfo)
	case code == 3:
		level.Set(slog.LevelWarn)
	default:
		level.Set(slog.LevelError)
	}
}

func enqueue(lvl slog.Level, msg string, args ...any) {
	if writer == nil {
		InitWith("", "", os.Stdout)
	}
	writer.enqueue(record{level: lvl, msg: msg, args: args})
}

func Info(msg string, args ...any)  { enqueue(slog.LevelInfo, msg, args...) }
func Warn(msg string, args ...any)  { enqueue(slog.LevelWarn, msg, args...) }
func Error(msg string, args ...any) { enqueue(slog.LevelError, msg, args...) }
func Debug(msg string, args ...any) { enqueue(slog.LevelDebug, msg, args...) }

// Fatal logs synchronously, bypassing the writer goroutine so the fatal
// line can never be lost to a full channel, then exits the process.
func Fatal(msg string, args ...any) {
	if Logger != nil {
		Logger.Error(msg, args...)
	}
	os.Exit(1)
}

type slogWriter struct {
	sl *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}
	w.sl.Info(msg)
	return len(p), nil
}

// WrapSlog exposes the structured logger through the stdlib *log.Logger
// interface, for the few collaborators (e.g. a serial-port debug trace)
// that only know how to write to one.
func WrapSlog(args ...any) *log.Logger {
	if Logger == nil {
		InitWith("", "", os.Stdout)
	}
	return log.New(slogWriter{Logger.With(args...)}, "", 0)
}
