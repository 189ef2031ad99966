// Package logging builds the leveled loggers handed to workers and tasks.
//
// A Logger wraps a *slog.Logger and, when it writes to a file, owns a named
// pipe next to that file. External programs started by task bodies (model
// inference binaries and the like) can write diagnostics into the pipe; a
// background reader forwards each line into the log.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Level mirrors the coarse levels used by task bodies.
type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	}
	return "unknown"
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	case LevelNone:
		// Above every real record so nothing is emitted.
		return slog.LevelError + 4
	}
	return slog.LevelInfo
}

// ParseLevel converts a string to a Level.
// Returns LevelInfo for unrecognized values.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off":
		return LevelNone
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// Config describes where and how a Logger writes.
type Config struct {
	Path   string // log file; empty means stderr and no FIFO
	Level  Level
	Format string // "text" or "json"
}

// Logger is a leveled logger with an optional diagnostics FIFO.
type Logger struct {
	*slog.Logger

	level Level
	file  *os.File
	fifo  *fifoReader
	once  sync.Once

	derived bool // created by With; never owns file or fifo
}

// New opens cfg.Path in append mode (creating parent directories) and, for
// file-backed loggers, creates and starts draining fifo_<name> beside it.
func New(cfg Config) (*Logger, error) {
	if cfg.Path == "" {
		return NewWithWriter(cfg.Level, cfg.Format, os.Stderr), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := NewWithWriter(cfg.Level, cfg.Format, f)
	l.file = f

	fifoPath := filepath.Join(filepath.Dir(cfg.Path), "fifo_"+filepath.Base(cfg.Path))
	fr, err := startFIFO(fifoPath, l.Logger.With("source", "outside-process"))
	if err != nil {
		// The log itself is still usable; subprocess output just won't be captured.
		l.Error("failed to create FIFO", "path", fifoPath, "error", err)
	} else {
		l.fifo = fr
	}
	return l, nil
}

// NewWithWriter creates a logger writing to w without a FIFO.
func NewWithWriter(level Level, format string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: level.slog()}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler), level: level}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWithWriter(LevelNone, "text", io.Discard)
}

// Log writes msg at level.
func (l *Logger) Log(level Level, msg string, args ...any) {
	if level == LevelNone {
		return
	}
	l.Logger.Log(context.Background(), level.slog(), strings.TrimRight(msg, "\n"), args...)
}

// Level returns the configured threshold.
func (l *Logger) Level() Level {
	return l.level
}

// With returns a Logger that adds args to every record. The derived logger
// shares the parent's file and FIFO; only the parent should be closed.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level, fifo: l.fifo, derived: true}
}

// FIFOPath returns the named pipe subprocesses may write into, or "" when
// the logger has none.
func (l *Logger) FIFOPath() string {
	if l.fifo == nil {
		return ""
	}
	return l.fifo.path
}

// Close stops the FIFO reader, removes the pipe and closes the log file.
// It is a no-op on loggers returned by With.
func (l *Logger) Close() error {
	if l.derived {
		return nil
	}
	var errs []error
	l.once.Do(func() {
		if l.fifo != nil {
			if err := l.fifo.close(); err != nil {
				errs = append(errs, err)
			}
		}
		if l.file != nil {
			if err := l.file.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
