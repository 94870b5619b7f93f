package imapio

import (
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/davecgh/go-spew/spew"
)

// Logger defines the minimal logging interface used by the package.
//
// Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	WithAttrs(args ...any) Logger
}

const component = "imapio"

var globalLogger atomic.Value // stores Logger

func init() {
	globalLogger.Store(defaultLogger())
}

// defaultLogger returns the library's default slog-based logger.
func defaultLogger() Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return SlogLogger(slog.New(handler)).WithAttrs("component", component)
}

// SetLogger replaces the global logger used by the package. Passing nil
// restores the built-in slog logger.
func SetLogger(logger Logger) {
	if logger == nil {
		globalLogger.Store(defaultLogger())
		return
	}
	globalLogger.Store(logger.WithAttrs("component", component))
}

// SetSlogLogger is a convenience helper for using a *slog.Logger directly.
func SetSlogLogger(logger *slog.Logger) {
	SetLogger(SlogLogger(logger))
}

// SlogLogger adapts a *slog.Logger to the Logger interface.
func SlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		return nil
	}
	return slogAdapter{logger: logger}
}

type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }

func (s slogAdapter) Info(msg string, args ...any) { s.logger.Info(msg, args...) }

func (s slogAdapter) Warn(msg string, args ...any) { s.logger.Warn(msg, args...) }

func (s slogAdapter) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

func (s slogAdapter) WithAttrs(args ...any) Logger {
	return slogAdapter{logger: s.logger.With(args...)}
}

// getLogger returns the currently configured logger.
func getLogger() Logger {
	if v := globalLogger.Load(); v != nil {
		if l, ok := v.(Logger); ok {
			return l
		}
	}
	l := defaultLogger()
	globalLogger.Store(l)
	return l
}

// connectionLogger adds per-connection context to the configured logger.
// An empty identity means the caller has no connection context.
func connectionLogger(conn string, folder string) Logger {
	logger := getLogger()
	if conn == "" && folder == "" {
		return logger
	}

	args := []any{"conn", conn}
	if folder != "" {
		args = append(args, "mailbox", folder)
	}
	return logger.WithAttrs(args...)
}

// debugLog emits a debug log entry when verbose logging is enabled.
func debugLog(conn string, folder string, msg string, args ...any) {
	if !Verbose {
		return
	}
	connectionLogger(conn, folder).Debug(msg, args...)
}

// dumpLog writes a spew dump of v at debug level when verbose logging is
// enabled. Used for payloads that could not be parsed.
func dumpLog(conn string, folder string, msg string, v any) {
	if !Verbose {
		return
	}
	connectionLogger(conn, folder).Debug(msg, "dump", spew.Sdump(v))
}

func warnLog(conn string, folder string, msg string, args ...any) {
	connectionLogger(conn, folder).Warn(msg, args...)
}

func errorLog(conn string, folder string, msg string, args ...any) {
	connectionLogger(conn, folder).Error(msg, args...)
}
