// Package corelog provides the leveled logger the proxy core logs through,
// and the embedder-facing Logger port the core holds by shared ownership
// (spec §6). The wire format and level gating follow the teacher's original
// internal/logger package; Port is new, generalizing that logger into the
// capability the core's components (connection handler, interceptor
// pipeline, proxy server) actually depend on.
package corelog

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/laplaque/mitmcore/internal/flow"
)

// Level represents a log severity.
type Level int

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Port is the logger capability the core holds (spec §6). Embedders supply
// an implementation; Logger (below) is the one the CLI wires up by default.
type Port interface {
	LogInfo(format string, args ...any)
	LogWarn(format string, args ...any)
	LogError(err error, format string, args ...any)
	LogFlow(f *flow.Flow)
}

// Logger writes structured, fixed-width log lines for a single module and
// implements Port.
type Logger struct {
	module string
	level  Level
	out    *log.Logger
}

// New creates a Logger for the given module, gated at the given level string.
// Unrecognized level strings default to "info".
func New(module, levelStr string) *Logger {
	return &Logger{
		module: strings.ToUpper(module),
		level:  parseLevel(levelStr),
		out:    log.New(os.Stderr, "", 0),
	}
}

// SetLevel changes the minimum log level at runtime.
func (l *Logger) SetLevel(levelStr string) { l.level = parseLevel(levelStr) }

// Debug logs at DEBUG level.
func (l *Logger) Debug(action, msg string) { l.write(LevelDebug, "DEBUG", action, msg) }

// Info logs at INFO level.
func (l *Logger) Info(action, msg string) { l.write(LevelInfo, "INFO ", action, msg) }

// Warn logs at WARN level.
func (l *Logger) Warn(action, msg string) { l.write(LevelWarn, "WARN ", action, msg) }

// Error logs at ERROR level.
func (l *Logger) Error(action, msg string) { l.write(LevelError, "ERROR", action, msg) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(action, format string, args ...any) {
	l.Debug(action, fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(action, format string, args ...any) {
	l.Info(action, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(action, format string, args ...any) {
	l.Warn(action, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
}

// LogInfo implements Port.
func (l *Logger) LogInfo(format string, args ...any) { l.Infof("core", format, args...) }

// LogWarn implements Port.
func (l *Logger) LogWarn(format string, args ...any) { l.Warnf("core", format, args...) }

// LogError implements Port.
func (l *Logger) LogError(err error, format string, args ...any) {
	l.Error("core", fmt.Sprintf(format, args...)+": "+errString(err))
}

// LogFlow implements Port, rendering a one-line summary of a terminal flow.
func (l *Logger) LogFlow(f *flow.Flow) {
	if f == nil {
		return
	}
	method, host, status := "-", "-", 0
	if f.Request != nil {
		method = f.Request.Method
		host = f.Request.Host()
	}
	if f.Response != nil {
		status = f.Response.StatusCode
	}
	l.Infof("flow", "%s %s %s -> %d [%s] (%s) %s",
		f.ID, method, host, status, f.Status, f.Duration, f.FailureKind)
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

// write emits one log line if level >= l.level.
func (l *Logger) write(level Level, levelLabel, action, msg string) {
	if level < l.level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.out.Printf("%s | %-12s | %-22s | %s | %s", ts, l.module, action, levelLabel, msg)
}

func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
