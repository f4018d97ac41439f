// Package log provides the audit logger used throughout local-pkd-sub003.
// It mirrors the shape of the teacher's own logging package as used at its
// call sites (blog.Logger / blog.AuditLogger, Dial, New, Set, Get,
// AuditErr, AuditPanic) — the teacher's own log package source was not part
// of the retrieved reference set, so this is reconstructed from those call
// sites rather than copied.
package log

import (
	"fmt"
	"log/syslog"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Logger is the interface every component in this codebase logs through.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Notice(msg string)
	Warning(msg string)
	Err(msg string)
	AuditErr(msg string)
	AuditPanic()
}

// AuditLogger is the concrete Logger implementation: it writes to syslog
// when a syslog endpoint is configured, and always mirrors to a structured
// zap logger so local/dev runs (where no syslog daemon is reachable) still
// get usable output. The teacher assumes a syslog daemon is always present;
// this codebase does not, hence the zap fallback.
type AuditLogger struct {
	syslogWriter *syslog.Writer
	console      *zap.SugaredLogger
	stdoutLevel  int
	syslogLevel  int
}

var (
	defaultLoggerMu sync.RWMutex
	defaultLogger   Logger = mustConsoleOnly()
)

func mustConsoleOnly() *AuditLogger {
	zl, err := zap.NewProduction()
	if err != nil {
		zl = zap.NewNop()
	}
	return &AuditLogger{console: zl.Sugar()}
}

// Dial connects to a syslog daemon and returns a ready-to-use AuditLogger,
// matching the teacher's cmd.StatsAndLogging / blog.Dial call shape.
func Dial(network, server, tag string, stdoutLevel, syslogLevel int) (*AuditLogger, error) {
	w, err := syslog.Dial(network, server, syslog.LOG_INFO, tag)
	if err != nil {
		return nil, err
	}
	return New(w, stdoutLevel, syslogLevel)
}

// New wraps an existing syslog.Writer as an AuditLogger.
func New(w *syslog.Writer, stdoutLevel, syslogLevel int) (*AuditLogger, error) {
	zl, err := zap.NewProduction()
	if err != nil {
		zl = zap.NewNop()
	}
	return &AuditLogger{
		syslogWriter: w,
		console:      zl.Sugar(),
		stdoutLevel:  stdoutLevel,
		syslogLevel:  syslogLevel,
	}, nil
}

// Set installs logger as the process-wide default, returning the previous
// default so callers can restore it (used by tests).
func Set(logger Logger) Logger {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	prev := defaultLogger
	defaultLogger = logger
	return prev
}

// Get returns the process-wide default logger.
func Get() Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

func (l *AuditLogger) Debug(msg string) { l.console.Debug(msg) }

func (l *AuditLogger) Debugf(format string, args ...interface{}) {
	l.console.Debugf(format, args...)
}

func (l *AuditLogger) Info(msg string) {
	l.console.Info(msg)
	l.toSyslog(syslog.LOG_INFO, msg)
}

func (l *AuditLogger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *AuditLogger) Notice(msg string) {
	l.console.Info(msg)
	l.toSyslog(syslog.LOG_NOTICE, msg)
}

func (l *AuditLogger) Warning(msg string) {
	l.console.Warn(msg)
	l.toSyslog(syslog.LOG_WARNING, msg)
}

func (l *AuditLogger) Err(msg string) {
	l.console.Error(msg)
	l.toSyslog(syslog.LOG_ERR, msg)
}

// AuditErr records an error that should be visible in the audit trail —
// the teacher reserves this for conditions an operator must be able to
// reconstruct after the fact (failed batches, stage failures).
func (l *AuditLogger) AuditErr(msg string) {
	l.console.Errorw(msg, "audit", true)
	l.toSyslog(syslog.LOG_ERR, "[AUDIT] "+msg)
}

// AuditPanic recovers a panic, audit-logs it, and re-panics. Intended to be
// deferred at the top of a long-running goroutine, matching the teacher's
// `defer auditlogger.AuditPanic()` idiom in cmd/boulder-ca.
func (l *AuditLogger) AuditPanic() {
	if r := recover(); r != nil {
		l.AuditErr(fmt.Sprintf("panic: %v", r))
		panic(r)
	}
}

func (l *AuditLogger) toSyslog(level syslog.Priority, msg string) {
	if l.syslogWriter == nil {
		return
	}
	switch level {
	case syslog.LOG_ERR:
		_ = l.syslogWriter.Err(msg)
	case syslog.LOG_WARNING:
		_ = l.syslogWriter.Warning(msg)
	case syslog.LOG_NOTICE:
		_ = l.syslogWriter.Notice(msg)
	default:
		_ = l.syslogWriter.Info(msg)
	}
}

// NewMock returns a Logger suitable for unit tests: it records nothing
// durably and never touches syslog.
func NewMock() Logger {
	return &AuditLogger{console: zap.NewNop().Sugar()}
}

// FailOnError exits the process and audit-logs msg if err != nil, matching
// the teacher's cmd.FailOnError idiom.
func FailOnError(err error, msg string) {
	if err != nil {
		Get().AuditErr(fmt.Sprintf("%s: %s", msg, err))
		fmt.Fprintf(os.Stderr, "%s: %s\n", msg, err)
		os.Exit(1)
	}
}
