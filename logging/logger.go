package logging

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is a logging verbosity level, independent of logrus so callers
// outside this package never need to import it directly.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Config configures a logger built by New.
type Config struct {
	Level      Level
	Format     string // "json" or "text"
	TimeFormat string
}

// DefaultConfig returns text-formatted, info-level logging with RFC3339 timestamps.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: "text", TimeFormat: time.RFC3339}
}

// New builds a standalone logrus.Logger from cfg, routed through OutputSplitter.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	case LevelFatal:
		logger.SetLevel(logrus.FatalLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: cfg.TimeFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: cfg.TimeFormat, FullTimestamp: true})
	}

	logger.SetOutput(&OutputSplitter{})
	return logger
}

// ContextLogger carries an immutable set of fields through a call chain;
// every With* call returns a new value so callers can branch freely without
// one goroutine's fields leaking into another's.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewContextLogger wraps logger (or the package Logger, if nil) with base fields.
func NewContextLogger(logger *logrus.Logger, fields map[string]interface{}) *ContextLogger {
	if logger == nil {
		logger = Logger
	}
	base := make(logrus.Fields, len(fields))
	for k, v := range fields {
		base[k] = v
	}
	return &ContextLogger{logger: logger, fields: base}
}

func (cl *ContextLogger) clone() logrus.Fields {
	f := make(logrus.Fields, len(cl.fields)+1)
	for k, v := range cl.fields {
		f[k] = v
	}
	return f
}

func (cl *ContextLogger) WithField(key string, value interface{}) *ContextLogger {
	f := cl.clone()
	f[key] = value
	return &ContextLogger{logger: cl.logger, fields: f}
}

func (cl *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	f := cl.clone()
	for k, v := range fields {
		f[k] = v
	}
	return &ContextLogger{logger: cl.logger, fields: f}
}

func (cl *ContextLogger) WithError(err error) *ContextLogger {
	return cl.WithField("error", err.Error())
}

func (cl *ContextLogger) Debug(msg string) { cl.logger.WithFields(cl.fields).Debug(msg) }
func (cl *ContextLogger) Debugf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Debugf(format, args...)
}
func (cl *ContextLogger) Info(msg string) { cl.logger.WithFields(cl.fields).Info(msg) }
func (cl *ContextLogger) Infof(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Infof(format, args...)
}
func (cl *ContextLogger) Warn(msg string) { cl.logger.WithFields(cl.fields).Warn(msg) }
func (cl *ContextLogger) Warnf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Warnf(format, args...)
}
func (cl *ContextLogger) Error(msg string) { cl.logger.WithFields(cl.fields).Error(msg) }
func (cl *ContextLogger) Errorf(format string, args ...interface{}) {
	cl.logger.WithFields(cl.fields).Errorf(format, args...)
}
func (cl *ContextLogger) Fatal(msg string) { cl.logger.WithFields(cl.fields).Fatal(msg) }

// ServiceLogger returns a ContextLogger tagged with service/version, built
// on the package-wide Logger. Every top-level component (agent role, storage,
// transport) should start from this rather than the bare Logger.
func ServiceLogger(service, version string) *ContextLogger {
	return NewContextLogger(Logger, map[string]interface{}{
		"service": service,
		"version": version,
	})
}

// LogOperation runs fn, logging its start/end and duration under operation.
func LogOperation(logger *ContextLogger, operation string, fn func() error) error {
	start := time.Now()
	logger.WithField("operation", operation).Info("operation started")

	err := fn()

	entry := logger.WithFields(map[string]interface{}{
		"operation":   operation,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("operation failed")
		return err
	}
	entry.Info("operation completed")
	return nil
}

// ErrorFields returns standard fields for logging a wrapped error.
func ErrorFields(err error, context string) map[string]interface{} {
	return map[string]interface{}{
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
		"context":    context,
	}
}
