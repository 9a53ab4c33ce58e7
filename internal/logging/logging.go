// Package logging includes utilities used to log engine activity. This is
// in an independent package to avoid dependency cycles, same rationale as
// the teacher's own internal/logging package.
package logging

import (
	"github.com/sirupsen/logrus"
)

// Fields is a structured log field set, re-exported so callers don't need
// to import logrus directly.
type Fields = logrus.Fields

// Logger is the narrow surface every engine component logs through.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	WithFields(fields Fields) Logger
}

// New returns a Logger backed by a fresh logrus.Logger at the given level
// name ("debug", "warn", "info", ...). An unrecognized level defaults to
// info.
func New(level string) Logger {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return entryLogger{l.WithFields(Fields{"component": "bvm"})}
}

// Discard returns a Logger that drops everything; useful for tests.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return entryLogger{l.WithFields(nil)}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type entryLogger struct {
	e *logrus.Entry
}

func (l entryLogger) Debugf(format string, args ...interface{}) { l.e.Debugf(format, args...) }
func (l entryLogger) Warnf(format string, args ...interface{})  { l.e.Warnf(format, args...) }
func (l entryLogger) WithFields(fields Fields) Logger {
	return entryLogger{l.e.WithFields(fields)}
}
