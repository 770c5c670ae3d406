// Package evlog is the small structured-logging seam the loop uses for its
// diagnostics (currently only the backend-selection message). It mirrors the
// adapter shape in joeycumines-go-utilpkg/sql/log (an internal interface in
// front of logrus), so embedding applications that already carry a logrus
// instance can plug it in, while the zero-value default is silent.
package evlog

import "github.com/sirupsen/logrus"

// Logger is the narrow surface the loop needs. *logrus.Logger and
// *logrus.Entry both satisfy it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// nopLogger discards everything; it is the default when no Logger is configured.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

// NewLogrus adapts a *logrus.Logger to Logger, logging through an Entry
// that carries the field component=ev.
func NewLogrus(l *logrus.Logger) Logger {
	return logrusAdapter{l.WithField("component", "ev")}
}

type logrusAdapter struct{ e *logrus.Entry }

func (a logrusAdapter) Debugf(format string, args ...interface{}) { a.e.Debugf(format, args...) }
func (a logrusAdapter) Infof(format string, args ...interface{})  { a.e.Infof(format, args...) }
func (a logrusAdapter) Warnf(format string, args ...interface{})  { a.e.Warnf(format, args...) }
func (a logrusAdapter) Errorf(format string, args ...interface{}) { a.e.Errorf(format, args...) }
