package orchestration

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Logger defines the logging interface.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// defaultLogger adapts key/value logging onto logrus.
type defaultLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger returns a Logger writing through the standard logrus logger.
func NewDefaultLogger() Logger {
	return NewLogrusLogger(logrus.StandardLogger())
}

// NewLogrusLogger returns a Logger backed by l.
func NewLogrusLogger(l *logrus.Logger) Logger {
	return &defaultLogger{entry: l.WithField("component", "tuxplan")}
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewLogrusLogger(l)
}

func (l *defaultLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Info(msg)
}

func (l *defaultLogger) Error(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Error(msg)
}

func (l *defaultLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Debug(msg)
}

func toFields(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
