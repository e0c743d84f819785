// Package logger provides structured logging for raffle services.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry carrying the service field.
// WithField/WithError return *logrus.Entry, so call sites chain naturally:
//
//	log.WithField("request_id", id).Info("selection requested")
type Logger struct {
	*logrus.Entry
}

// New creates a logger for the named service at the given level.
// Unknown levels fall back to info.
func New(service, level string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	parsed, err := logrus.ParseLevel(strings.TrimSpace(strings.ToLower(level)))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	return &Logger{Entry: l.WithField("service", service)}
}

// NewDefault creates a logger for the named service at info level.
func NewDefault(service string) *Logger {
	return New(service, "info")
}

// WithFields returns an entry with the given fields applied.
func (l *Logger) WithFields(fields map[string]any) *logrus.Entry {
	if fields == nil {
		return l.Entry
	}
	return l.Entry.WithFields(logrus.Fields(fields))
}
