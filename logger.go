package auth

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a logrus logger to Logger. Calls of the form
// Info("message", "key", value, ...) are logged with structured fields,
// anything else is treated as a printf format.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps l. A nil logger uses logrus.StandardLogger.
func NewLogrusLogger(l *logrus.Logger) *LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

// WithField returns a logger that always carries key=value.
func (l *LogrusLogger) WithField(key string, value any) *LogrusLogger {
	return &LogrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *LogrusLogger) Debug(format string, args ...any) {
	l.log(logrus.DebugLevel, format, args)
}

func (l *LogrusLogger) Info(format string, args ...any) {
	l.log(logrus.InfoLevel, format, args)
}

func (l *LogrusLogger) Warn(format string, args ...any) {
	l.log(logrus.WarnLevel, format, args)
}

func (l *LogrusLogger) Error(format string, args ...any) {
	l.log(logrus.ErrorLevel, format, args)
}

func (l *LogrusLogger) log(level logrus.Level, format string, args []any) {
	if fields, ok := pairsToFields(format, args); ok {
		l.entry.WithFields(fields).Log(level, format)
		return
	}
	l.entry.Logf(level, format, args...)
}

func pairsToFields(format string, args []any) (logrus.Fields, bool) {
	if len(args) == 0 || len(args)%2 != 0 || strings.Contains(format, "%") {
		return nil, false
	}

	fields := make(logrus.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			return nil, false
		}
		value := args[i+1]
		if err, isErr := value.(error); isErr {
			value = err.Error()
		}
		fields[key] = value
	}
	return fields, true
}

// ParseLogLevel converts a config string to a logrus level, defaulting to info.
func ParseLogLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

var _ Logger = (*LogrusLogger)(nil)

