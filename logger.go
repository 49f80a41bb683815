package mqttc

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel is the minimum severity a Logger emits.
type LogLevel uint8

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	// LogLevelNone disables all logging.
	LogLevelNone
)

// LogLevelNone maps to logrus panic level, which the package never logs at.
var logLevels = [...]struct {
	name   string
	logrus logrus.Level
}{
	LogLevelDebug: {"DEBUG", logrus.DebugLevel},
	LogLevelInfo:  {"INFO", logrus.InfoLevel},
	LogLevelWarn:  {"WARN", logrus.WarnLevel},
	LogLevelError: {"ERROR", logrus.ErrorLevel},
	LogLevelNone:  {"NONE", logrus.PanicLevel},
}

func (l LogLevel) String() string {
	if int(l) < len(logLevels) {
		return logLevels[l].name
	}
	return "UNKNOWN"
}

func (l LogLevel) logrusLevel() logrus.Level {
	if int(l) < len(logLevels) {
		return logLevels[l].logrus
	}
	return logrus.InfoLevel
}

func logLevelFromLogrus(lv logrus.Level) LogLevel {
	switch {
	case lv >= logrus.DebugLevel:
		return LogLevelDebug
	case lv <= logrus.FatalLevel:
		return LogLevelNone
	}
	for i, ll := range logLevels {
		if ll.logrus == lv {
			return LogLevel(i)
		}
	}
	return LogLevelNone
}

// ParseLogLevel accepts logrus level names plus "none" and "off".
// An empty string means info.
func ParseLogLevel(s string) (LogLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return LogLevelInfo, nil
	case "none", "off":
		return LogLevelNone, nil
	}

	lv, err := logrus.ParseLevel(s)
	if err != nil {
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return logLevelFromLogrus(lv), nil
}

// LogFields represents key-value pairs for structured logging.
type LogFields map[string]any

// Logger is the structured logger the engine and Helper write to.
type Logger interface {
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, fields LogFields)

	// WithFields returns a logger that adds fields to every entry.
	WithFields(fields LogFields) Logger
}

// NoOpLogger discards everything. It is the engine default.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, LogFields) {}
func (NoOpLogger) Info(string, LogFields) {}
func (NoOpLogger) Warn(string, LogFields) {}
func (NoOpLogger) Error(string, LogFields) {}
func (n NoOpLogger) WithFields(LogFields) Logger { return n }

// LogrusLogger is a Logger backed by a logrus entry.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger creates a logger writing to w at level. A nil w writes to
// stderr. Format "json" selects the JSON formatter, anything else the text
// formatter.
func NewLogrusLogger(w io.Writer, level LogLevel, format string) *LogrusLogger {
	if w == nil {
		w = os.Stderr
	}

	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level.logrusLevel())
	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return WrapLogrus(l)
}

// WrapLogrus adapts an existing logrus logger. Level and formatting stay
// under the caller's control.
func WrapLogrus(l *logrus.Logger) *LogrusLogger {
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

func (l *LogrusLogger) log(lv logrus.Level, msg string, fields LogFields) {
	if !l.entry.Logger.IsLevelEnabled(lv) {
		return
	}
	e := l.entry
	if len(fields) > 0 {
		e = e.WithFields(logrus.Fields(fields))
	}
	e.Log(lv, msg)
}

func (l *LogrusLogger) Debug(msg string, fields LogFields) { l.log(logrus.DebugLevel, msg, fields) }
func (l *LogrusLogger) Info(msg string, fields LogFields) { l.log(logrus.InfoLevel, msg, fields) }
func (l *LogrusLogger) Warn(msg string, fields LogFields) { l.log(logrus.WarnLevel, msg, fields) }
func (l *LogrusLogger) Error(msg string, fields LogFields) { l.log(logrus.ErrorLevel, msg, fields) }

func (l *LogrusLogger) WithFields(fields LogFields) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// Level reports the underlying logger's level.
func (l *LogrusLogger) Level() LogLevel {
	return logLevelFromLogrus(l.entry.Logger.GetLevel())
}

// SetLevel changes the level of the underlying logger, shared by every
// logger derived through WithFields.
func (l *LogrusLogger) SetLevel(level LogLevel) {
	l.entry.Logger.SetLevel(level.logrusLevel())
}

// Field names used in engine log entries.
const (
	LogFieldClientID   = "client_id"
	LogFieldBroker     = "broker"
	LogFieldTopic      = "topic"
	LogFieldPacketID   = "packet_id"
	LogFieldPacketType = "packet_type"
	LogFieldQoS        = "qos"
	// LogFieldReturnCode carries the CONNACK return code.
	LogFieldReturnCode = "return_code"
	LogFieldError      = "error"
	LogFieldState      = "state"
	LogFieldBytes      = "bytes"
)
