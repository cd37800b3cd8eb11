package flagship

import (
	"fmt"
	"log/slog"
)

// LogLevel is the severity of a log message emitted by the client.
// Levels follow the syslog ordering: lower values are more severe.
type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelEmergency
	LogLevelAlert
	LogLevelCritical
	LogLevelError
	LogLevelWarning
	LogLevelNotice
	LogLevelInfo
	LogLevelDebug
	LogLevelAll
)

var logLevelNames = map[LogLevel]string{
	LogLevelNone:      "NONE",
	LogLevelEmergency: "EMERGENCY",
	LogLevelAlert:     "ALERT",
	LogLevelCritical:  "CRITICAL",
	LogLevelError:     "ERROR",
	LogLevelWarning:   "WARNING",
	LogLevelNotice:    "NOTICE",
	LogLevelInfo:      "INFO",
	LogLevelDebug:     "DEBUG",
	LogLevelAll:       "ALL",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}

// LogManager receives the client's log stream. Each method takes the message
// and a tag naming the operation that produced it.
type LogManager interface {
	Emergency(message, tag string)
	Alert(message, tag string)
	Critical(message, tag string)
	Error(message, tag string)
	Warning(message, tag string)
	Notice(message, tag string)
	Info(message, tag string)
	Debug(message, tag string)
	Log(level LogLevel, message, tag string)
}

// Dispatch sends message to the LogManager method matching level.
// Levels outside the named range go through Log.
func Dispatch(lm LogManager, level LogLevel, message, tag string) {
	if lm == nil {
		return
	}
	switch level {
	case LogLevelEmergency:
		lm.Emergency(message, tag)
	case LogLevelAlert:
		lm.Alert(message, tag)
	case LogLevelCritical:
		lm.Critical(message, tag)
	case LogLevelError:
		lm.Error(message, tag)
	case LogLevelWarning:
		lm.Warning(message, tag)
	case LogLevelNotice:
		lm.Notice(message, tag)
	case LogLevelInfo:
		lm.Info(message, tag)
	case LogLevelDebug:
		lm.Debug(message, tag)
	default:
		lm.Log(level, message, tag)
	}
}

// SlogLogManager writes the client's log stream to a *slog.Logger.
// The tag is kept as a structured attribute.
type SlogLogManager struct {
	logger *slog.Logger
}

// NewSlogLogManager creates a LogManager backed by logger.
// If logger is nil, slog.Default() is used.
func NewSlogLogManager(logger *slog.Logger) *SlogLogManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogManager{logger: logger}
}

func (m *SlogLogManager) Emergency(message, tag string) { m.logger.Error(message, "tag", tag, "severity", "emergency") }
func (m *SlogLogManager) Alert(message, tag string)     { m.logger.Error(message, "tag", tag, "severity", "alert") }
func (m *SlogLogManager) Critical(message, tag string)  { m.logger.Error(message, "tag", tag, "severity", "critical") }
func (m *SlogLogManager) Error(message, tag string)     { m.logger.Error(message, "tag", tag) }
func (m *SlogLogManager) Warning(message, tag string)   { m.logger.Warn(message, "tag", tag) }
func (m *SlogLogManager) Notice(message, tag string)    { m.logger.Warn(message, "tag", tag, "severity", "notice") }
func (m *SlogLogManager) Info(message, tag string)      { m.logger.Info(message, "tag", tag) }
func (m *SlogLogManager) Debug(message, tag string)     { m.logger.Debug(message, "tag", tag) }

// Log writes at debug level; the original level is kept as an attribute.
func (m *SlogLogManager) Log(level LogLevel, message, tag string) {
	m.logger.Debug(message, "tag", tag, "level", level.String())
}
