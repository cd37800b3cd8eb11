package abtasty

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flagship-io/abtasty-openfeature-provider-go/flagship"
)

// Logger is a four-level logger in the OpenFeature style. *slog.Logger
// satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// AdapterLogger adapts a Logger to the flag engine's flagship.LogManager.
//
// The engine logs on nine levels; they are collapsed onto the four levels of
// Logger with a fixed table:
//
//	emergency, alert, critical, error -> Error
//	warning, notice                   -> Warn
//	info                              -> Info
//	debug, log                        -> Debug
//
// Messages are written as "[tag] : message".
type AdapterLogger struct {
	logger Logger
}

var _ flagship.LogManager = (*AdapterLogger)(nil)

// NewAdapterLogger creates a flagship.LogManager that writes to logger.
// If logger is nil, slog.Default() is used.
func NewAdapterLogger(logger Logger) *AdapterLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdapterLogger{logger: logger}
}

func (a *AdapterLogger) Emergency(message, tag string) { a.logger.Error(formatLog(tag, message)) }
func (a *AdapterLogger) Alert(message, tag string)     { a.logger.Error(formatLog(tag, message)) }
func (a *AdapterLogger) Critical(message, tag string)  { a.logger.Error(formatLog(tag, message)) }
func (a *AdapterLogger) Error(message, tag string)     { a.logger.Error(formatLog(tag, message)) }
func (a *AdapterLogger) Warning(message, tag string)   { a.logger.Warn(formatLog(tag, message)) }
func (a *AdapterLogger) Notice(message, tag string)    { a.logger.Warn(formatLog(tag, message)) }
func (a *AdapterLogger) Info(message, tag string)      { a.logger.Info(formatLog(tag, message)) }
func (a *AdapterLogger) Debug(message, tag string)     { a.logger.Debug(formatLog(tag, message)) }

// Log handles the engine's generic log call, which maps to Debug whatever
// level it carries.
func (a *AdapterLogger) Log(_ flagship.LogLevel, message, tag string) {
	a.logger.Debug(formatLog(tag, message))
}

func formatLog(tag, message string) string {
	return fmt.Sprintf("[%s] : %s", tag, message)
}

type loggerKey struct{}

// ContextWithLogger returns a copy of ctx carrying logger. Evaluations made
// with that context send the flag engine's log output for their fetches to
// logger instead of the provider's evaluation logger.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the logger attached by ContextWithLogger.
func LoggerFromContext(ctx context.Context) (Logger, bool) {
	logger, ok := ctx.Value(loggerKey{}).(Logger)
	return logger, ok && logger != nil
}
