package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// ZapLogger adapts a structured zap logger to Logger. Messages are
// formatted, SQL statements go to the debug level with their parameters
// attached as a field.
type ZapLogger struct {
	log *zap.Logger
	sql bool
}

var _ Logger = (*ZapLogger)(nil)

func NewZapLogger(log *zap.Logger, sql bool) *ZapLogger {
	return &ZapLogger{log: log.WithOptions(zap.AddCallerSkip(1)), sql: sql}
}

func (zl *ZapLogger) Successf(format string, args ...interface{}) {
	zl.log.Info(fmt.Sprintf(format, args...), zap.Bool("success", true))
}

func (zl *ZapLogger) Infof(format string, args ...interface{}) {
	zl.log.Info(fmt.Sprintf(format, args...))
}

func (zl *ZapLogger) Debugf(format string, args ...interface{}) {
	zl.log.Debug(fmt.Sprintf(format, args...))
}

func (zl *ZapLogger) Warnf(format string, args ...interface{}) {
	zl.log.Warn(fmt.Sprintf(format, args...))
}

func (zl *ZapLogger) Error(err error) {
	zl.log.Error("step runner error", zap.Error(err))
}

func (zl *ZapLogger) SQL(query string, args ...interface{}) {
	if !zl.sql {
		return
	}

	zl.log.Debug("running sql", zap.String("query", query), zap.Any("params", args))
}
