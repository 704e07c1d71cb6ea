package tracing

import (
	"go.uber.org/zap"
)

// zapLogger is zap logger implementation of jaeger.Logger
// logger delegates all calls to the underlying zap.Logger
type zapLogger struct {
	logger *zap.SugaredLogger
}

// Infof logs an info msg with fields
func (l zapLogger) Infof(msg string, args ...interface{}) {
	l.logger.Infof(msg, args...)
}

// Error logs an error msg with fields
func (l zapLogger) Error(msg string) {
	l.logger.Error(msg)
}

// Debugf logs a debug msg with fields
func (l zapLogger) Debugf(msg string, args ...interface{}) {
	l.logger.Debugf(msg, args...)
}

func NewZapLogger(logger *zap.SugaredLogger) *zapLogger {
	return &zapLogger{logger: logger}
}
