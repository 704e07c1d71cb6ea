// Package logger defines the logging interface used across the application.
// Zap sugared logger satisfies it.
package logger

// Logger is the minimal leveled logging contract.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
}
