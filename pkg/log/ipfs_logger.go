package log

import (
	ipfslog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
)

var _ Logger = &IPFSLogger{}

// IPFSLogger is a logger implementation backed by the ipfs go-log library.
// Its output destination and level are controlled by go-log's own environment
// variables (GOLOG_LOG_LEVEL, GOLOG_FILE, ...), which makes it convenient for
// embedding the bridge into hosts that already standardize on go-log.
type IPFSLogger struct {
	lg            *zap.SugaredLogger
	name          string
	keysAndValues []any
}

// NewIPFSLogger creates a new IPFSLogger with the given subsystem name.
func NewIPFSLogger(name string) Logger {
	return &IPFSLogger{
		lg:            namedIPFSSugar(name),
		name:          name,
		keysAndValues: []any{},
	}
}

func namedIPFSSugar(name string) *zap.SugaredLogger {
	// AddCallerSkip(1) skips the wrapper methods in the call stack.
	return ipfslog.Logger(name).SugaredLogger.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar()
}

// Debug logs a message at debug level.
func (l *IPFSLogger) Debug(msg string, keysAndValues ...any) {
	l.lg.Debugw(msg, keysAndValues...)
}

// Info logs a message at info level.
func (l *IPFSLogger) Info(msg string, keysAndValues ...any) {
	l.lg.Infow(msg, keysAndValues...)
}

// Warn logs a message at warn level.
func (l *IPFSLogger) Warn(msg string, keysAndValues ...any) {
	l.lg.Warnw(msg, keysAndValues...)
}

// Error logs a message at error level.
func (l *IPFSLogger) Error(msg string, keysAndValues ...any) {
	l.lg.Errorw(msg, keysAndValues...)
}

// Fatal logs a message at fatal level.
func (l *IPFSLogger) Fatal(msg string, keysAndValues ...any) {
	l.lg.Fatalw(msg, keysAndValues...)
}

// WithKV returns a new IPFSLogger with the key-value pair added to all future log messages.
func (l *IPFSLogger) WithKV(key string, value any) Logger {
	return &IPFSLogger{
		lg:            l.lg.With(key, value),
		name:          l.name,
		keysAndValues: append(l.keysAndValues, key, value),
	}
}

// GetAllKV returns all key-value pairs that have been added to this logger instance.
func (l *IPFSLogger) GetAllKV() []any {
	return l.keysAndValues
}

// WithName returns a new IPFSLogger registered under the given go-log subsystem
// name, carrying over the persistent key-value pairs.
func (l *IPFSLogger) WithName(name string) Logger {
	return &IPFSLogger{
		lg:            namedIPFSSugar(name).With(l.keysAndValues...),
		name:          name,
		keysAndValues: l.keysAndValues,
	}
}

// Name returns the current name of the logger.
func (l *IPFSLogger) Name() string {
	return l.name
}

// AddCallerSkip returns a new IPFSLogger that skips additional stack frames when determining the caller.
func (l *IPFSLogger) AddCallerSkip(skip int) Logger {
	return &IPFSLogger{
		lg:            l.lg.Desugar().WithOptions(zap.AddCallerSkip(skip)).Sugar(),
		name:          l.name,
		keysAndValues: l.keysAndValues,
	}
}
