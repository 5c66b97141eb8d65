package log

// Logger is the structured logging interface used across the bridge.
type Logger interface {
	// Debug logs a message for low-level debugging.
	// keysAndValues lets you add structured context (e.g., "requestId", id).
	Debug(msg string, keysAndValues ...any)
	// Info logs general information about application progress.
	// keysAndValues lets you add structured context (e.g., "component", name).
	Info(msg string, keysAndValues ...any)
	// Warn logs a message for unexpected situations that aren't errors.
	// keysAndValues lets you add structured context (e.g., "origin", origin).
	Warn(msg string, keysAndValues ...any)
	// Error logs an error that prevents normal operation.
	// keysAndValues lets you add structured context (e.g., "error", err).
	Error(msg string, keysAndValues ...any)
	// Fatal logs a critical error and may terminate the program.
	// keysAndValues lets you add structured context (e.g., "reason", reason).
	Fatal(msg string, keysAndValues ...any)
	// WithKV returns a logger with an extra key-value pair for all future logs.
	WithKV(key string, value any) Logger
	// GetAllKV returns all persistent key-value pairs for this logger.
	GetAllKV() []any
	// WithName returns a logger with a specific name (e.g., module or component).
	WithName(name string) Logger
	// Name returns the logger's name.
	Name() string
	// AddCallerSkip returns a logger that skips extra stack frames when
	// reporting log source. Returns itself if unsupported.
	AddCallerSkip(skip int) Logger
}

// Level represents the severity level of a log message.
// It can be used to filter log output based on importance.
type Level string

const (
	// LevelDebug is the most verbose level, used for debugging purposes.
	LevelDebug Level = "debug"
	// LevelInfo is used for informational messages.
	LevelInfo Level = "info"
	// LevelWarn is used for warning messages that indicate potential issues.
	LevelWarn Level = "warn"
	// LevelError is used for error messages that indicate something went wrong.
	LevelError Level = "error"
	// LevelFatal is used for fatal errors that typically cause the program to exit.
	LevelFatal Level = "fatal"
)
