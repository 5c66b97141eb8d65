// Package log provides a structured, context-aware logging system for the
// wallet bridge.
//
// The package is designed around explicit dependency injection and context
// propagation, avoiding global state and encouraging clean, testable code.
//
// # Core Types
//
// The package centers around the Logger interface, which provides structured
// logging methods with key-value context. Three implementations are provided:
//
//   - ZapLogger: a production-ready logger based on Uber's zap library,
//     configurable via environment variables (console, logfmt or json output)
//   - IPFSLogger: a logger backed by ipfs go-log, for hosts that already
//     standardize on go-log's environment-driven configuration
//   - NoopLogger: a logger that discards all messages (useful for testing)
//
// # Basic Usage
//
// Create a logger and use it directly:
//
//	conf := log.Config{
//	    Format: "logfmt",
//	    Level:  log.LevelInfo,
//	    Output: "stderr",
//	}
//	logger := log.NewZapLogger(conf)
//	logger.Info("popup opened", "origin", popup.Origin())
//
// # Context Integration
//
// Loggers travel through call chains via context:
//
//	ctx = log.SetContextLogger(ctx, logger)
//	...
//	logger := log.FromContext(ctx)
//
// FromContext never returns nil; when no logger was attached it falls back to
// a NoopLogger.
//
// # Logger Enrichment
//
// Create derived loggers with additional context:
//
//	commLogger := logger.WithName("communicator")
//	reqLogger := commLogger.WithKV("requestId", reqID)
package log
