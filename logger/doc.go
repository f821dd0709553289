// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap, providing structured, high-performance logging
// throughout the application. Output goes to stderr unless overridden.
//
// Usage:
//
//	log, err := logger.New("production", "info", logger.WithoutStacktraces())
//	if err != nil {
//	    return err
//	}
//	logger.Episode(log, "sum-column", "runs/sum-column/run_001").Info("episode started")
package logger
