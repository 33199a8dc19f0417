// Package logger provides a structured logging interface for the harvester.
//
// It wraps zerolog with a small API:
//   - Leveled logging (Debug, Info, Warn, Error)
//   - Structured fields via WithField / XxxWithFields
//   - Coloured console output on stderr, optional append-only log file
//   - A process-wide logger for the CLI, explicit instances everywhere else
//
// Usage:
//
//	log, err := logger.New(&cfg.Logging)
//	log.WithField("run_id", id).InfoWithFields("Page fetched", map[string]interface{}{
//	    "records": 25,
//	    "cursor":  next,
//	})
//
// Tests use NewTestLogger to capture messages or NewNopLogger to discard them.
package logger
