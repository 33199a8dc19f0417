package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogRequest logs one search API request
func LogRequest(l Logger, method, url string, statusCode int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration":    duration,
	}

	switch {
	case statusCode >= 500:
		l.ErrorWithFields("HTTP request server error", fields)
	case statusCode >= 400:
		l.WarnWithFields("HTTP request client error", fields)
	default:
		l.DebugWithFields("HTTP request completed", fields)
	}
}

// LogChunkWritten logs a flushed output chunk
func LogChunkWritten(l Logger, path string, sequence, records int) {
	l.InfoWithFields("Chunk written", map[string]interface{}{
		"path":     path,
		"sequence": sequence,
		"records":  records,
	})
}

// LogRateLimit logs a server-side rate limit rejection with the server's
// Retry-After and quota reset hints. Empty hints are omitted.
func LogRateLimit(l Logger, retryAfter, reset string) {
	fields := map[string]interface{}{"action": "rate_limited"}
	if retryAfter != "" {
		fields["retry_after"] = retryAfter
	}
	if reset != "" {
		fields["rate_limit_reset"] = reset
	}
	l.WarnWithFields("Rate limit reached, backing off", fields)
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	l.WithField("component", component).InfoWithFields("Component started", config)
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component string, reason string) {
	l.InfoWithFields("Component stopped", map[string]interface{}{
		"component": component,
		"reason":    reason,
	})
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}

// LogRunSummary logs the end-of-run report
func LogRunSummary(l Logger, fields map[string]interface{}) {
	l.InfoWithFields("Harvest run finished", fields)
}
