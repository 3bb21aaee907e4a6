package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LogRequest logs a registry round trip
func LogRequest(l Logger, method, url string, statusCode int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	switch {
	case statusCode >= 500 || statusCode == 0:
		l.WarnWithFields("Registry request failed", fields)
	case statusCode >= 400:
		l.DebugWithFields("Registry request client error", fields)
	default:
		l.DebugWithFields("Registry request completed", fields)
	}
}

// LogPageProgress logs harvesting progress for one query
func LogPageProgress(l Logger, query string, offset, total, collected int) {
	percentage := 0.0
	if total > 0 {
		percentage = float64(min(offset, total)) / float64(total) * 100
	}

	l.WithFields(map[string]interface{}{
		"query":      query,
		"offset":     offset,
		"total":      total,
		"collected":  collected,
		"percentage": fmt.Sprintf("%.1f%%", percentage),
	}).Info("Harvest progress")
}

// LogArtifact logs the outcome of a single artifact download
func LogArtifact(l Logger, entity, version string, skipped bool, err error) {
	log := l.WithFields(map[string]interface{}{
		"entity":  entity,
		"version": version,
	})

	switch {
	case err != nil:
		log.WithError(err).Error("Artifact download failed")
	case skipped:
		log.Debug("Artifact already present")
	default:
		log.Info("Artifact downloaded")
	}
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                               { return nil }
