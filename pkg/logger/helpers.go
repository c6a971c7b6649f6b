package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

func orGlobal(l Logger) Logger {
	if l == nil {
		return GetLogger()
	}
	return l
}

// LogResolution logs the outcome of resolving one post
func LogResolution(l Logger, postID, strategy, outcome string, mediaCount int) {
	orGlobal(l).DebugWithFields("post resolution", map[string]interface{}{
		"post_id":     postID,
		"strategy":    strategy,
		"outcome":     outcome,
		"media_count": mediaCount,
	})
}

// LogStrategyFallback logs a strategy being abandoned for the rest of the run
func LogStrategyFallback(l Logger, from, reason string, remaining int, err error) {
	fields := map[string]interface{}{
		"strategy":  from,
		"reason":    reason,
		"remaining": remaining,
		"action":    "fallback",
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	orGlobal(l).WarnWithFields("Strategy stopped, handing remaining posts to next strategy", fields)
}

// LogPolicyViolation logs a rejected download as a security event
func LogPolicyViolation(l Logger, kind, postID string, index int, detail string) {
	orGlobal(l).WarnWithFields("Security policy violation", map[string]interface{}{
		"event":       "security",
		"violation":   kind,
		"post_id":     postID,
		"media_index": index,
		"detail":      detail,
	})
}

// LogDownload logs download operations
func LogDownload(l Logger, postID string, index int, status string, bytes int64, err error) {
	logger := orGlobal(l).WithFields(map[string]interface{}{
		"post_id":     postID,
		"media_index": index,
		"status":      status,
		"bytes":       bytes,
	})

	if err != nil {
		logger.WithError(err).Warn("Download failed")
	} else {
		logger.Debug("Download finished")
	}
}

// LogRateLimit logs rate limiting events
func LogRateLimit(l Logger, key string, wait time.Duration) {
	orGlobal(l).WithFields(map[string]interface{}{
		"key":    key,
		"wait":   wait,
		"action": "rate_limited",
	}).Info("Rate limit reached, waiting")
}

// LogRunSummary logs the end-of-run counters
func LogRunSummary(l Logger, fields map[string]interface{}) {
	orGlobal(l).InfoWithFields("Run complete", fields)
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
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                               { return nil }
