package dispatcher

import (
	"context"
	"errors"
	"strings"

	"github.com/local/imagetext/internal/ai"
	"github.com/local/imagetext/internal/task"
)

// isTransientError reports whether an error should trigger failover or a
// delayed retry: rate limits, refusals, timeouts, 5xx and network trouble.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if ai.IsRateLimited(err) || ai.IsContentRefused(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr *ai.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 && httpErr.StatusCode < 600 {
			return true
		}
		if httpErr.StatusCode == 429 {
			return true
		}
	}

	// Network errors surface as wrapped transport errors without a typed
	// representation.
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "eof")
}

// isFatalError reports whether an error must go straight to the DLQ:
// invalid input, missing configuration and client-side provider rejections.
func isFatalError(err error) bool {
	if err == nil {
		return false
	}

	var invErr *task.InvalidInputError
	if errors.As(err, &invErr) {
		return true
	}
	var cfgErr *task.ConfigurationError
	if errors.As(err, &cfgErr) {
		return true
	}

	var httpErr *ai.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429 {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "invalid request") ||
		strings.Contains(errStr, "bad request") ||
		strings.Contains(errStr, "malformed")
}
