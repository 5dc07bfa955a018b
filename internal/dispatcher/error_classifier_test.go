package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/local/imagetext/internal/ai"
	"github.com/local/imagetext/internal/task"
)

func TestIsTransientError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", ai.ErrRateLimited, true},
		{"wrapped rate limited", fmt.Errorf("call failed: %w", ai.ErrRateLimited), true},
		{"content refused", ai.ErrContentRefused, true},
		{"deadline", context.DeadlineExceeded, true},
		{"http 503", &ai.HTTPError{StatusCode: 503, Provider: "dial"}, true},
		{"http 429", &ai.HTTPError{StatusCode: 429, Provider: "openai"}, true},
		{"http 401", &ai.HTTPError{StatusCode: 401, Provider: "openai"}, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"plain", errors.New("something odd"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isTransientError(c.err); got != c.want {
				t.Errorf("isTransientError(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestIsFatalError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid input", &task.InvalidInputError{Reason: "no image"}, true},
		{"wrapped invalid input", fmt.Errorf("job: %w", &task.InvalidInputError{Reason: "no image"}), true},
		{"configuration", &task.ConfigurationError{Variable: "DIAL_API_KEY"}, true},
		{"http 400", &ai.HTTPError{StatusCode: 400, Provider: "dial"}, true},
		{"http 429 not fatal", &ai.HTTPError{StatusCode: 429, Provider: "dial"}, false},
		{"http 500 not fatal", &ai.HTTPError{StatusCode: 500, Provider: "dial"}, false},
		{"rate limited not fatal", ai.ErrRateLimited, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isFatalError(c.err); got != c.want {
				t.Errorf("isFatalError(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}
