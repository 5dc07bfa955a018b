package task

import "fmt"

// ConfigurationError reports missing credentials or configuration. It is
// raised before any network call is attempted.
type ConfigurationError struct {
	Variable string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s is not set", e.Variable)
}

// InvalidInputError reports a malformed or ambiguous image specification.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// UpstreamError wraps a provider failure or a malformed provider response.
// It is propagated to the caller without retry.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
