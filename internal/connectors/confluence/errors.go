package confluence

import (
	"errors"
	"fmt"
)

// ErrProducerCountNegative reports the active-producer counter dropping
// below zero. It indicates a defect in producer bookkeeping, never a
// remote failure, and aborts the harvest.
var ErrProducerCountNegative = errors.New("confluence: active producer count went negative")

// ConfigError reports invalid configuration. It is fatal before
// harvesting begins and is never retried.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("confluence: invalid configuration: %s: %s", e.Field, e.Msg)
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// APIError represents a non-2xx response from the Confluence API.
type APIError struct {
	StatusCode int
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("confluence: API error %d (URL: %s)", e.StatusCode, e.URL)
}

// ResourceUnavailableError reports a page fetch that failed after
// exhausting its retries. It is scoped to a single request; pagination
// treats it as the end of that resource's enumeration.
type ResourceUnavailableError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("confluence: resource unavailable after %d attempts (URL: %s): %v", e.Attempts, e.URL, e.Err)
}

func (e *ResourceUnavailableError) Unwrap() error {
	return e.Err
}

// IsResourceUnavailable reports whether err is a retries-exhausted fetch
// failure.
func IsResourceUnavailable(err error) bool {
	var re *ResourceUnavailableError
	return errors.As(err, &re)
}
