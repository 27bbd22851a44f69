package cloud

import (
	"errors"
	"fmt"
)

// Error kinds are stable across every cloud operation so callers never
// inspect vendor-specific error codes.
var (
	// ErrConfig signals missing/invalid credentials, region, or ARNs —
	// non-recoverable at runtime.
	ErrConfig = errors.New("cloud: configuration error")

	// ErrTransient signals a throttling/5xx-class failure the caller should
	// retry on its own schedule. The adapter itself never retries.
	ErrTransient = errors.New("cloud: transient error")

	// ErrPermanent signals a non-retryable rejection (access denied,
	// malformed request) that should transition the caller's record to a
	// terminal failed state.
	ErrPermanent = errors.New("cloud: permanent error")
)

// ConfigError wraps ErrConfig with the underlying cause (e.g. a credential
// chain resolution failure) while still satisfying errors.Is(err, ErrConfig).
type ConfigError struct {
	Cause error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cloud: configuration error: %v", e.Cause)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfig
}
