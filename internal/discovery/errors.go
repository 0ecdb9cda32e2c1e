package discovery

import (
	"errors"
	"fmt"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("discovery record not found")

// ErrSessionClosed is returned when completing a session that already left
// the running state, for example one reaped as abandoned.
var ErrSessionClosed = errors.New("crawl session is no longer running")

// ErrEvictConfirmed is returned when a retention sweep names ConfirmedExists.
var ErrEvictConfirmed = errors.New("confirmed_exists entries are never evicted")

// ConfigError reports an invalid run configuration. No probes are issued.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError wraps err as a ConfigError for field.
func NewConfigError(field string, err error) error {
	return &ConfigError{Field: field, Err: err}
}

// TransportError is a retryable network or upstream failure.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport %s: upstream status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transport %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError means the upstream rejected the session credential.
type AuthError struct {
	URL        string
	StatusCode int
	Reason     string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("credential rejected by %s (status %d): %s", e.URL, e.StatusCode, e.Reason)
}

// StorageError wraps a cache or session persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err unless it is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsAuth reports whether err carries an AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsTransport reports whether err carries a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsStorage reports whether err carries a StorageError.
func IsStorage(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

// IsConfig reports whether err carries a ConfigError.
func IsConfig(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

var errNoStatuses = errors.New("at least one status is required")

func errUnknownStatus(s Status) error {
	return fmt.Errorf("unknown status %q", s)
}
