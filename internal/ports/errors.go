package ports

import (
	"errors"
	"fmt"
)

// Common infrastructure errors that can occur while talking to the store
// or loading configuration.
var (
	// ErrConflict indicates that the store aborted a transaction because of
	// a concurrent writer (serialization failure or deadlock). The
	// operation can be retried.
	ErrConflict = errors.New("transaction conflict")

	// ErrStoreUnavailable indicates that the store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvariantViolated indicates that a write would have committed a
	// certification record that breaks the level ordering.
	ErrInvariantViolated = errors.New("certification invariant violated")

	// ErrConfigNotFound indicates that required configuration is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// StoreError represents a failed store operation.
// It includes the operation and the key of the row involved.
type StoreError struct {
	// Operation is the name of the store operation that failed.
	Operation string

	// Key identifies the row or record involved, e.g. a subcategory id.
	Key string

	// Err is the underlying error that occurred.
	Err error

	// Attempts is the number of transaction attempts made.
	Attempts int
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	msg := fmt.Sprintf("store error: operation=%s, key=%s, err=%v", e.Operation, e.Key, e.Err)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(", attempts=%d", e.Attempts)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is temporary and the operation
// can be retried.
func (e *StoreError) IsRetryable() bool {
	return errors.Is(e.Err, ErrConflict) ||
		errors.Is(e.Err, ErrStoreUnavailable) ||
		errors.Is(e.Err, ErrTimeout)
}

// NewStoreError creates a new StoreError with the given details.
func NewStoreError(operation, key string, err error) *StoreError {
	return &StoreError{
		Operation: operation,
		Key:       key,
		Err:       err,
	}
}

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{
		ConfigKey: key,
		Err:       err,
	}
}
