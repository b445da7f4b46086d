package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common domain errors
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// Cache errors
	ErrCacheCorruption   = errors.New("cache metadata corrupted")
	ErrRangeUnavailable  = errors.New("requested range is not cached")
	ErrUnsupportedScheme = errors.New("unsupported resource scheme")
	ErrInsufficientSpace = errors.New("insufficient space")

	// Provider errors
	ErrProviderClosed = errors.New("provider is closed")
	ErrNoHint         = errors.New("no hint provider set")
	ErrDownloadFailed = errors.New("download failed")
)

// NetworkError is a transport failure while fetching a byte range.
// StatusCode is zero when no response was received.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

// Error returns the error message
func (e *NetworkError) Error() string {
	msg := "network error"
	if e.URL != "" {
		msg += " fetching " + e.URL
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the request may succeed when repeated.
// Client errors other than timeouts and throttling are permanent.
func (e *NetworkError) Retryable() bool {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// NewNetworkError creates a new network error
func NewNetworkError(url string, statusCode int, err error) *NetworkError {
	return &NetworkError{URL: url, StatusCode: statusCode, Err: err}
}

// IsNetworkError returns true if err is or wraps a NetworkError
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// DecodingError is reported by the consumer when cached bytes cannot be decoded.
// It is fatal for the provider and is never retried.
type DecodingError struct {
	Offset int64
	Err    error
}

// Error returns the error message
func (e *DecodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoding error at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("decoding error at offset %d", e.Offset)
}

// Unwrap returns the underlying error
func (e *DecodingError) Unwrap() error {
	return e.Err
}

// IsDecodingError returns true if err is or wraps a DecodingError
func IsDecodingError(err error) bool {
	var de *DecodingError
	return errors.As(err, &de)
}

// IntegrityMismatchError reports a completed resource whose digest differs
// from the expected one.
type IntegrityMismatchError struct {
	ResourceKey string
	Expected    string
	Actual      string
}

// Error returns the error message
func (e *IntegrityMismatchError) Error() string {
	return fmt.Sprintf("integrity mismatch for %s: expected %s, got %s", e.ResourceKey, e.Expected, e.Actual)
}

// IsIntegrityMismatch returns true if err is or wraps an IntegrityMismatchError
func IsIntegrityMismatch(err error) bool {
	var ie *IntegrityMismatchError
	return errors.As(err, &ie)
}

// RetryableError represents an error that should trigger a retry.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error, retryAfter time.Duration) *RetryableError {
	return &RetryableError{Err: err, RetryAfter: retryAfter}
}

// IsRetryable returns true if the error should be retried.
// Network errors are retryable unless the server rejected the request outright.
func IsRetryable(err error) bool {
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable()
	}
	return false
}

// GetRetryAfter returns the retry duration if the error is retryable
func GetRetryAfter(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}
