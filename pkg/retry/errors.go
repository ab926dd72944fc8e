package retry

import (
	"context"
	"errors"
	"net"
)

// Common errors returned by the executor.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of remote call failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors such as "not found".
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents throttling responses (429).
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassUnknown represents errors that carry no classification.
	ErrorClassUnknown ErrorClass = "unknown"
)

// Classified is implemented by errors that know their own class, such as
// API errors built from an HTTP status.
type Classified interface {
	Class() ErrorClass
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string     { return e.err.Error() }
func (e *permanentError) Unwrap() error     { return e.err }
func (e *permanentError) Class() ErrorClass { return ErrorClassClient }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Classify returns the class of err.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var c Classified
	if errors.As(err, &c) {
		return c.Class()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassNetwork
	}

	return ErrorClassUnknown
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors are not retried: the answer will not change
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork, ErrorClassUnknown:
		return true
	default:
		return false
	}
}
