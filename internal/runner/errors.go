package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout marks a navigation that did not settle within its timeout.
	ErrTimeout = errors.New("navigation timed out")
	// ErrCanceled marks a navigation aborted by run cancellation.
	ErrCanceled = errors.New("navigation canceled")
	// ErrResourceExhausted marks a failure to acquire a browsing session.
	// It is the only task error that aborts a run.
	ErrResourceExhausted = errors.New("resource exhausted")
)

// ConfigurationError reports invalid settings detected before any dispatch.
type ConfigurationError struct {
	Issues []string
	// Err optionally ties the issues to a sentinel so errors.Is keeps working.
	Err error
}

func (e *ConfigurationError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid configuration"
	}
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Issues, "; "))
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NetworkError wraps any navigation failure that is not a timeout,
// e.g. DNS failures, connection resets or malformed URLs.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	if e.Cause == nil {
		return "network error"
	}
	return fmt.Sprintf("network error: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// ResourceExhausted wraps cause so that it matches ErrResourceExhausted.
func ResourceExhausted(cause error) error {
	if cause == nil {
		return ErrResourceExhausted
	}
	return fmt.Errorf("%w: %w", ErrResourceExhausted, cause)
}

// Kind classifies a task error.
type Kind string

const (
	KindNone              Kind = ""
	KindTimeout           Kind = "timeout"
	KindNetwork           Kind = "network_error"
	KindCanceled          Kind = "canceled"
	KindResourceExhausted Kind = "resource_exhausted"
)

// Classify maps err onto the task error taxonomy. Unknown errors are
// treated as network errors.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindNetwork
	}
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	return Classify(err) == KindResourceExhausted
}
