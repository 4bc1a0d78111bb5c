// Package faults defines the service error taxonomy and the classifier that
// maps raw rendering-engine failures onto it.
package faults

import (
	"errors"
	"fmt"
)

// Kind identifies a failure class in the service taxonomy.
type Kind string

const (
	KindValidation  Kind = "validation_error"
	KindInvalidURL  Kind = "invalid_url"
	KindBlockedURL  Kind = "blocked_url"
	KindRateLimited Kind = "rate_limited"
	KindTimeout     Kind = "timeout"
	KindCapture     Kind = "capture_failed"
	KindNotFound    Kind = "not_found"
	KindInternal    Kind = "internal_error"
)

// Status returns the HTTP status code for a kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindInvalidURL:
		return 400
	case KindBlockedURL:
		return 403
	case KindNotFound:
		return 404
	case KindRateLimited:
		return 429
	case KindCapture:
		return 502
	case KindTimeout:
		return 504
	default:
		return 500
	}
}

// Fault is a classified failure. Message is safe for external payloads; the
// wrapped cause carries engine detail and is only ever logged.
type Fault struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds, only set for KindRateLimited
	cause      error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// Status returns the HTTP status code for the fault.
func (f *Fault) Status() int { return f.Kind.Status() }

// New creates a fault with an external-safe message.
func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

// Wrap creates a fault preserving the underlying cause for logging.
func Wrap(kind Kind, message string, cause error) *Fault {
	return &Fault{Kind: kind, Message: message, cause: cause}
}

// RateLimited creates the 429 fault carrying a retry-after hint in seconds.
func RateLimited(retryAfter int) *Fault {
	return &Fault{
		Kind:       KindRateLimited,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

// As extracts a *Fault from an error chain, or nil.
func As(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return nil
}
