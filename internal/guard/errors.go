package guard

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies the outcome of one call attempt.
type FailureKind int

const (
	// FailureTransient covers timeouts and server errors; retried with backoff.
	FailureTransient FailureKind = iota
	// FailureRateLimited covers quota rejections; triggers credential rotation.
	FailureRateLimited
	// FailureNonRetryable covers malformed requests and auth rejections
	// other than rate limits; surfaced immediately.
	FailureNonRetryable
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureRateLimited:
		return "rate_limited"
	case FailureNonRetryable:
		return "non_retryable"
	default:
		return "unknown"
	}
}

// CallError carries a failure classification alongside the underlying error.
// Service clients wrap their errors with RateLimited, Transient or
// NonRetryable so the executor knows how to react.
type CallError struct {
	Kind FailureKind
	Err  error
}

func (e *CallError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }

func (e *CallError) Unwrap() error { return e.Err }

// RateLimited marks err as a quota rejection.
func RateLimited(err error) error {
	return &CallError{Kind: FailureRateLimited, Err: err}
}

// Transient marks err as retryable.
func Transient(err error) error {
	return &CallError{Kind: FailureTransient, Err: err}
}

// NonRetryable marks err as not worth retrying.
func NonRetryable(err error) error {
	return &CallError{Kind: FailureNonRetryable, Err: err}
}

// Classify extracts the failure kind from an error. Deadline expiry and
// any unclassified error are treated as transient: the safe default for
// network calls is to retry.
func Classify(err error) FailureKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}
	return FailureTransient
}

// ExhaustedError is the terminal failure of an Execute call once the
// attempt budget is spent. Distinct from credentials.ErrPoolExhausted so
// operators can tell "keys kept failing" from "no key was usable at all".
type ExhaustedError struct {
	Service   string
	Attempts  int
	LastCause error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Service, e.Attempts, e.LastCause)
}

func (e *ExhaustedError) Unwrap() error { return e.LastCause }
