package escrow

import (
	"errors"
	"fmt"
)

// RetryableError marks a transient boundary failure (timeout, network). The
// coordinator may retry these with backoff.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: retryable: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// RejectedError marks a ledger-enforced business-rule failure (timelock not
// elapsed, insufficient funds, commitment mismatch). Never retried.
type RejectedError struct {
	Op     string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: rejected by ledger: %s", e.Op, e.Reason)
}

// MarkRetryable wraps err as transient.
func MarkRetryable(op string, err error) error {
	return &RetryableError{Op: op, Err: err}
}

// MarkRejected records a ledger rejection.
func MarkRejected(op, reason string) error {
	return &RejectedError{Op: op, Reason: reason}
}

// IsRetryable reports whether err is classified as transient. The
// classification, not the message, drives coordinator behavior.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsRejected reports whether err is a ledger-level rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
