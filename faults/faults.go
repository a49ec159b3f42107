// Package faults provides provider error classification for Lookout.
//
// It defines sentinel errors and an error wrapper for classifying
// failures from the log store, the enrichment oracle, the notification
// sink, and the watermark store. Callers use errors.Is/errors.As for
// typed assertions rather than string matching.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrTransient indicates a retryable provider failure (5xx-class,
	// connection reset, temporary unavailability).
	ErrTransient = errors.New("transient provider error")

	// ErrQuotaExceeded indicates throttling or quota exhaustion (429,
	// ThrottlingException). Retryable with longer backoff.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrMalformedResponse indicates a provider response that violates
	// the expected shape. Not retryable; degrade to partial failure.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrClockSkew indicates the host clock is behind the persisted
	// watermark. Aborts the run for operator attention.
	ErrClockSkew = errors.New("clock skew")

	// ErrWatermarkConflict indicates the watermark compare-and-swap
	// lost to a concurrent invocation. Aborts the run.
	ErrWatermarkConflict = errors.New("watermark conflict")

	// ErrTimeout indicates an operation exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrTerminal indicates a non-retryable provider failure
	// (authorization, validation, missing resource).
	ErrTerminal = errors.New("terminal provider error")
)

// ProviderError wraps an underlying error with failure classification.
// It preserves the original error in the chain for inspection via
// errors.As.
type ProviderError struct {
	// Kind is the sentinel error for classification.
	Kind error
	// Op is the operation that failed (e.g. "query", "invoke", "publish").
	Op string
	// Key is the pattern id or batch id involved, if any.
	Key string
	// Err is the underlying error.
	Err error
}

func (e *ProviderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *ProviderError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Wrap classifies and wraps an operation error. Returns nil if err is
// nil. Already-classified errors are returned unchanged.
func Wrap(err error, op, key string) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Kind: Classify(err), Op: op, Key: key, Err: err}
}

// Retryable reports whether the error warrants a retry with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrTimeout)
}

// Classify determines the appropriate sentinel for the given error.
// Classification is based on error type and message patterns, since
// provider SDKs surface failures inconsistently.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "throttl", "rate exceeded", "too many requests", "429",
		"slow down", "quota", "limit exceeded"):
		return ErrQuotaExceeded

	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ErrTimeout

	case containsAny(msg, "malformed response", "empty response",
		"unexpected response shape"):
		return ErrMalformedResponse

	case containsAny(msg, "access denied", "forbidden", "403", "401",
		"unauthorized", "invalidparameter", "validation", "not found",
		"404", "resourcenotfound"):
		return ErrTerminal

	case containsAny(msg, "internal server error", "service unavailable",
		"internalfailure", "500", "502", "503", "504",
		"connection refused", "connection reset", "no route to host",
		"network unreachable", "dial tcp", "eof", "broken pipe",
		"temporarily unavailable"):
		return ErrTransient

	default:
		// Unclassified provider failures are treated as transient so a
		// bounded retry gets a chance before the batch is marked failed.
		return ErrTransient
	}
}

// containsAny checks if s contains any of the substrings.
// s must already be lowercased.
func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
