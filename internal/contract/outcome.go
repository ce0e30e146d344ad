package contract

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies a single response.
type Kind int

const (
	KindMalformed Kind = iota
	KindAllowed
	KindBlocked
)

func (k Kind) String() string {
	switch k {
	case KindAllowed:
		return "allowed"
	case KindBlocked:
		return "blocked"
	default:
		return "malformed"
	}
}

// Violation names a breach of the rate limiter's response contract.
type Violation string

const (
	ViolationUnexpectedStatus  Violation = "unexpected_status"
	ViolationMissingRemaining  Violation = "missing_remaining"
	ViolationMissingRetryAfter Violation = "missing_retry_after"
	ViolationTransport         Violation = "transport_error"
	ViolationMissingBodyField  Violation = "missing_body_field"
)

// Outcome is the classified result of one request.
type Outcome struct {
	Kind       Kind
	StatusCode int // 0 when no response was received
	Latency    time.Duration
	Headers    Headers
	// RetryAfter is the retry hint in seconds; 0 unless blocked. An HTTP-date
	// hint is relative to the response's Date header, or to the classifier's
	// clock when the response has none.
	RetryAfter int
	Violations []Violation
	Err        error // transport error, if any
}

// Has reports whether v was flagged on the outcome.
func (o Outcome) Has(v Violation) bool {
	for _, got := range o.Violations {
		if got == v {
			return true
		}
	}
	return false
}

// Flagged reports whether the outcome breached the contract in any way.
func (o Outcome) Flagged() bool {
	return len(o.Violations) > 0
}

// Error converts a flagged outcome into an error; it returns nil otherwise.
func (o Outcome) Error() error {
	if !o.Flagged() {
		return nil
	}
	return &ViolationError{StatusCode: o.StatusCode, Violations: o.Violations, Err: o.Err}
}

// ViolationError reports a response that did not satisfy the contract.
type ViolationError struct {
	StatusCode int
	Violations []Violation
	Err        error
}

func (e *ViolationError) Error() string {
	names := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		names[i] = string(v)
	}
	msg := fmt.Sprintf("contract violation (status %d): %s", e.StatusCode, strings.Join(names, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ViolationError) Unwrap() error {
	return e.Err
}
