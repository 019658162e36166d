// Package assistant provides the HTTP client for the fleet assistant
// endpoint, the send error taxonomy, and retry supervision.
package assistant

import (
	"errors"
	"fmt"
)

// Kind classifies a send failure. Only network-class failures are
// retryable; everything else propagates on first occurrence.
type Kind int

// Failure classes.
const (
	// KindNetwork covers connection refusals, DNS failures, and abrupt
	// stream termination. Retryable.
	KindNetwork Kind = iota

	// KindRequestTimeout means the initial request/response exceeded the
	// per-attempt timeout. Not retried: resubmission risks duplicate side
	// effects on the backend.
	KindRequestTimeout

	// KindStreamTimeout means the stream exceeded its wall-clock budget.
	KindStreamTimeout

	// KindStreamExhausted means the stream hit its event line budget;
	// treated as a timeout variant.
	KindStreamExhausted

	// KindAuth means the bearer credential was missing or rejected. The
	// caller should re-authenticate before trying again.
	KindAuth

	// KindServerRejected is an application-level error response; its
	// message is surfaced to the user verbatim.
	KindServerRejected
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRequestTimeout:
		return "request_timeout"
	case KindStreamTimeout:
		return "stream_timeout"
	case KindStreamExhausted:
		return "stream_exhausted"
	case KindAuth:
		return "auth_required"
	case KindServerRejected:
		return "server_rejected"
	default:
		return "unknown"
	}
}

// Error is a classified send failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("assistant: %s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("assistant: %s: %v", e.Kind, e.Err)
	}
	return "assistant: " + e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the retry supervisor may resubmit after this
// failure.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork
}

// UserMessage returns the human-readable description surfaced in the UI.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Kind {
	case KindNetwork:
		return "could not reach the assistant, please check your connection"
	case KindRequestTimeout, KindStreamTimeout, KindStreamExhausted:
		return "the assistant took too long to answer"
	case KindAuth:
		return "your session has expired, please sign in again"
	default:
		return "the assistant could not answer this question"
	}
}

// KindOf extracts the failure class, or KindNetwork, false for errors that
// did not originate from a send attempt.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return KindNetwork, false
}
