package scheduling

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindInvalidInterval     Kind = "invalid_interval"
	KindReferenceError      Kind = "reference_error"
	KindSlotUnavailable     Kind = "slot_unavailable"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindInvalidTransition   Kind = "invalid_transition"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindStorageFailure      Kind = "storage_failure"
)

// Error is the single error type returned by the engine. errors.Is matches on
// Kind, and on Which and Reason when the target sets them.
type Error struct {
	Kind    Kind
	Message string
	Which   string
	Reason  string
	Err     error
}

var (
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrInvalidInterval     = &Error{Kind: KindInvalidInterval}
	ErrReference           = &Error{Kind: KindReferenceError}
	ErrSlotUnavailable     = &Error{Kind: KindSlotUnavailable}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrStorageFailure      = &Error{Kind: KindStorageFailure}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind &&
		(t.Which == "" || t.Which == e.Which) &&
		(t.Reason == "" || t.Reason == e.Reason)
}

// Retryable reports whether the same request may succeed later.
func (e *Error) Retryable() bool {
	return e.Kind == KindUpstreamUnavailable || e.Kind == KindStorageFailure
}

// AsError extracts the engine error from err. Other errors become storage failures.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindStorageFailure, Message: "internal failure", Err: err}
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}
