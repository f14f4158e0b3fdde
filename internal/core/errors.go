package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies dispatch failures.
type ErrorKind string

const (
	KindInvalidArgument     ErrorKind = "invalid_argument"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindUpstreamMalformed   ErrorKind = "upstream_malformed"
	KindQuotaExceeded       ErrorKind = "quota_exceeded"
	KindUnknownCommand      ErrorKind = "unknown_command"
	KindNotAuthorized       ErrorKind = "not_authorized"
	KindInternal            ErrorKind = "internal"
)

// Error is the domain error carried through dispatch outcomes.
type Error struct {
	Kind       ErrorKind
	Op         string
	Message    string
	StatusCode int
	RetryAfter time.Duration
	ResetAt    time.Time
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by kind, so sentinel kinds work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrUpstreamMalformed   = &Error{Kind: KindUpstreamMalformed}
	ErrQuotaExceeded       = &Error{Kind: KindQuotaExceeded}
	ErrUnknownCommand      = &Error{Kind: KindUnknownCommand}
	ErrNotAuthorized       = &Error{Kind: KindNotAuthorized}
	ErrInternal            = &Error{Kind: KindInternal}
)

// NewError builds a domain error.
func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// WrapError builds a domain error around a cause.
func WrapError(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
// Errors without one are reported as internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr != nil {
		return domainErr.Kind
	}
	return KindInternal
}
