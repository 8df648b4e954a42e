package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the caller-visible categories the API
// boundary translates into HTTP statuses.
type Kind string

const (
	KindBadRequest        Kind = "bad_request"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInsufficientStock Kind = "insufficient_stock"
	KindTransient         Kind = "transient"
	KindInternal          Kind = "internal"
)

// Error carries a Kind alongside a message and an optional wrapped cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error without losing the chain.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Kind() Kind {
	return e.kind
}

// KindOf returns the kind of the first *Error in the chain, or
// KindInternal when the error carries no classification.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsBadRequest reports whether the error is a client-input failure.
// Insufficient stock is a bad-request subtype: the request cannot
// succeed as written and retrying without new stock changes nothing.
func IsBadRequest(err error) bool {
	k := KindOf(err)
	return k == KindBadRequest || k == KindInsufficientStock
}

// IsRetryable reports whether the caller may retry with backoff.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}
