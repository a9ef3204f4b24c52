package repository

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	// KindPermissionDenied is an expected, user-facing denial. It is not
	// retriable without a role change.
	KindPermissionDenied ErrorKind = iota + 1
	// KindValidation covers expected input problems such as "not a member"
	// or "would remove last admin".
	KindValidation
	// KindLocalStore is fatal to the operation: the on-device cache is
	// assumed always available, so a failure here is a device problem.
	KindLocalStore
	// KindRemoteStore is surfaced only for operations with no meaningful
	// local fallback; content mutations swallow it.
	KindRemoteStore
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission denied"
	case KindValidation:
		return "validation failed"
	case KindLocalStore:
		return "local store failure"
	case KindRemoteStore:
		return "remote store failure"
	default:
		return "unknown error"
	}
}

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewPermissionDenied(reason string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: reason}
}

func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewLocalStoreError(err error) *Error {
	return &Error{Kind: KindLocalStore, Err: err}
}

func NewRemoteStoreError(err error) *Error {
	return &Error{Kind: KindRemoteStore, Err: err}
}

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func IsPermissionDenied(err error) bool {
	return isKind(err, KindPermissionDenied)
}

func IsValidation(err error) bool {
	return isKind(err, KindValidation)
}

func IsLocalStoreFailure(err error) bool {
	return isKind(err, KindLocalStore)
}

func IsRemoteStoreFailure(err error) bool {
	return isKind(err, KindRemoteStore)
}
