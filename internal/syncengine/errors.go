package syncengine

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories the engine reports.
type ErrorKind string

const (
	KindStoreUnavailable ErrorKind = "store_unavailable"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindBanApplyFailure  ErrorKind = "ban_apply_failure"
	KindBanVerifyFailure ErrorKind = "ban_verify_failure"
	KindExternalTimeout  ErrorKind = "external_timeout"
)

// Sentinels for errors.Is against an *Error of the same kind.
var (
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrBanApplyFailure  = &Error{Kind: KindBanApplyFailure}
	ErrBanVerifyFailure = &Error{Kind: KindBanVerifyFailure}
	ErrExternalTimeout  = &Error{Kind: KindExternalTimeout}
)

// Error carries a kind plus the underlying cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func newError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

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

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind from err, or "" when err is not an engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
