package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can pick a remediation without
// inspecting messages.
type Kind string

const (
	// KindValidation is malformed input rejected before any side effect.
	KindValidation Kind = "validation"
	// KindConflict is a request that is valid but incompatible with current state.
	KindConflict Kind = "conflict"
	// KindConnectivity is a remote dependency that could not be reached.
	KindConnectivity Kind = "connectivity"
	// KindIntegrity is stored data that can no longer be trusted.
	KindIntegrity Kind = "integrity"
	// KindUnauthenticated is a missing, expired or rejected session.
	KindUnauthenticated Kind = "unauthenticated"
	// KindInternal is everything else.
	KindInternal Kind = "internal"
)

// Error is a classified failure carrying a stable reason code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code so wrapped copies still compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation builds a validation sentinel.
func Validation(code, message string) *Error { return newError(KindValidation, code, message) }

// Conflict builds a state-conflict sentinel.
func Conflict(code, message string) *Error { return newError(KindConflict, code, message) }

// Connectivity builds a connectivity sentinel.
func Connectivity(code, message string) *Error { return newError(KindConnectivity, code, message) }

// Integrity builds an integrity sentinel.
func Integrity(code, message string) *Error { return newError(KindIntegrity, code, message) }

// Unauthenticated builds a session sentinel.
func Unauthenticated(code, message string) *Error {
	return newError(KindUnauthenticated, code, message)
}

// Internal builds an internal sentinel.
func Internal(code, message string) *Error { return newError(KindInternal, code, message) }

// Wrap returns a copy of sentinel that carries cause. errors.Is still matches
// both the sentinel and the cause chain.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: sentinel.Message, Err: cause}
}

// Wrapf is Wrap with a detail message appended to the sentinel's.
func Wrapf(sentinel *Error, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: sentinel.Message + ": " + fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// KindOf reports the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the reason code of the first classified error in the chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// Retryable is true for connectivity failures anywhere in the chain.
func Retryable(err error) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == KindConnectivity {
			return true
		}
		if e.Err == nil {
			return false
		}
		err = e.Err
	}
	return false
}
