// Package apperr defines the error kinds returned by chainmgr operations.
//
// Synchronous operations either succeed or fail with an *Error whose Kind
// tells the caller what went wrong. Callers branch on the kind with KindOf,
// never on message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	// Internal is an unexpected failure that fits no other kind.
	Internal Kind = iota
	// InvalidArgument covers blank or malformed input and unknown selectors.
	InvalidArgument
	// NotFound means the chain, node, host or tag does not exist.
	NotFound
	// ConstraintViolation means a capacity or uniqueness rule would break.
	ConstraintViolation
	// ConnectivityFailure means a host or the signing helper did not answer in time.
	ConnectivityFailure
	// PreconditionFailed means the current state forbids the operation.
	PreconditionFailed
	// ConfigIOFailure is a local or remote file generation or transfer error.
	ConfigIOFailure
	// ProvisioningFailure wraps an unexpected failure while provisioning.
	ProvisioningFailure
)

var kindNames = map[Kind]string{
	Internal:            "internal",
	InvalidArgument:     "invalid_argument",
	NotFound:            "not_found",
	ConstraintViolation: "constraint_violation",
	ConnectivityFailure: "connectivity_failure",
	PreconditionFailed:  "precondition_failed",
	ConfigIOFailure:     "config_io_failure",
	ProvisioningFailure: "provisioning_failure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified error with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind, so errors.Is(err, apperr.New(NotFound, ""))
// behaves like a kind test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func InvalidArgumentf(format string, args ...interface{}) *Error {
	return New(InvalidArgument, format, args...)
}

func NotFoundf(format string, args ...interface{}) *Error {
	return New(NotFound, format, args...)
}

func ConstraintViolationf(format string, args ...interface{}) *Error {
	return New(ConstraintViolation, format, args...)
}

func ConnectivityFailuref(format string, args ...interface{}) *Error {
	return New(ConnectivityFailure, format, args...)
}

func PreconditionFailedf(format string, args ...interface{}) *Error {
	return New(PreconditionFailed, format, args...)
}
