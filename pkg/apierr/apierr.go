package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	Unauthenticated
	NotFound
	Conflict
	PermissionDenied
	InvalidArgument
	FailedPrecondition
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case NotFound:
		return "NOT_FOUND"
	case Conflict:
		return "CONFLICT"
	case PermissionDenied:
		return "PERMISSION_DENIED"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case FailedPrecondition:
		return "FAILED_PRECONDITION"
	default:
		return "INTERNAL"
	}
}

// HTTPStatus is the response status used when an error of this kind reaches
// the HTTP layer.
func (k Kind) HTTPStatus() int {
	switch k {
	case Unauthenticated:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case PermissionDenied:
		return http.StatusForbidden
	case InvalidArgument:
		return http.StatusBadRequest
	case FailedPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Unauthenticatedf(format string, args ...any) *Error {
	return Newf(Unauthenticated, format, args...)
}

func NotFoundf(format string, args ...any) *Error { return Newf(NotFound, format, args...) }

func Conflictf(format string, args ...any) *Error { return Newf(Conflict, format, args...) }

func PermissionDeniedf(format string, args ...any) *Error {
	return Newf(PermissionDenied, format, args...)
}

func InvalidArgumentf(format string, args ...any) *Error {
	return Newf(InvalidArgument, format, args...)
}

func FailedPreconditionf(format string, args ...any) *Error {
	return Newf(FailedPrecondition, format, args...)
}

func Internalf(format string, args ...any) *Error { return Newf(Internal, format, args...) }

// KindOf classifies err. Errors that do not carry an *Error anywhere in their
// chain are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
