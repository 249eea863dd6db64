// Package fault carries the typed failure taxonomy surfaced by the
// verification API. Every error is terminal for the request; the HTTP layer
// maps codes to statuses and puts the code string on the wire verbatim.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	Unauthenticated    Code = "unauthenticated"
	InvalidArgument    Code = "invalid_argument"
	NotFound           Code = "not_found"
	FailedPrecondition Code = "failed_precondition"
	DeadlineExceeded   Code = "deadline_exceeded"
	PermissionDenied   Code = "permission_denied"
	AlreadyExists      Code = "already_exists"
	Internal           Code = "internal"
)

type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func New(c Code, msg string) *Error { return &Error{Code: c, Message: msg} }

func Newf(c Code, format string, args ...any) *Error {
	return &Error{Code: c, Message: fmt.Sprintf(format, args...)}
}

// CodeOf — taxonomy code of err; store/transport failures fold into Internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// MessageOf — human-readable part without the code prefix.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// HTTPStatus — wire mapping. The problem body carries the code itself, so the
// status is advisory; expired codes use 410 rather than a timeout status.
func HTTPStatus(c Code) int {
	switch c {
	case Unauthenticated:
		return http.StatusUnauthorized
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case FailedPrecondition:
		return http.StatusPreconditionFailed
	case DeadlineExceeded:
		return http.StatusGone
	case PermissionDenied:
		return http.StatusForbidden
	case AlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
