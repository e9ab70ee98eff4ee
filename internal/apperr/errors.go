// Package apperr defines the client-facing error kinds returned by the
// referral graph and the HTTP status each one maps to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindDuplicateUser      Kind = "duplicate_user"
	KindNotFound           Kind = "not_found"
	KindInvalidReference   Kind = "invalid_reference"
	KindSlotOccupied       Kind = "slot_occupied"
	KindCycleDetected      Kind = "cycle_detected"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindValidation         Kind = "validation"
	KindInternal           Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same kind, so callers can compare against the
// sentinels below regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrDuplicateUser      = &Error{Kind: KindDuplicateUser, Message: "user already exists"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "user not found"}
	ErrInvalidReference   = &Error{Kind: KindInvalidReference, Message: "invalid reference"}
	ErrSlotOccupied       = &Error{Kind: KindSlotOccupied, Message: "placement slot occupied"}
	ErrCycleDetected      = &Error{Kind: KindCycleDetected, Message: "referral cycle detected"}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "invalid credentials"}
	ErrValidation         = &Error{Kind: KindValidation, Message: "validation failed"}
)

// New returns an error of the given kind carrying a specific message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindDuplicateUser, KindSlotOccupied:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidReference, KindValidation:
		return http.StatusBadRequest
	case KindCycleDetected:
		return http.StatusUnprocessableEntity
	case KindInvalidCredentials:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Message hides internal error text from clients.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
