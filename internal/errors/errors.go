package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindTooManyRequests
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

// Error is a typed error carrying a client-safe message.
type Error struct {
	Kind    Kind
	Message string

	// SecondsRemaining is set for KindTooManyRequests.
	SecondsRemaining int
}

func (e *Error) Error() string {
	return e.Message
}

// New creates a typed error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a typed error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// TooManyRequests creates a lockout error with the remaining lockout time.
func TooManyRequests(message string, secondsRemaining int) *Error {
	return &Error{Kind: KindTooManyRequests, Message: message, SecondsRemaining: secondsRemaining}
}

// KindOf returns the kind of the first typed error in err's chain.
// Untyped errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps err onto an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show a client.
// Internal errors never expose their text.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}

// Common sentinel errors
var (
	ErrInvalidCredentials = New(KindUnauthorized, "invalid username or password")
	ErrInvalidToken       = New(KindUnauthorized, "invalid token")
	ErrTokenExpired       = New(KindUnauthorized, "token expired")
	ErrSessionNotFound    = New(KindNotFound, "session not found")
	ErrStateNotFound      = New(KindNotFound, "oauth state not found")
	ErrProviderNotFound   = New(KindNotFound, "identity provider not found")
	ErrUserInactive       = New(KindForbidden, "user account is inactive")
	ErrInvalidClientType  = New(KindForbidden, "invalid client type")
	ErrNotFound           = New(KindNotFound, "not found")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
