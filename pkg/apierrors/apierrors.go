// Package apierrors defines the error taxonomy of the authorization server and how each kind is reported
// over HTTP.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the caller.
type Kind int

const (
	// KindInternal covers store and registry I/O failures. The message is never shown to clients.
	KindInternal Kind = iota
	// KindAuthentication means a client or user credential was missing, unknown or wrong.
	KindAuthentication
	// KindInvalidArgument means the request was understood but violates the flow's rules.
	KindInvalidArgument
	// KindUnknownEntity means a referenced code, client or token does not exist.
	KindUnknownEntity
	// KindInsufficientPermissions means the caller is authenticated but not entitled to the entity.
	KindInsufficientPermissions
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindUnknownEntity:
		return "unknown_entity"
	case KindInsufficientPermissions:
		return "insufficient_permissions"
	default:
		return "internal"
	}
}

// Error is an error with a Kind and a message safe to return to the caller.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Authentication returns an authentication-class error.
func Authentication(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument returns an invalid-argument error.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// UnknownEntity returns an unknown-entity error.
func UnknownEntity(format string, args ...any) *Error {
	return &Error{Kind: KindUnknownEntity, Message: fmt.Sprintf(format, args...)}
}

// InsufficientPermissions returns an insufficient-permissions error.
func InsufficientPermissions(format string, args ...any) *Error {
	return &Error{Kind: KindInsufficientPermissions, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps a system failure.
func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal if err does not carry one.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err to the status code returned to the caller.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindUnknownEntity:
		return http.StatusNotFound
	case KindInsufficientPermissions:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// OAuthCode maps err to an RFC 6749 style error code.
func OAuthCode(err error) string {
	switch KindOf(err) {
	case KindAuthentication:
		return "invalid_client"
	case KindInvalidArgument:
		return "invalid_request"
	case KindUnknownEntity:
		return "not_found"
	case KindInsufficientPermissions:
		return "access_denied"
	default:
		return "server_error"
	}
}

// Description is the text shown to the caller. Internal errors are reported generically.
func Description(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Kind != KindInternal {
		return apiErr.Message
	}
	return "The server encountered an internal error."
}
