// Package apperr defines the closed set of error kinds the service reports to
// clients. Every kind maps to exactly one HTTP status and one stable code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindInvalidRequest
	KindAuthentication
	KindAuthenticationRequired
	KindInvalidToken
	KindAuthorization
	KindForbidden
	KindNotFound
	KindConflict
	KindPayloadTooLarge
	KindRateLimitExceeded
	KindDatabase
	KindExternalService
)

func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindInvalidRequest:
		return "INVALID_REQUEST"
	case KindAuthentication:
		return "AUTHENTICATION_ERROR"
	case KindAuthenticationRequired:
		return "AUTHENTICATION_REQUIRED"
	case KindInvalidToken:
		return "INVALID_TOKEN"
	case KindAuthorization:
		return "AUTHORIZATION_ERROR"
	case KindForbidden:
		return "FORBIDDEN"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindPayloadTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case KindRateLimitExceeded:
		return "RATE_LIMIT_EXCEEDED"
	case KindDatabase:
		return "DATABASE_ERROR"
	case KindExternalService:
		return "EXTERNAL_SERVICE_ERROR"
	case KindInternal:
		return "INTERNAL_ERROR"
	}
	return "INTERNAL_ERROR"
}

func (k Kind) Status() int {
	switch k {
	case KindValidation, KindInvalidRequest:
		return http.StatusBadRequest
	case KindAuthentication, KindAuthenticationRequired, KindInvalidToken:
		return http.StatusUnauthorized
	case KindAuthorization, KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindExternalService:
		return http.StatusBadGateway
	case KindDatabase, KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// IsAuthentication reports whether k belongs to the 401 family.
func (k Kind) IsAuthentication() bool {
	return k == KindAuthentication || k == KindAuthenticationRequired || k == KindInvalidToken
}

// Error is the single error value the pipeline knows how to format.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Code() string {
	return e.Kind.Code()
}

func (e *Error) Status() int {
	return e.Kind.Status()
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error        { return New(KindValidation, message) }
func InvalidRequest(message string) *Error    { return New(KindInvalidRequest, message) }
func Authentication(message string) *Error    { return New(KindAuthentication, message) }
func InvalidToken(message string) *Error      { return New(KindInvalidToken, message) }
func Forbidden(message string) *Error         { return New(KindForbidden, message) }
func NotFound(message string) *Error          { return New(KindNotFound, message) }
func Conflict(message string) *Error          { return New(KindConflict, message) }
func PayloadTooLarge(message string) *Error   { return New(KindPayloadTooLarge, message) }
func RateLimitExceeded(message string) *Error { return New(KindRateLimitExceeded, message) }

func AuthenticationRequired(message string) *Error {
	return New(KindAuthenticationRequired, message)
}

func Database(message string, err error) *Error {
	return Wrap(KindDatabase, message, err)
}

func ExternalService(message string, err error) *Error {
	return Wrap(KindExternalService, message, err)
}

func Internal(message string, err error) *Error {
	return Wrap(KindInternal, message, err)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// From classifies any error. Errors outside the taxonomy become KindInternal
// with a generic message so their text never reaches a client.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}
	return Internal("An unexpected error occurred", err)
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}
