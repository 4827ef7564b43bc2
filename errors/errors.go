// Package errors defines the structured error taxonomy for the notification
// engine. Every failure that crosses a component boundary is an *AppError so
// callers can classify it (retryable vs. terminal) without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	NetworkError          ErrorType = "NETWORK_UNREACHABLE"
	AuthExpiredError      ErrorType = "AUTHENTICATION_EXPIRED"
	ForbiddenError        ErrorType = "AUTHORIZATION_DENIED"
	NotFoundError         ErrorType = "NOT_FOUND"
	ValidationError       ErrorType = "VALIDATION_REJECTED"
	ServerError           ErrorType = "SERVER_ERROR"
	PermissionDeniedError ErrorType = "PERMISSION_DENIED"
	UnsupportedError      ErrorType = "UNSUPPORTED_CAPABILITY"
	MalformedMessageError ErrorType = "MALFORMED_MESSAGE"
	TimeoutError          ErrorType = "REQUEST_TIMEOUT"
	RateLimitedError      ErrorType = "RATE_LIMITED"
)

// AppError represents a structured application error.
type AppError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Raw        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Raw
}

// New creates a new AppError.
func New(errType ErrorType, message string, detail string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     detail,
		HTTPStatus: httpStatusFor(errType),
	}
}

// Wrap wraps a raw error with AppError context.
func Wrap(err error, errType ErrorType, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     err.Error(),
		HTTPStatus: httpStatusFor(errType),
		Raw:        err,
	}
}

// Helper constructors for common errors.

func NetworkUnreachable(err error) *AppError {
	return &AppError{
		Type:       NetworkError,
		Message:    "Network unreachable",
		Detail:     errDetail(err),
		HTTPStatus: 0,
		Raw:        err,
	}
}

func AuthenticationExpired(detail string) *AppError {
	return &AppError{
		Type:       AuthExpiredError,
		Message:    "Session credential expired",
		Detail:     detail,
		HTTPStatus: http.StatusUnauthorized,
	}
}

func Forbidden(message string, detail string) *AppError {
	return &AppError{
		Type:       ForbiddenError,
		Message:    message,
		Detail:     detail,
		HTTPStatus: http.StatusForbidden,
	}
}

func NotFound(entity string, id interface{}) *AppError {
	return &AppError{
		Type:       NotFoundError,
		Message:    fmt.Sprintf("%s not found", entity),
		Detail:     fmt.Sprintf("ID: %v", id),
		HTTPStatus: http.StatusNotFound,
	}
}

func ValidationFailed(message string, detail string) *AppError {
	return &AppError{
		Type:       ValidationError,
		Message:    message,
		Detail:     detail,
		HTTPStatus: http.StatusBadRequest,
	}
}

func InternalServerError(message string) *AppError {
	return &AppError{
		Type:       ServerError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// PermissionDenied is terminal: the user has declined the platform alert
// prompt. Detail carries actionable guidance for changing platform settings
// out of band; the engine never re-prompts.
func PermissionDenied(guidance string) *AppError {
	return &AppError{
		Type:    PermissionDeniedError,
		Message: "Platform alert permission denied",
		Detail:  guidance,
	}
}

// Unsupported is a sentinel, not a failure: the platform lacks the alert
// capability entirely and all alert operations degrade to no-ops.
func Unsupported(capability string) *AppError {
	return &AppError{
		Type:    UnsupportedError,
		Message: fmt.Sprintf("%s is not supported on this platform", capability),
	}
}

func MalformedMessage(err error) *AppError {
	return &AppError{
		Type:    MalformedMessageError,
		Message: "Malformed channel message",
		Detail:  errDetail(err),
		Raw:     err,
	}
}

// FromStatusCode maps an HTTP response status to the engine taxonomy.
func FromStatusCode(status int, detail string) *AppError {
	var errType ErrorType
	switch {
	case status == http.StatusUnauthorized:
		errType = AuthExpiredError
	case status == http.StatusForbidden:
		errType = ForbiddenError
	case status == http.StatusNotFound:
		errType = NotFoundError
	case status == http.StatusRequestTimeout:
		errType = TimeoutError
	case status == http.StatusTooManyRequests:
		errType = RateLimitedError
	case status >= 500:
		errType = ServerError
	case status >= 400:
		errType = ValidationError
	default:
		errType = ServerError
	}
	return &AppError{
		Type:       errType,
		Message:    fmt.Sprintf("Request failed with status %d", status),
		Detail:     detail,
		HTTPStatus: status,
	}
}

// IsRetryable reports whether an error represents a transient condition that
// a retry policy may attempt again. Network failures, timeouts, rate limits
// and server-side errors are retryable; everything else propagates
// immediately.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		// Unclassified errors are treated as transient network-level
		// failures (e.g. raw net.OpError from the HTTP client).
		return true
	}
	switch appErr.Type {
	case NetworkError, TimeoutError, RateLimitedError, ServerError:
		return true
	default:
		return false
	}
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

func httpStatusFor(errType ErrorType) int {
	switch errType {
	case ValidationError:
		return http.StatusBadRequest
	case NotFoundError:
		return http.StatusNotFound
	case AuthExpiredError:
		return http.StatusUnauthorized
	case ForbiddenError:
		return http.StatusForbidden
	case TimeoutError:
		return http.StatusRequestTimeout
	case RateLimitedError:
		return http.StatusTooManyRequests
	case NetworkError, PermissionDeniedError, UnsupportedError, MalformedMessageError:
		return 0
	default:
		return http.StatusInternalServerError
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
