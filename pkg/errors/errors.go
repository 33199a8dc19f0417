package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur while harvesting
type ErrorType string

const (
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeServerError   ErrorType = "server_error"
	ErrorTypeAuth          ErrorType = "auth"
	ErrorTypeBadRequest    ErrorType = "bad_request"
	ErrorTypeCursorExpired ErrorType = "cursor_expired"
	ErrorTypeParsing       ErrorType = "parsing"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeUnknown       ErrorType = "unknown"
)

var (
	// ErrQuotaExhausted signals the run budget is spent. It is an expected stop, not a failure.
	ErrQuotaExhausted = stderrors.New("request quota exhausted")
	// ErrCursorExpired signals the server no longer accepts the pagination cursor.
	ErrCursorExpired = stderrors.New("pagination cursor expired")
)

// Error represents an API error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (code %d): %s: %v", e.Type, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrCursorExpired) match typed cursor errors.
func (e *Error) Is(target error) bool {
	return target == ErrCursorExpired && e.Type == ErrorTypeCursorExpired
}

// New creates a typed error
func New(t ErrorType, code int, msg string) *Error {
	return &Error{Type: t, Code: code, Message: msg}
}

// Wrap creates a typed error around a cause
func Wrap(t ErrorType, code int, msg string, err error) *Error {
	return &Error{Type: t, Code: code, Message: msg, Err: err}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableError reports whether err carries a retryable type.
func IsRetryableError(err error) bool {
	var apiErr *Error
	if stderrors.As(err, &apiErr) {
		return IsRetryable(apiErr.Type)
	}
	return false
}

// TypeOf returns the ErrorType carried by err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var apiErr *Error
	if stderrors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ErrorTypeUnknown
}

// TypeForStatus maps an HTTP status code to an ErrorType
func TypeForStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 0:
		return ErrorTypeNetwork
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 500:
		return ErrorTypeServerError
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode == 400:
		return ErrorTypeBadRequest
	default:
		return ErrorTypeUnknown
	}
}
