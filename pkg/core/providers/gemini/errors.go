package gemini

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
)

// Error represents an API error from the Gemini Live endpoint.
type Error struct {
	Type       ErrorType
	Message    string
	Code       string
	HTTPStatus int
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gemini: %s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("gemini: %s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI:
		return true
	default:
		return false
	}
}

// classifyError maps SDK errors to *Error. Errors that did not come from
// the API are returned unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	var errType ErrorType
	switch apiErr.Status {
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		errType = ErrInvalidRequest
	case "UNAUTHENTICATED":
		errType = ErrAuthentication
	case "PERMISSION_DENIED":
		errType = ErrPermission
	case "NOT_FOUND":
		errType = ErrNotFound
	case "RESOURCE_EXHAUSTED":
		errType = ErrRateLimit
	case "INTERNAL":
		errType = ErrAPI
	case "UNAVAILABLE":
		errType = ErrOverloaded
	default:
		errType = ErrProvider
	}

	switch apiErr.Code {
	case http.StatusTooManyRequests:
		errType = ErrRateLimit
	case http.StatusServiceUnavailable:
		errType = ErrOverloaded
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = ErrAuthentication
	}

	return &Error{
		Type:       errType,
		Message:    apiErr.Message,
		Code:       apiErr.Status,
		HTTPStatus: apiErr.Code,
		Err:        err,
	}
}
