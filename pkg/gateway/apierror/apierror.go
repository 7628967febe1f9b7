package apierror

import (
	"encoding/json"
	"net/http"
)

type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrUnavailable    ErrorType = "unavailable_error"
	ErrAPI            ErrorType = "api_error"
)

// Error is the JSON error body for every non-WebSocket response.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Type) + ": " + e.Message
}

type Envelope struct {
	Error *Error `json:"error"`
}

// Write encodes err as {"error":{...}}. A zero status is derived from the
// error type.
func Write(w http.ResponseWriter, status int, err *Error) {
	if err == nil {
		err = &Error{Type: ErrAPI, Message: "internal error"}
	}
	if status == 0 {
		status = StatusFor(err.Type)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: err})
}

// StatusFor maps an error type to its HTTP status.
func StatusFor(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
