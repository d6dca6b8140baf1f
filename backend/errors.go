package backend

import (
	"errors"
	"fmt"
)

// Well-known backend error codes.
const (
	ErrCodeInvalidState = "invalid_state"
	ErrCodeInvalidGrant = "invalid_grant"
	ErrCodeNotFound     = "not_found"
)

// APIError is an explicit error reported by the backend. Receiving one means
// the backend was reachable and spoke; anything else returned by the client
// is a transport failure and must never mutate authentication state.
type APIError struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error %s (%d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("backend error %s (%d)", e.Code, e.HTTPStatus)
}

// AsAPIError unwraps err into an *APIError if the backend reported one.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsInvalidGrant reports whether the backend explicitly rejected the stored
// credentials. This is the only error class that may clear tokens.
func IsInvalidGrant(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == ErrCodeInvalidGrant
}
