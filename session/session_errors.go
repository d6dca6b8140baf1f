package session

import "errors"

var (
	ErrMissingCSRFState       = errors.New("authorize response missing csrf state")
	ErrAuthTimeout            = errors.New("authorization timed out")
	ErrMissingExpiry          = errors.New("token set missing expiry")
	ErrNoPendingAuthorization = errors.New("no authorization in progress")
	ErrStateMismatch          = errors.New("callback state does not match pending authorization")
)
