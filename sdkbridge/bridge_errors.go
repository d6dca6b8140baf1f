package sdkbridge

import "errors"

var (
	ErrMissingAccessToken = errors.New("no access token; sdk authorization requires an authenticated session")

	// ErrMissingLocationID is raised when a token set carries no location
	// id. The merchant id is never substituted: location-scoped
	// authorization is required for reader connectivity, so this state
	// requires re-authorization, not a degraded path.
	ErrMissingLocationID = errors.New("token set has no location id; re-authorization required")

	ErrAuthorizationInFlight = errors.New("sdk authorization already in progress")
)
