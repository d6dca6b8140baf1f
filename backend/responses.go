package backend

import (
	"time"

	"golang.org/x/oauth2"
)

// Status messages reported while an OAuth flow is still in flight.
const (
	StatusAuthorizationInProgress   = "authorization_in_progress"
	StatusLocationSelectionRequired = "location_selection_required"
	StatusInvalidState              = "invalid_state"
	StatusNotConnected              = "not_connected"
)

// Extra keys carried on *oauth2.Token values built from backend responses.
const (
	ExtraMerchantID = "merchant_id"
	ExtraLocationID = "location_id"
)

// AuthorizeResponse is the backend's answer to an authorize request: the URL
// to open in the external browser plus the CSRF state that keys all
// subsequent status polls.
type AuthorizeResponse struct {
	AuthorizeURL string `json:"authorize_url"`
	State        string `json:"state"`
}

// StatusResponse reports the connection state for a tenant identifier or an
// in-flight CSRF state. When Connected is true the token fields are expected
// to be fully populated.
type StatusResponse struct {
	Connected    bool   `json:"connected"`
	Message      string `json:"message,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	MerchantID   string `json:"merchant_id,omitempty"`
	LocationID   string `json:"location_id,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	NeedsRefresh bool   `json:"needs_refresh,omitempty"`

	// DeviceConflict reports that another device is active on the same
	// organization, which forces this install onto a device-scoped
	// tenant identifier.
	DeviceConflict bool `json:"device_conflict,omitempty"`
}

// Expiry parses the expires_at field. ok is false when the backend omitted
// it or sent something unparseable.
func (r *StatusResponse) Expiry() (time.Time, bool) {
	return parseExpiry(r.ExpiresAt)
}

// Token converts the response's credential fields into an *oauth2.Token with
// merchant and location ids attached as extras.
func (r *StatusResponse) Token() *oauth2.Token {
	expiry, _ := parseExpiry(r.ExpiresAt)
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    "bearer",
		Expiry:       expiry,
	}
	return tok.WithExtra(map[string]interface{}{
		ExtraMerchantID: r.MerchantID,
		ExtraLocationID: r.LocationID,
	})
}

// HasFullTokenSet reports whether the response carries everything needed to
// establish a session: tokens plus a location id. Merchant-only responses are
// incomplete (location-scoped authorization is required downstream).
func (r *StatusResponse) HasFullTokenSet() bool {
	return r.AccessToken != "" && r.RefreshToken != "" && r.MerchantID != "" && r.LocationID != ""
}

// refreshResponse mirrors StatusResponse's credential fields.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	MerchantID   string `json:"merchant_id"`
	LocationID   string `json:"location_id"`
	ExpiresAt    string `json:"expires_at"`
}

func (r *refreshResponse) token() *oauth2.Token {
	expiry, _ := parseExpiry(r.ExpiresAt)
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    "bearer",
		Expiry:       expiry,
	}
	return tok.WithExtra(map[string]interface{}{
		ExtraMerchantID: r.MerchantID,
		ExtraLocationID: r.LocationID,
	})
}

// TokenExtra reads a string extra from a token built by this package.
func TokenExtra(tok *oauth2.Token, key string) string {
	if tok == nil {
		return ""
	}
	if v, ok := tok.Extra(key).(string); ok {
		return v
	}
	return ""
}

func parseExpiry(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
