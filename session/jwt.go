package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryFromJWT extracts the exp claim from an access token when the backend
// omitted expires_at. The token is not verified; only its expiry is read,
// and a token that yields none is rejected upstream rather than stored.
func expiryFromJWT(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
