// Package token extracts advisory metadata from bearer tokens.
//
// The session core treats both tokens as opaque strings; nothing here feeds
// a gating decision. When the auth service happens to issue JWTs, ExpiryHint
// lets callers schedule a refresh before the access token lapses instead of
// discovering the expiry through a 401.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryHint returns the exp claim of a JWT-shaped token without verifying
// its signature. The second return is false when the token is not a JWT or
// carries no expiry; callers must fall back to reactive refresh in that case.
func ExpiryHint(tokenString string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// ExpiresWithin reports whether the token is known to expire within d.
// Opaque tokens yield false: absence of a hint is not evidence of expiry.
func ExpiresWithin(tokenString string, d time.Duration) bool {
	exp, ok := ExpiryHint(tokenString)
	if !ok {
		return false
	}
	return time.Until(exp) < d
}
