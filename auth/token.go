package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpired reports whether the attached JWT's expiry claim has
// passed (with leeway). Used by the proactive strategy to refresh
// before sending.
//
// A malformed or unparsable token is treated as expired so the next
// send triggers a refresh instead of a guaranteed 401. A token without
// an exp claim never expires.
func (o *Orchestrator) TokenExpired(leeway time.Duration) bool {
	header, ok := o.Header()
	if !ok {
		return false
	}
	return tokenExpired(strings.TrimPrefix(header, "Bearer "), leeway, time.Now())
}

func tokenExpired(token string, leeway time.Duration, now time.Time) bool {
	// Signature verification is the server's job; this layer only needs
	// the expiry claim.
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return true
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return true
	}
	if exp == nil {
		return false
	}
	return !exp.After(now.Add(leeway))
}
