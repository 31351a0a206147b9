// Package auth owns the bearer-header lifecycle: it persists the JWT
// and refresh token, performs the refresh-token exchange exactly once
// per expiry event (single-flighted), and re-arms retried requests with
// the fresh token. Two operating strategies are supported: reactive
// (refresh after a 401) and proactive (refresh before sending when the
// token's expiry claim has passed).
package auth
