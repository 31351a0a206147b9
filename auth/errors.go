package auth

import "errors"

// Sentinel errors for the token lifecycle.
var (
	// ErrRefreshDisabled is returned when no token resolver is
	// configured; the reactive 401 path then propagates the original
	// failure instead of refreshing.
	ErrRefreshDisabled = errors.New("auth: refresh disabled (no resolver configured)")

	// ErrNoRefreshToken is returned when a refresh is attempted
	// without a persisted refresh token.
	ErrNoRefreshToken = errors.New("auth: no refresh token available")

	// ErrRefreshFailed is returned when the refresh exchange did not
	// yield usable tokens.
	ErrRefreshFailed = errors.New("auth: token refresh failed")

	// ErrRefreshWaitAborted is returned when a caller's context ends
	// while awaiting an in-flight refresh. The exchange itself keeps
	// running for the remaining waiters.
	ErrRefreshWaitAborted = errors.New("auth: refresh wait aborted")
)
