// Package retry implements the retry controller: capped exponential
// backoff with no jitter, a configurable retryable-status set, and
// connection-error retry eligibility. Attempt counters are local to
// each Do call, so concurrent requests never share state.
package retry
