// Package client composes the request pipeline: deduplication, rate
// limiting, caller-supplied middleware, auth refresh, retry and the
// transport send, in that fixed order. Every failure is normalized to
// a typed apierr value and, unless the call is silent, broadcast on
// the client's exception stream.
package client
