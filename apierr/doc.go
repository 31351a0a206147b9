// Package apierr normalizes failed HTTP exchanges into a small typed
// taxonomy (network, server, validation, unauthorized, forbidden, base)
// and broadcasts non-silent records on a shared exception stream.
package apierr
