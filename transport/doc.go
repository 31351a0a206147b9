// Package transport defines the HTTP exchange port the pipeline talks to.
//
// It provides the Request/Response model, typed transport-level errors
// (timeout, connection, canceled), and a net/http-backed implementation
// with base-URL joining and optional download progress reporting.
package transport
